package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, append([]byte(nil), fr...))
	return nil
}

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) envelopes(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err != nil {
			t.Fatalf("frame is not json: %v (%s)", err, fr)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) kinds(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range f.envelopes(t) {
		out = append(out, m["type"].(string))
	}
	return out
}

func (f *fakeConn) last(t *testing.T) map[string]any {
	t.Helper()
	envs := f.envelopes(t)
	if len(envs) == 0 {
		t.Fatalf("no frames received")
	}
	return envs[len(envs)-1]
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// assertConsistent checks that a connection's room is R iff it is in R's members.
func assertConsistent(t *testing.T, reg *Registry, rooms *RoomManager) {
	t.Helper()
	rooms.mu.RLock()
	defer rooms.mu.RUnlock()
	for roomID, room := range rooms.rooms {
		for id := range room.Members {
			got, ok := reg.RoomOf(id)
			if !ok || got != roomID {
				t.Fatalf("member %s of %s has room %q (ok=%v)", id, roomID, got, ok)
			}
		}
	}
	for _, id := range reg.IDs() {
		roomID, ok := reg.RoomOf(id)
		if !ok {
			continue
		}
		room, exists := rooms.rooms[roomID]
		if !exists || !room.Has(id) {
			t.Fatalf("connection %s points at %s but is not a member", id, roomID)
		}
	}
}

func register(t *testing.T, reg *Registry) (domain.ConnID, *fakeConn) {
	t.Helper()
	c := &fakeConn{}
	return reg.Register(c), c
}
