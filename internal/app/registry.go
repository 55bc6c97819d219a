package app

import (
	"sync"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn        core.SignalConnection
	RoomID      domain.RoomID
	ConnectedAt time.Time
}

// Registry tracks every live transport connection by its issued id.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
	newID func() domain.ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
		newID: domain.NewConnID,
	}
}

// Register stores conn under a fresh id. Ids held by live connections are
// never handed out again.
func (r *Registry) Register(conn core.SignalConnection) domain.ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for {
		if _, taken := r.conns[id]; !taken && id != domain.ServerCreator {
			break
		}
		id = r.newID()
	}
	r.conns[id] = &connEntry{Conn: conn, ConnectedAt: time.Now()}
	log.Info().Str("module", "app.registry").Str("conn_id", id.String()).Int("live", len(r.conns)).Msg("registered connection")
	return id
}

func (r *Registry) Lookup(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unregister is idempotent; it reports whether an entry was removed.
func (r *Registry) Unregister(id domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn_id", id.String()).Int("live", len(r.conns)).Msg("unregistered connection")
	return true
}

func (r *Registry) IsOpen(conn core.SignalConnection) bool {
	return conn != nil && conn.IsOpen()
}

func (r *Registry) RoomOf(id domain.ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

func (r *Registry) SetRoom(id domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.RoomID = room
	log.Debug().Str("module", "app.registry").Str("conn_id", id.String()).Str("room_id", room.String()).Msg("updated room")
	return true
}

func (r *Registry) ClearRoom(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.RoomID = ""
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) IDs() []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}
