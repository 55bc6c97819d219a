package app

import (
	"slices"
	"sync"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinResult describes a completed join. Others never contains the joiner.
type JoinResult struct {
	RoomID domain.RoomID
	Others []domain.ConnID
	// Moved is set when the connection first left a different room.
	Moved *LeaveResult
	// Already is true when the connection was a member before the call;
	// nobody needs to be told about it.
	Already bool
}

type LeaveResult struct {
	RoomID    domain.RoomID
	Remaining []domain.ConnID
	// Removed is true when cleanup deleted the now empty room.
	Removed bool
}

type RoomOption func(*RoomManager)

// WithMaxRooms caps live rooms; zero means unlimited.
func WithMaxRooms(n int) RoomOption {
	return func(m *RoomManager) { m.maxRooms = n }
}

func WithClock(now func() time.Time) RoomOption {
	return func(m *RoomManager) { m.now = now }
}

// RoomManager owns room records. Membership is mirrored into the Registry so
// that a connection's room equals R iff it is in R's member set.
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]*domain.Room
	reg      *Registry
	maxRooms int
	now      func() time.Time
}

func NewRoomManager(reg *Registry, opts ...RoomOption) *RoomManager {
	m := &RoomManager{
		rooms: make(map[domain.RoomID]*domain.Room),
		reg:   reg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RoomManager) CreateRoom(creator domain.ConnID) (domain.RoomID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxRooms > 0 && len(m.rooms) >= m.maxRooms {
		log.Warn().Str("module", "app.rooms").Int("rooms", len(m.rooms)).Msg("room limit reached")
		return "", domain.ErrTooManyRooms
	}
	id := domain.NewRoomID()
	for _, taken := m.rooms[id]; taken; _, taken = m.rooms[id] {
		id = domain.NewRoomID()
	}
	room := domain.NewRoom(id, creator, m.now())
	m.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room_id", id.String()).Str("created_by", room.CreatedBy.String()).Msg("room created")
	return id, nil
}

// Join fails with ErrRoomNotFound without touching any state. A connection
// already in another room is moved out of it first.
func (m *RoomManager) Join(id domain.ConnID, roomID domain.RoomID) (JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return JoinResult{}, domain.ErrRoomNotFound
	}
	if _, ok := m.reg.Lookup(id); !ok {
		return JoinResult{}, domain.ErrConnNotFound
	}

	res := JoinResult{RoomID: roomID}
	if room.Has(id) {
		res.Already = true
		res.Others = sorted(room.Others(id))
		return res, nil
	}

	if current, ok := m.reg.RoomOf(id); ok {
		if left, ok := m.leaveLocked(id, current); ok {
			res.Moved = &left
		}
	}

	room.Members[id] = struct{}{}
	room.EmptySince = time.Time{}
	m.reg.SetRoom(id, roomID)
	res.Others = sorted(room.Others(id))
	log.Info().Str("module", "app.rooms").Str("conn_id", id.String()).Str("room_id", roomID.String()).Int("members", room.Len()).Msg("member joined")
	return res, nil
}

// Leave is a no-op for connections outside any room.
func (m *RoomManager) Leave(id domain.ConnID) (LeaveResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.reg.RoomOf(id)
	if !ok {
		return LeaveResult{}, false
	}
	return m.leaveLocked(id, roomID)
}

func (m *RoomManager) leaveLocked(id domain.ConnID, roomID domain.RoomID) (LeaveResult, bool) {
	m.reg.ClearRoom(id)
	room, ok := m.rooms[roomID]
	if !ok || !room.Has(id) {
		return LeaveResult{}, false
	}
	delete(room.Members, id)
	res := LeaveResult{
		RoomID:    roomID,
		Remaining: sorted(room.Others(id)),
		Removed:   m.cleanupLocked(roomID),
	}
	log.Info().Str("module", "app.rooms").Str("conn_id", id.String()).Str("room_id", roomID.String()).Int("members", len(res.Remaining)).Msg("member left")
	return res, true
}

// Cleanup deletes the room if it has no members and reports whether it did.
func (m *RoomManager) Cleanup(roomID domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked(roomID)
}

func (m *RoomManager) cleanupLocked(roomID domain.RoomID) bool {
	room, ok := m.rooms[roomID]
	if !ok || room.Len() > 0 {
		return false
	}
	delete(m.rooms, roomID)
	log.Info().Str("module", "app.rooms").Str("room_id", roomID.String()).Msg("room removed")
	return true
}

// ExpireEmpty removes rooms that have had no members for at least ttl,
// which covers rooms that were created but never joined.
func (m *RoomManager) ExpireEmpty(ttl time.Duration) []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var expired []domain.RoomID
	for id, room := range m.rooms {
		if room.Len() > 0 || room.EmptySince.IsZero() {
			continue
		}
		if now.Sub(room.EmptySince) >= ttl {
			delete(m.rooms, id)
			expired = append(expired, id)
		}
	}
	return expired
}

// Members returns the room's members minus exclude.
func (m *RoomManager) Members(roomID domain.RoomID, exclude domain.ConnID) []domain.ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return sorted(room.Others(exclude))
}

func (m *RoomManager) Info(roomID domain.RoomID) core.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return core.RoomInfo{}
	}
	return core.RoomInfo{Exists: true, MemberCount: room.Len(), CreatedAt: room.CreatedAt}
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func sorted(ids []domain.ConnID) []domain.ConnID {
	slices.Sort(ids)
	return ids
}
