package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type RoomID string

// ServerCreator marks rooms created through the control plane, not by a connection.
const ServerCreator ConnID = "server"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrTooManyRooms      = errors.New("too many rooms")
	ErrNotInRoom         = errors.New("connection is not in a room")
	ErrTargetUnreachable = errors.New("target unreachable")
	ErrMissingTarget     = errors.New("missing target")
)

func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}

func (id RoomID) String() string { return string(id) }

func ParseRoomID(s string) (RoomID, error) {
	if len(s) > MaxIDLen {
		return "", ErrIDTooLong
	}
	return RoomID(s), nil
}

// Room is a named group of connections negotiating with each other.
// Member order is irrelevant; EmptySince is zero while the room is occupied.
type Room struct {
	ID         RoomID
	CreatedAt  time.Time
	CreatedBy  ConnID
	Members    map[ConnID]struct{}
	EmptySince time.Time
}

func NewRoom(id RoomID, createdBy ConnID, now time.Time) *Room {
	if createdBy == "" {
		createdBy = ServerCreator
	}
	return &Room{
		ID:         id,
		CreatedAt:  now,
		CreatedBy:  createdBy,
		Members:    make(map[ConnID]struct{}),
		EmptySince: now,
	}
}

func (r *Room) Has(id ConnID) bool {
	_, ok := r.Members[id]
	return ok
}

func (r *Room) Len() int { return len(r.Members) }

// Others returns every member except the excluded one.
func (r *Room) Others(exclude ConnID) []ConnID {
	out := make([]ConnID, 0, len(r.Members))
	for id := range r.Members {
		if id == exclude {
			continue
		}
		out = append(out, id)
	}
	return out
}
