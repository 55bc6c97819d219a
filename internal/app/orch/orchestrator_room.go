package orch

import (
	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
)

// CreateRoom allocates an empty room. creator may be empty for rooms made
// through the control plane.
func (o *Orchestrator) CreateRoom(creator domain.ConnID) (domain.RoomID, error) {
	var (
		id  domain.RoomID
		err error
	)
	if doErr := o.do(func() { id, err = o.Rooms.CreateRoom(creator) }); doErr != nil {
		return "", doErr
	}
	return id, err
}

// AllowCreate reports whether key may create another room now. It does not
// go through the loop; the limiter has its own lock.
func (o *Orchestrator) AllowCreate(key string) bool {
	return o.opts.CreateRoomLimiter.Allow(key)
}

// RoomInfo never exposes member identities.
func (o *Orchestrator) RoomInfo(id domain.RoomID) (core.RoomInfo, error) {
	var info core.RoomInfo
	err := o.do(func() { info = o.Rooms.Info(id) })
	return info, err
}

func (o *Orchestrator) ActiveRoomCount() (int, error) {
	var n int
	err := o.do(func() { n = o.Rooms.Count() })
	return n, err
}

func (o *Orchestrator) ConnectionCount() (int, error) {
	var n int
	err := o.do(func() { n = o.Registry.Len() })
	return n, err
}
