package app

import "github.com/MigueldsBatista/anyscreen/internal/domain"

type BackpressureAction int

const (
	// DropFrame loses the frame and keeps the connection.
	DropFrame BackpressureAction = iota
	// KickMember force-closes the connection; teardown runs as usual.
	KickMember
)

func (a BackpressureAction) String() string {
	if a == KickMember {
		return "kick"
	}
	return "drop"
}

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(id domain.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return KickMember
}

// DropPolicy only loses the frame; useful when clients retry on their own.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return DropFrame
}
