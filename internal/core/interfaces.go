package core

import "time"

// PublishResult counts the outcome of one fan-out.
type PublishResult struct {
	SentTo      int
	Unreachable int
	Dropped     int
}

// RoomInfo is a read-only view for the control plane. It never carries
// member identities.
type RoomInfo struct {
	Exists      bool      `json:"exists"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}
