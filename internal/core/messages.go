package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Outbound is anything the server puts on the wire.
type Outbound interface {
	Kind() Kind
}

const welcomeText = "Connected to signaling server!"

type Welcome struct {
	Type       Kind               `json:"type"`
	ClientID   domain.ConnID      `json:"clientId"`
	Message    string             `json:"message"`
	ICEServers []webrtc.ICEServer `json:"iceServers,omitempty"`
}

type RoomJoined struct {
	Type    Kind            `json:"type"`
	RoomID  domain.RoomID   `json:"roomId"`
	Members []domain.ConnID `json:"members"`
}

type RoomLeft struct {
	Type   Kind          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

// Presence is user-joined / user-left.
type Presence struct {
	Type     Kind          `json:"type"`
	ClientID domain.ConnID `json:"clientId"`
	RoomID   domain.RoomID `json:"roomId"`
}

// Relayed is a forwarded offer, answer or candidate. From is always stamped
// by the server; the payload sits under the field named after its kind.
type Relayed struct {
	Type      Kind            `json:"type"`
	From      domain.ConnID   `json:"from"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type Pong struct {
	Type Kind  `json:"type"`
	At   int64 `json:"at"`
}

type ErrorMsg struct {
	Type    Kind   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m Welcome) Kind() Kind    { return m.Type }
func (m RoomJoined) Kind() Kind { return m.Type }
func (m RoomLeft) Kind() Kind   { return m.Type }
func (m Presence) Kind() Kind   { return m.Type }
func (m Relayed) Kind() Kind    { return m.Type }
func (m Pong) Kind() Kind       { return m.Type }
func (m ErrorMsg) Kind() Kind   { return m.Type }

func NewWelcome(id domain.ConnID, ice []webrtc.ICEServer) Welcome {
	return Welcome{Type: KindWelcome, ClientID: id, Message: welcomeText, ICEServers: ice}
}

func NewRoomJoined(room domain.RoomID, members []domain.ConnID) RoomJoined {
	if members == nil {
		members = []domain.ConnID{}
	}
	return RoomJoined{Type: KindRoomJoined, RoomID: room, Members: members}
}

func NewRoomLeft(room domain.RoomID) RoomLeft {
	return RoomLeft{Type: KindRoomLeft, RoomID: room}
}

func NewUserJoined(id domain.ConnID, room domain.RoomID) Presence {
	return Presence{Type: KindUserJoined, ClientID: id, RoomID: room}
}

func NewUserLeft(id domain.ConnID, room domain.RoomID) Presence {
	return Presence{Type: KindUserLeft, ClientID: id, RoomID: room}
}

// NewRelayed panics on kinds other than offer, answer and candidate.
func NewRelayed(kind Kind, from domain.ConnID, payload json.RawMessage) Relayed {
	m := Relayed{Type: kind, From: from}
	switch kind {
	case KindOffer:
		m.Offer = payload
	case KindAnswer:
		m.Answer = payload
	case KindCandidate:
		m.Candidate = payload
	default:
		panic(fmt.Sprintf("core: %q is not a relayable kind", kind))
	}
	return m
}

func NewPong(now time.Time) Pong {
	return Pong{Type: KindPong, At: now.UnixMilli()}
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: KindError, Code: code, Message: message}
}

func Encode(m Outbound) (Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return Frame(b), nil
}
