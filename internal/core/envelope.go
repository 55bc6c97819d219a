package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownKind = errors.New("unknown envelope kind")
)

// Kind routes every envelope on the real-time channel.
type Kind string

const (
	KindWelcome    Kind = "welcome"
	KindOffer      Kind = "offer"
	KindAnswer     Kind = "answer"
	KindCandidate  Kind = "candidate"
	KindJoinRoom   Kind = "join-room"
	KindLeaveRoom  Kind = "leave-room"
	KindRoomJoined Kind = "room-joined"
	KindRoomLeft   Kind = "room-left"
	KindUserJoined Kind = "user-joined"
	KindUserLeft   Kind = "user-left"
	KindPing       Kind = "ping"
	KindPong       Kind = "pong"
	KindError      Kind = "error"
)

// Error codes carried by ErrorMsg.
const (
	CodeBadPayload        = "bad_payload"
	CodeUnknownType       = "unknown_type"
	CodeRoomNotFound      = "room_not_found"
	CodeMissingTarget     = "missing_target"
	CodeTargetUnreachable = "target_unreachable"
	CodeRateLimited       = "rate_limited"
)

// Inbound is the closed set of envelopes a client may send.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Offer is a session description, sent point-to-point when To is set and to
// the sender's room otherwise.
type Offer struct {
	To      domain.ConnID
	Payload json.RawMessage
}

// Answer is always point-to-point.
type Answer struct {
	To      domain.ConnID
	Payload json.RawMessage
}

// Candidate is always point-to-point.
type Candidate struct {
	To      domain.ConnID
	Payload json.RawMessage
}

type JoinRoom struct {
	RoomID domain.RoomID
}

type LeaveRoom struct{}

type Ping struct{}

func (Offer) Kind() Kind     { return KindOffer }
func (Answer) Kind() Kind    { return KindAnswer }
func (Candidate) Kind() Kind { return KindCandidate }
func (JoinRoom) Kind() Kind  { return KindJoinRoom }
func (LeaveRoom) Kind() Kind { return KindLeaveRoom }
func (Ping) Kind() Kind      { return KindPing }

func (Offer) inbound()     {}
func (Answer) inbound()    {}
func (Candidate) inbound() {}
func (JoinRoom) inbound()  {}
func (LeaveRoom) inbound() {}
func (Ping) inbound()      {}

// rawEnvelope is the client wire shape. Any client-supplied "from" is
// discarded; payloads may arrive under their kind name or under "payload".
type rawEnvelope struct {
	Type      Kind            `json:"type"`
	To        string          `json:"to,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one client frame into its typed envelope.
// Unparseable input wraps ErrMalformed; a well-formed frame with an
// unsupported type wraps ErrUnknownKind.
func Decode(data []byte) (Inbound, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	to, err := domain.ParseConnID(raw.To)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrMalformed, err)
	}

	switch raw.Type {
	case KindOffer:
		payload := pick(raw.Offer, raw.Payload)
		if err := validateDescription(payload, webrtc.SDPTypeOffer); err != nil {
			return nil, err
		}
		return Offer{To: to, Payload: payload}, nil
	case KindAnswer:
		payload := pick(raw.Answer, raw.Payload)
		if err := validateDescription(payload, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer); err != nil {
			return nil, err
		}
		return Answer{To: to, Payload: payload}, nil
	case KindCandidate:
		payload := pick(raw.Candidate, raw.Payload)
		if err := validateCandidate(payload); err != nil {
			return nil, err
		}
		return Candidate{To: to, Payload: payload}, nil
	case KindJoinRoom:
		if raw.RoomID == "" {
			return nil, fmt.Errorf("%w: join-room requires roomId", ErrMalformed)
		}
		roomID, err := domain.ParseRoomID(raw.RoomID)
		if err != nil {
			return nil, fmt.Errorf("%w: roomId: %v", ErrMalformed, err)
		}
		return JoinRoom{RoomID: roomID}, nil
	case KindLeaveRoom:
		return LeaveRoom{}, nil
	case KindPing:
		return Ping{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Type)
	}
}

func pick(named, alias json.RawMessage) json.RawMessage {
	if !isNull(named) {
		return named
	}
	return alias
}

func isNull(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func validateDescription(payload json.RawMessage, allowed ...webrtc.SDPType) error {
	if isNull(payload) {
		return fmt.Errorf("%w: missing session description", ErrMalformed)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%w: session description: %v", ErrMalformed, err)
	}
	if desc.SDP == "" {
		return fmt.Errorf("%w: empty sdp", ErrMalformed)
	}
	for _, t := range allowed {
		if desc.Type == t {
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected sdp type %q", ErrMalformed, desc.Type.String())
}

// validateCandidate accepts the end-of-candidates form (empty candidate string)
// but requires a JSON object.
func validateCandidate(payload json.RawMessage) error {
	if isNull(payload) {
		return fmt.Errorf("%w: missing candidate", ErrMalformed)
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &init); err != nil {
		return fmt.Errorf("%w: candidate: %v", ErrMalformed, err)
	}
	return nil
}
