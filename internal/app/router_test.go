package app

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/core/mocks"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/pion/webrtc/v4"
	"go.uber.org/mock/gomock"
)

var offerSDP = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

type routerFixture struct {
	reg   *Registry
	rooms *RoomManager
	rt    *Router
}

func newRouterFixture(t *testing.T, opts RouterOptions) *routerFixture {
	t.Helper()
	reg := NewRegistry()
	rooms := NewRoomManager(reg)
	return &routerFixture{reg: reg, rooms: rooms, rt: NewRouter(reg, rooms, opts)}
}

func (f *routerFixture) room(t *testing.T, members ...domain.ConnID) domain.RoomID {
	t.Helper()
	id, err := f.rooms.CreateRoom("")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for _, m := range members {
		if _, err := f.rooms.Join(m, id); err != nil {
			t.Fatalf("Join %s: %v", m, err)
		}
	}
	return id
}

func TestRouter_DirectOfferStampsSender(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)
	b, cb := register(t, f.reg)

	f.rt.Route(a, core.Offer{To: b, Payload: offerSDP})

	got := cb.last(t)
	if got["type"] != "offer" || got["from"] != a.String() {
		t.Fatalf("b received %v", got)
	}
	if sdp := got["offer"].(map[string]any)["sdp"]; sdp != "v=0" {
		t.Fatalf("payload not forwarded unchanged: %v", got["offer"])
	}
	if len(ca.envelopes(t)) != 0 {
		t.Fatalf("sender received its own offer")
	}
}

func TestRouter_OfferWithoutTargetReachesOnlyRoomPeers(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)
	b, cb := register(t, f.reg)
	c, cc := register(t, f.reg)
	d, cd := register(t, f.reg)
	f.room(t, a, b, c)
	f.room(t, d)

	f.rt.Route(a, core.Offer{Payload: offerSDP})

	for _, peer := range []*fakeConn{cb, cc} {
		if got := peer.last(t); got["type"] != "offer" || got["from"] != a.String() {
			t.Fatalf("room peer received %v", got)
		}
	}
	if len(ca.envelopes(t)) != 0 || len(cd.envelopes(t)) != 0 {
		t.Fatalf("offer leaked outside the sender's room")
	}
}

func TestRouter_OfferWithoutTargetOrRoomIsDropped(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)
	_, cb := register(t, f.reg)

	f.rt.Route(a, core.Offer{Payload: offerSDP})

	if len(ca.envelopes(t))+len(cb.envelopes(t)) != 0 {
		t.Fatalf("offer with no target and no room was delivered")
	}
}

func TestRouter_PointToPointRequiresTarget(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)
	b, cb := register(t, f.reg)
	f.room(t, a, b)

	tests := []struct {
		name string
		msg  core.Inbound
	}{
		{"answer", core.Answer{Payload: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)}},
		{"candidate", core.Candidate{Payload: json.RawMessage(`{"candidate":""}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca.reset()
			f.rt.Route(a, tt.msg)
			got := ca.last(t)
			if got["type"] != "error" || got["code"] != core.CodeMissingTarget {
				t.Fatalf("sender received %v", got)
			}
			if len(cb.envelopes(t)) != 0 {
				t.Fatalf("%s without target reached a room peer", tt.name)
			}
		})
	}
}

func TestRouter_CandidateRelayedToTarget(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, _ := register(t, f.reg)
	b, cb := register(t, f.reg)

	f.rt.Route(a, core.Candidate{To: b, Payload: json.RawMessage(`{"candidate":"candidate:1 1 udp 1 1.2.3.4 5 typ host"}`)})

	got := cb.last(t)
	if got["type"] != "candidate" || got["from"] != a.String() || got["candidate"] == nil {
		t.Fatalf("b received %v", got)
	}
}

func TestRouter_UnreachableTarget(t *testing.T) {
	tests := []struct {
		name   string
		notify bool
		want   []string
	}{
		{"silent by default", false, nil},
		{"notify sender", true, []string{"error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, RouterOptions{NotifyUnreachable: tt.notify})
			a, ca := register(t, f.reg)

			f.rt.Route(a, core.Answer{To: "nobody", Payload: json.RawMessage(`{}`)})
			if got := ca.kinds(t); !slices.Equal(got, tt.want) {
				t.Fatalf("sender got %v, want %v", got, tt.want)
			}
			if tt.notify && ca.last(t)["code"] != core.CodeTargetUnreachable {
				t.Fatalf("error code = %v", ca.last(t)["code"])
			}
		})
	}
}

func TestRouter_SelfTargetIsNotDelivered(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{NotifyUnreachable: true})
	a, ca := register(t, f.reg)

	f.rt.Route(a, core.Offer{To: a, Payload: offerSDP})

	if got := ca.kinds(t); !slices.Equal(got, []string{"error"}) {
		t.Fatalf("sender got %v", got)
	}
}

func TestRouter_ClosedTargetIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newRouterFixture(t, RouterOptions{})
	a, _ := register(t, f.reg)

	closed := mocks.NewMockSignalConnection(ctrl)
	closed.EXPECT().IsOpen().Return(false)
	b := f.reg.Register(closed)

	f.rt.Route(a, core.Offer{To: b, Payload: offerSDP})
}

func TestRouter_BackpressureKicksByDefault(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newRouterFixture(t, RouterOptions{})
	a, _ := register(t, f.reg)

	slow := mocks.NewMockSignalConnection(ctrl)
	slow.EXPECT().IsOpen().Return(true).Times(2)
	slow.EXPECT().TrySend(gomock.Any()).Return(core.ErrBackpressure).Times(2)
	b := f.reg.Register(slow)

	f.rt.Route(a, core.Offer{To: b, Payload: offerSDP})
	f.rt.Route(a, core.Offer{To: b, Payload: offerSDP})

	if got := f.rt.DrainEvictions(); !slices.Equal(got, []domain.ConnID{b}) {
		t.Fatalf("evictions = %v, want [%s] once", got, b)
	}
	if got := f.rt.DrainEvictions(); len(got) != 0 {
		t.Fatalf("evictions not drained: %v", got)
	}
}

func TestRouter_DropPolicyKeepsConnection(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{Policy: DropPolicy{}})
	a, _ := register(t, f.reg)
	b, cb := register(t, f.reg)
	cb.full = true

	f.rt.Route(a, core.Offer{To: b, Payload: offerSDP})

	if got := f.rt.DrainEvictions(); len(got) != 0 {
		t.Fatalf("drop policy evicted %v", got)
	}
}

func TestRouter_JoinAnnouncesPresence(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)
	b, cb := register(t, f.reg)
	room := f.room(t, a)

	f.rt.Route(b, core.JoinRoom{RoomID: room})

	joined := cb.last(t)
	if joined["type"] != "room-joined" || joined["roomId"] != room.String() {
		t.Fatalf("joiner received %v", joined)
	}
	if members := joined["members"].([]any); len(members) != 1 || members[0] != a.String() {
		t.Fatalf("members = %v, want [%s]", members, a)
	}
	if got := ca.last(t); got["type"] != "user-joined" || got["clientId"] != b.String() {
		t.Fatalf("existing member received %v", got)
	}

	ca.reset()
	cb.reset()
	f.rt.Route(b, core.JoinRoom{RoomID: room})
	if len(ca.envelopes(t)) != 0 {
		t.Fatalf("rejoin was announced again")
	}
	if got := cb.kinds(t); !slices.Equal(got, []string{"room-joined"}) {
		t.Fatalf("rejoin reply = %v", got)
	}
}

func TestRouter_JoinEmptyRoomListsNoMembers(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)
	room := f.room(t)

	f.rt.Route(a, core.JoinRoom{RoomID: room})

	if members := ca.last(t)["members"].([]any); len(members) != 0 {
		t.Fatalf("members = %v", members)
	}
}

func TestRouter_JoinUnknownRoom(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)

	f.rt.Route(a, core.JoinRoom{RoomID: "missing"})

	got := ca.last(t)
	if got["type"] != "error" || got["code"] != core.CodeRoomNotFound || got["message"] != "Room not found" {
		t.Fatalf("sender received %v", got)
	}
	if f.rooms.Count() != 0 {
		t.Fatalf("join created a room")
	}
}

func TestRouter_JoinMovesAndTellsOldRoom(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, _ := register(t, f.reg)
	b, cb := register(t, f.reg)
	r1 := f.room(t, a, b)
	r2 := f.room(t)

	f.rt.Route(a, core.JoinRoom{RoomID: r2})

	got := cb.last(t)
	if got["type"] != "user-left" || got["clientId"] != a.String() || got["roomId"] != r1.String() {
		t.Fatalf("old room peer received %v", got)
	}
	assertConsistent(t, f.reg, f.rooms)
}

func TestRouter_LeaveRoom(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	a, ca := register(t, f.reg)
	b, cb := register(t, f.reg)
	room := f.room(t, a, b)

	f.rt.Route(a, core.LeaveRoom{})

	if got := ca.last(t); got["type"] != "room-left" || got["roomId"] != room.String() {
		t.Fatalf("leaver received %v", got)
	}
	if got := cb.last(t); got["type"] != "user-left" || got["clientId"] != a.String() {
		t.Fatalf("peer received %v", got)
	}

	ca.reset()
	f.rt.Route(a, core.LeaveRoom{})
	if len(ca.envelopes(t)) != 0 {
		t.Fatalf("leave outside a room produced %v", ca.kinds(t))
	}
}

func TestRouter_JoinLimiter(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{JoinLimiter: NewRateLimiter(1, time.Minute)})
	a, ca := register(t, f.reg)
	room := f.room(t)

	f.rt.Route(a, core.JoinRoom{RoomID: room})
	f.rt.Route(a, core.JoinRoom{RoomID: room})

	if got := ca.last(t); got["code"] != core.CodeRateLimited {
		t.Fatalf("second join = %v", got)
	}
	f.rt.Forget(a)
	ca.reset()
	f.rt.Route(a, core.JoinRoom{RoomID: room})
	if got := ca.last(t); got["type"] != "room-joined" {
		t.Fatalf("join after Forget = %v", got)
	}
}

func TestRouter_PingAndWelcome(t *testing.T) {
	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}
	f := newRouterFixture(t, RouterOptions{ICEServers: ice})
	f.rt.now = func() time.Time { return time.UnixMilli(1234) }
	a, ca := register(t, f.reg)

	f.rt.Welcome(a)
	f.rt.Route(a, core.Ping{})

	envs := ca.envelopes(t)
	if len(envs) != 2 {
		t.Fatalf("got %d envelopes", len(envs))
	}
	welcome := envs[0]
	if welcome["type"] != "welcome" || welcome["clientId"] != a.String() || welcome["message"] == "" {
		t.Fatalf("welcome = %v", welcome)
	}
	if servers := welcome["iceServers"].([]any); len(servers) != 1 {
		t.Fatalf("iceServers = %v", servers)
	}
	if pong := envs[1]; pong["type"] != "pong" || pong["at"] != float64(1234) {
		t.Fatalf("pong = %v", pong)
	}
}

func TestRouter_BroadcastCountsOutcomes(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{Policy: DropPolicy{}})
	ok, _ := register(t, f.reg)
	slow, cslow := register(t, f.reg)
	gone, cgone := register(t, f.reg)
	cslow.full = true
	cgone.Close()

	res := f.rt.broadcastFrame([]domain.ConnID{ok, slow, gone, "never-registered"}, core.Frame(`{"type":"pong","at":1}`))

	want := core.PublishResult{SentTo: 1, Dropped: 1, Unreachable: 2}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}
}

func TestBackpressureActions(t *testing.T) {
	if got := (SimplePolicy{}).OnBackPressure("x"); got != KickMember || got.String() != "kick" {
		t.Fatalf("SimplePolicy = %v", got)
	}
	if got := (DropPolicy{}).OnBackPressure("x"); got != DropFrame || got.String() != "drop" {
		t.Fatalf("DropPolicy = %v", got)
	}
}
