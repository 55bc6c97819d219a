package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Target is where a relayed envelope goes: one connection or a whole room.
type Target interface {
	isTarget()
}

type Direct struct {
	ID domain.ConnID
}

type RoomBroadcast struct {
	Room domain.RoomID
}

func (Direct) isTarget()        {}
func (RoomBroadcast) isTarget() {}

type RouterOptions struct {
	Policy Policy
	// NotifyUnreachable sends the sender an error envelope when a
	// point-to-point target is unknown or closed.
	NotifyUnreachable bool
	ICEServers        []webrtc.ICEServer
	JoinLimiter       *RateLimiter
}

// Router turns inbound envelopes into deliveries. It is not safe for
// concurrent use; the orchestrator serializes every call.
type Router struct {
	reg   *Registry
	rooms *RoomManager
	opts  RouterOptions

	evict   []domain.ConnID
	evicted map[domain.ConnID]struct{}
	now     func() time.Time
}

func NewRouter(reg *Registry, rooms *RoomManager, opts RouterOptions) *Router {
	if opts.Policy == nil {
		opts.Policy = SimplePolicy{}
	}
	return &Router{
		reg:     reg,
		rooms:   rooms,
		opts:    opts,
		evicted: make(map[domain.ConnID]struct{}),
		now:     time.Now,
	}
}

// Route dispatches one decoded envelope from sender.
func (rt *Router) Route(sender domain.ConnID, msg core.Inbound) {
	switch m := msg.(type) {
	case core.Offer:
		rt.RouteOffer(sender, m)
	case core.Answer:
		rt.RouteAnswer(sender, m)
	case core.Candidate:
		rt.RouteCandidate(sender, m)
	case core.JoinRoom, core.LeaveRoom, core.Ping:
		rt.RouteControl(sender, m)
	default:
		rt.Reply(sender, core.NewError(core.CodeUnknownType, fmt.Sprintf("unsupported message type %q", msg.Kind())))
	}
}

// RouteOffer goes to To when set, else to the sender's room. Without either
// the offer is dropped.
func (rt *Router) RouteOffer(sender domain.ConnID, m core.Offer) {
	target, err := rt.offerTarget(sender, m.To)
	if err != nil {
		log.Debug().Str("module", "app.router").Str("conn_id", sender.String()).Msg("offer dropped: no target and no room")
		return
	}
	rt.relay(sender, target, core.NewRelayed(core.KindOffer, sender, m.Payload))
}

func (rt *Router) RouteAnswer(sender domain.ConnID, m core.Answer) {
	rt.routePointToPoint(sender, m.To, core.NewRelayed(core.KindAnswer, sender, m.Payload))
}

func (rt *Router) RouteCandidate(sender domain.ConnID, m core.Candidate) {
	rt.routePointToPoint(sender, m.To, core.NewRelayed(core.KindCandidate, sender, m.Payload))
}

func (rt *Router) routePointToPoint(sender, to domain.ConnID, msg core.Relayed) {
	if to == "" {
		log.Warn().Str("module", "app.router").Str("conn_id", sender.String()).Str("type", string(msg.Type)).Msg("rejected: missing target")
		rt.Reply(sender, core.NewError(core.CodeMissingTarget, fmt.Sprintf("%s requires a 'to' field", msg.Type)))
		return
	}
	rt.relay(sender, Direct{ID: to}, msg)
}

func (rt *Router) offerTarget(sender, to domain.ConnID) (Target, error) {
	if to != "" {
		return Direct{ID: to}, nil
	}
	if room, ok := rt.reg.RoomOf(sender); ok {
		return RoomBroadcast{Room: room}, nil
	}
	return nil, domain.ErrNotInRoom
}

func (rt *Router) relay(sender domain.ConnID, target Target, msg core.Relayed) {
	frame, err := core.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("relay encode")
		return
	}
	switch t := target.(type) {
	case Direct:
		if t.ID == sender {
			rt.unreachable(sender, t.ID, msg.Type)
			return
		}
		if err := rt.sendFrame(t.ID, frame); err != nil {
			rt.unreachable(sender, t.ID, msg.Type)
			return
		}
		log.Debug().Str("module", "app.router").Str("from", sender.String()).Str("to", t.ID.String()).Str("type", string(msg.Type)).Msg("relayed")
	case RoomBroadcast:
		res := rt.broadcastFrame(rt.rooms.Members(t.Room, sender), frame)
		log.Debug().Str("module", "app.router").Str("from", sender.String()).Str("room_id", t.Room.String()).Int("sent_to", res.SentTo).Int("dropped", res.Dropped).Int("unreachable", res.Unreachable).Msg("broadcast result")
	}
}

func (rt *Router) unreachable(sender, to domain.ConnID, kind core.Kind) {
	log.Warn().Str("module", "app.router").Str("from", sender.String()).Str("to", to.String()).Str("type", string(kind)).Msg("target unreachable, dropped")
	if rt.opts.NotifyUnreachable {
		rt.Reply(sender, core.NewError(core.CodeTargetUnreachable, fmt.Sprintf("client %s is not reachable", to)))
	}
}

// RouteControl handles room membership and keepalive requests.
func (rt *Router) RouteControl(sender domain.ConnID, msg core.Inbound) {
	switch m := msg.(type) {
	case core.JoinRoom:
		rt.join(sender, m.RoomID)
	case core.LeaveRoom:
		res, ok := rt.rooms.Leave(sender)
		if !ok {
			return
		}
		rt.AnnounceLeave(sender, res)
		rt.Reply(sender, core.NewRoomLeft(res.RoomID))
	case core.Ping:
		rt.Reply(sender, core.NewPong(rt.now()))
	}
}

func (rt *Router) join(sender domain.ConnID, roomID domain.RoomID) {
	if !rt.opts.JoinLimiter.Allow(sender.String()) {
		rt.Reply(sender, core.NewError(core.CodeRateLimited, "too many join attempts"))
		return
	}
	res, err := rt.rooms.Join(sender, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			log.Info().Str("module", "app.router").Str("conn_id", sender.String()).Str("room_id", roomID.String()).Msg("join: room not found")
			rt.Reply(sender, core.NewError(core.CodeRoomNotFound, "Room not found"))
			return
		}
		log.Error().Err(err).Str("module", "app.router").Str("conn_id", sender.String()).Msg("join failed")
		return
	}
	if res.Moved != nil {
		rt.AnnounceLeave(sender, *res.Moved)
	}
	rt.Reply(sender, core.NewRoomJoined(res.RoomID, res.Others))
	if res.Already {
		return
	}
	if frame, err := core.Encode(core.NewUserJoined(sender, res.RoomID)); err == nil {
		rt.broadcastFrame(res.Others, frame)
	}
}

// AnnounceLeave tells the remaining members that id left.
func (rt *Router) AnnounceLeave(id domain.ConnID, res LeaveResult) {
	if len(res.Remaining) == 0 {
		return
	}
	frame, err := core.Encode(core.NewUserLeft(id, res.RoomID))
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("user-left encode")
		return
	}
	rt.broadcastFrame(res.Remaining, frame)
}

// Welcome greets a freshly registered connection with its id.
func (rt *Router) Welcome(id domain.ConnID) {
	rt.Reply(id, core.NewWelcome(id, rt.opts.ICEServers))
}

// Reply sends a server-originated envelope to one connection.
func (rt *Router) Reply(id domain.ConnID, msg core.Outbound) {
	frame, err := core.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("reply encode")
		return
	}
	if err := rt.sendFrame(id, frame); err != nil {
		log.Debug().Err(err).Str("module", "app.router").Str("conn_id", id.String()).Str("type", string(msg.Kind())).Msg("reply not delivered")
	}
}

func (rt *Router) broadcastFrame(ids []domain.ConnID, frame core.Frame) core.PublishResult {
	var res core.PublishResult
	for _, id := range ids {
		switch err := rt.sendFrame(id, frame); {
		case err == nil:
			res.SentTo++
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped++
		default:
			res.Unreachable++
		}
	}
	return res
}

func (rt *Router) sendFrame(id domain.ConnID, frame core.Frame) error {
	conn, ok := rt.reg.Lookup(id)
	if !ok {
		return domain.ErrConnNotFound
	}
	if !rt.reg.IsOpen(conn) {
		return core.ErrConnClosed
	}
	err := conn.TrySend(frame)
	if errors.Is(err, core.ErrBackpressure) {
		rt.onBackpressure(id)
	}
	return err
}

func (rt *Router) onBackpressure(id domain.ConnID) {
	action := rt.opts.Policy.OnBackPressure(id)
	log.Warn().Str("module", "app.router").Str("conn_id", id.String()).Str("action", action.String()).Msg("send buffer full")
	if action != KickMember {
		return
	}
	if _, queued := rt.evicted[id]; queued {
		return
	}
	rt.evicted[id] = struct{}{}
	rt.evict = append(rt.evict, id)
}

// DrainEvictions hands over the connections the policy decided to kick.
func (rt *Router) DrainEvictions() []domain.ConnID {
	out := rt.evict
	rt.evict = nil
	clear(rt.evicted)
	return out
}

// Forget releases per-connection router state after teardown.
func (rt *Router) Forget(id domain.ConnID) {
	rt.opts.JoinLimiter.Forget(id.String())
}

// Prune drops limiter history that fell out of its window.
func (rt *Router) Prune() int {
	return rt.opts.JoinLimiter.Prune()
}
