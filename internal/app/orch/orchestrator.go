package orch

import (
	"errors"
	"sync"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/app"
	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("orchestrator stopped")

type Options struct {
	// EmptyRoomTTL removes rooms that stayed empty this long; zero disables.
	EmptyRoomTTL  time.Duration
	JanitorPeriod time.Duration
	QueueSize     int
	// CreateRoomLimiter throttles control-plane room creation; nil allows all.
	CreateRoomLimiter *app.RateLimiter
}

// Orchestrator owns the Registry, RoomManager and Router. Every mutation
// runs on its single loop goroutine, so a join, leave or disconnect is never
// observed half done.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Router   *app.Router

	opts Options
	ops  chan func()
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(reg *app.Registry, rooms *app.RoomManager, router *app.Router, opts Options) *Orchestrator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.JanitorPeriod <= 0 {
		opts.JanitorPeriod = time.Minute
	}
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Router:   router,
		opts:     opts,
		ops:      make(chan func(), opts.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		log.Info().Str("module", "orch").Dur("empty_room_ttl", o.opts.EmptyRoomTTL).Msg("orchestrator started")
		go o.run()
	})
}

// Stop closes every live connection and waits for the loop to exit.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.quit) })
	// Never started: there is no loop to wait for.
	o.startOnce.Do(func() { close(o.done) })
	<-o.done
}

func (o *Orchestrator) run() {
	defer close(o.done)

	tick := time.NewTicker(o.opts.JanitorPeriod)
	defer tick.Stop()

	for {
		select {
		case fn := <-o.ops:
			fn()
			o.flushEvictions()
		case <-tick.C:
			o.janitor()
		case <-o.quit:
			o.closeAll()
			return
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (o *Orchestrator) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case o.ops <- func() { defer close(finished); fn() }:
	case <-o.quit:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-o.done:
		// The loop exited before reaching the op.
		return ErrStopped
	}
}

// Connect registers conn, sends the welcome envelope and returns the new id.
func (o *Orchestrator) Connect(conn core.SignalConnection) (domain.ConnID, error) {
	var id domain.ConnID
	err := o.do(func() {
		id = o.Registry.Register(conn)
		o.Router.Welcome(id)
	})
	return id, err
}

// Disconnect tears down id: it leaves its room, peers are told and the id is
// unregistered. Calling it again is harmless.
func (o *Orchestrator) Disconnect(id domain.ConnID) error {
	return o.do(func() { o.disconnect(id) })
}

// Dispatch decodes one raw frame from id and routes it. Frames from ids that
// are no longer registered are ignored.
func (o *Orchestrator) Dispatch(id domain.ConnID, data []byte) error {
	msg, decodeErr := core.Decode(data)
	return o.do(func() {
		if _, ok := o.Registry.Lookup(id); !ok {
			log.Debug().Str("module", "orch").Str("conn_id", id.String()).Msg("frame after teardown ignored")
			return
		}
		switch {
		case decodeErr == nil:
			o.Router.Route(id, msg)
		case errors.Is(decodeErr, core.ErrUnknownKind):
			log.Warn().Err(decodeErr).Str("module", "orch").Str("conn_id", id.String()).Msg("unknown signal")
			o.Router.Reply(id, core.NewError(core.CodeUnknownType, decodeErr.Error()))
		default:
			log.Warn().Err(decodeErr).Str("module", "orch").Str("conn_id", id.String()).Msg("bad payload")
			o.Router.Reply(id, core.NewError(core.CodeBadPayload, "Invalid message format"))
		}
	})
}

// Notify sends a server-originated envelope to id, e.g. a transport level
// rate-limit notice.
func (o *Orchestrator) Notify(id domain.ConnID, msg core.Outbound) error {
	return o.do(func() { o.Router.Reply(id, msg) })
}

func (o *Orchestrator) disconnect(id domain.ConnID) {
	if _, ok := o.Registry.Lookup(id); !ok {
		return
	}
	if res, ok := o.Rooms.Leave(id); ok {
		o.Router.AnnounceLeave(id, res)
	}
	o.Registry.Unregister(id)
	o.Router.Forget(id)
}

// flushEvictions force-closes connections the backpressure policy kicked.
// Tearing one down may overflow another peer, so it loops until quiet.
func (o *Orchestrator) flushEvictions() {
	for {
		ids := o.Router.DrainEvictions()
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			conn, ok := o.Registry.Lookup(id)
			if !ok {
				continue
			}
			log.Warn().Str("module", "orch").Str("conn_id", id.String()).Msg("kicking slow connection")
			o.disconnect(id)
			conn.Close()
		}
	}
}

// janitor expires idle rooms and drops stale limiter history.
func (o *Orchestrator) janitor() {
	if o.opts.EmptyRoomTTL > 0 {
		for _, id := range o.Rooms.ExpireEmpty(o.opts.EmptyRoomTTL) {
			log.Info().Str("module", "orch").Str("room_id", id.String()).Msg("expired empty room")
		}
	}
	if n := o.Router.Prune() + o.opts.CreateRoomLimiter.Prune(); n > 0 {
		log.Debug().Str("module", "orch").Int("keys", n).Msg("pruned limiter history")
	}
}

func (o *Orchestrator) closeAll() {
	ids := o.Registry.IDs()
	for _, id := range ids {
		conn, ok := o.Registry.Lookup(id)
		o.disconnect(id)
		if ok {
			conn.Close()
		}
	}
	log.Info().Str("module", "orch").Int("closed", len(ids)).Msg("orchestrator stopped")
}
