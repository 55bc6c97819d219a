package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/app/orch"
	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"
)

type Options struct {
	AllowedOrigins    []string
	ReadLimit         int64
	PingPeriod        time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
}

func (o *Options) withDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	opts.withDefaults()
	return &SignalWSController{
		Orch: o,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return OriginAllowed(r.Header.Get("Origin"), opts.AllowedOrigins)
			},
		},
	}
}

// WsSignalConn implements core.SignalConnection over one websocket.
// Frames are queued on send and written by writePump only.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Close stops accepting frames. writePump drains what is queued, sends a
// close frame and releases the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString(ClientTokenKey)
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("client_token", token).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	id, err := ctl.Orch.Connect(conn)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("register connection")
		conn.Close()
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn_id", id.String()).Str("client_token", token).Str("remote", ws.RemoteAddr().String()).Msg("new WS connection")

	var limiter *rate.Limiter
	if ctl.opts.MessagesPerSecond > 0 {
		burst := ctl.opts.MessageBurst
		if burst <= 0 {
			burst = int(ctl.opts.MessagesPerSecond)
		}
		limiter = rate.NewLimiter(rate.Limit(ctl.opts.MessagesPerSecond), max(burst, 1))
	}

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, conn) })
	// readPump ends by closing conn, which lets writePump drain and exit.
	wg.Go(func() { ctl.readPump(id, conn, limiter) })
	wg.Wait()
	log.Info().Str("module", "signal").Str("conn_id", id.String()).Msg("WS connection finished")
}
