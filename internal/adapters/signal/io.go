package signal

import (
	"context"
	"time"

	"github.com/MigueldsBatista/anyscreen/internal/core"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// writePump is the only writer of the socket. It exits once Close has been
// called and the queue is drained, or on server shutdown.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			ctl.flush(c)
			return
		case data, ok := <-c.send:
			if !ok {
				ctl.writeClose(c)
				return
			}
			if err := ctl.write(c, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// flush writes what is already queued and then the close frame.
func (ctl *SignalWSController) flush(c *WsSignalConn) {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				ctl.writeClose(c)
				return
			}
			if err := ctl.write(c, data); err != nil {
				return
			}
		default:
			ctl.writeClose(c)
			return
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, data core.Frame) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ctl *SignalWSController) writeClose(c *WsSignalConn) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump is the only reader of the socket. When it returns the connection
// has already been torn down in the orchestrator, so nothing it sent can be
// routed afterwards.
func (ctl *SignalWSController) readPump(id domain.ConnID, c *WsSignalConn, limiter *rate.Limiter) {
	defer func() {
		if err := ctl.Orch.Disconnect(id); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn_id", id.String()).Msg("disconnect")
		}
		c.Close()
		log.Info().Str("module", "signal").Str("conn_id", id.String()).Msg("readPump closing")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn_id", id.String()).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))

		if limiter != nil && !limiter.Allow() {
			log.Warn().Str("module", "signal").Str("conn_id", id.String()).Msg("message rate exceeded, dropped")
			_ = ctl.Orch.Notify(id, core.NewError(core.CodeRateLimited, "too many messages"))
			continue
		}
		if err := ctl.Orch.Dispatch(id, data); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn_id", id.String()).Msg("dispatch")
			return
		}
	}
}
