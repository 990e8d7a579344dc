package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/signaling/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sess *clientSession) {
	defer func() {
		ctl.handleDisconnect(sess)
		sess.conn.Close()
		log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump closing")
	}()

	sess.conn.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = sess.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.conn.SetPongHandler(func(string) error {
		return sess.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := sess.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, sess, data)
		}
	}
}

// dispatch decodes the envelope once and routes by type. Sender identity
// and room scope are stamped from server-side session state, never trusted
// from the wire.
func (ctl *Controller) dispatch(ctx context.Context, sess *clientSession, data []byte) {
	env, err := core.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("bad envelope")
		ctl.sendError(sess.conn, err)
		return
	}

	env.SenderID = sess.uid
	if env.Type != core.EventJoinRoom {
		env.RoomID = sess.roomID
	}

	switch env.Type {
	case core.EventJoinRoom:
		ctl.handleJoin(ctx, sess, env)
	case core.EventLeaveRoom:
		ctl.handleLeave(sess)
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
		if err := ctl.Relay.Forward(env); err != nil {
			ctl.sendError(sess.conn, err)
		}
	case core.EventMediaStateChange:
		ctl.handleMediaState(sess, env)
	case core.EventStartRecording:
		ctl.handleRecording(sess, env, true)
	case core.EventStopRecording:
		ctl.handleRecording(sess, env, false)
	case core.EventShareFile:
		ctl.handleShareFile(sess, env)
	default:
		// server-emitted types arriving from a client
		ctl.sendError(sess.conn, core.ErrUnknownEvent)
	}
}
