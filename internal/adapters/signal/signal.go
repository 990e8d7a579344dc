// Package signal is the websocket adapter for the signaling relay: one
// authenticated channel per client, read/write pumps, and decode-once
// dispatch into the registry and relay.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/signaling/internal/app"
	"github.com/hireloop/signaling/internal/config"
	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
	"github.com/hireloop/signaling/internal/store"
)

const (
	writeWait   = 5 * time.Second
	pongWait    = 60 * time.Second
	sendBufSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Registry *app.Registry
	Relay    *app.Relay
	Rooms    *store.Rooms
	Limiter  *app.JoinRateLimiter
	Policy   app.Policy
	Cfg      *config.Config
}

// wsConn wraps a websocket with a buffered send queue. TrySend never
// blocks; a full queue is backpressure and the policy decides the rest.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// clientSession is the per-channel state owned by the read pump.
type clientSession struct {
	sid         core.SessionID
	uid         domain.UserID
	conn        *wsConn
	roomID      domain.RoomID // set after a successful join
	participant *domain.Participant
}

// HandleSignal upgrades an authenticated request into a signaling channel.
// The JWT middleware has already placed the verified user_id in the context;
// requests without it never get here.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("user_id"))
	if uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := &wsConn{conn: ws, send: make(chan core.Frame, sendBufSize)}
	sess := &clientSession{sid: sid, uid: uid, conn: conn}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(uid)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, sess)
		cancel()
	}()
}

func (ctl *Controller) sendEvent(conn *wsConn, env *core.Envelope) {
	data, err := core.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode event")
		return
	}
	_ = conn.TrySend(data)
}

func (ctl *Controller) sendError(conn *wsConn, err error) {
	ctl.sendEvent(conn, core.MustEnvelope(core.EventError, "", "", "", core.ErrorPayload{
		Code:    core.ErrorCode(err),
		Message: err.Error(),
	}))
}

// fanOut broadcasts an event to a room and applies the backpressure policy
// to members that could not accept it.
func (ctl *Controller) fanOut(roomID domain.RoomID, except domain.UserID, env *core.Envelope) {
	data, err := core.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode broadcast")
		return
	}
	res := ctl.Registry.Broadcast(roomID, except, data)
	for _, slow := range res.Dropped {
		if ctl.Policy != nil && ctl.Policy.OnBackPressure(roomID, slow) == app.KickMember {
			ctl.Registry.Kick(roomID, slow)
			ctl.fanOut(roomID, slow, core.MustEnvelope(core.EventParticipantLeft, roomID, "", "",
				core.ParticipantLeftPayload{UserID: slow}))
		}
	}
}
