package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aveles/syncroom/internal/auth"
	"github.com/aveles/syncroom/internal/config"
	"github.com/aveles/syncroom/internal/core"
	"github.com/aveles/syncroom/internal/domain"
	"github.com/aveles/syncroom/internal/session"
	"github.com/aveles/syncroom/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller accepts signaling connections, authenticates them, and runs
// their read loops. Identity is fixed at upgrade time for the whole life of
// the connection; changing identity means reconnecting.
type Controller struct {
	cfg      *config.Config
	verifier auth.Verifier
	reg      *Registry
	bcast    *session.Broadcaster
	log      zerolog.Logger
}

func NewController(cfg *config.Config, verifier auth.Verifier, reg *Registry, bcast *session.Broadcaster) *Controller {
	return &Controller{
		cfg:      cfg,
		verifier: verifier,
		reg:      reg,
		bcast:    bcast,
		log:      log.With().Str("module", "relay").Logger(),
	}
}

// connState is the per-connection mutable state. Only the connection's own
// read loop touches it, so no lock is needed.
type connState struct {
	identity auth.Identity
	room     domain.RoomID
}

// HandleWS upgrades an authenticated signaling connection. The bearer token
// rides the "token" query parameter (browsers cannot set WebSocket headers)
// or the Authorization header; rejection happens before the upgrade.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
			token = h[7:]
		}
	}

	identity, err := ctl.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		ctl.log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("rejected signaling connection")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctl.log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := newConn(uuid.NewString(), ws, ctl.cfg.SendBuffer, ctl.cfg.WriteWait, ctl.cfg.PingPeriod, ctl.log)
	if old := ctl.reg.Bind(identity.UserID, conn); old != nil {
		old.Close()
	}
	ctl.log.Info().Str("user", string(identity.UserID)).Str("conn", conn.id).Msg("signaling connection open")

	go conn.writePump()
	go ctl.readPump(ctx, conn, &connState{identity: identity})
}

func (ctl *Controller) readPump(ctx context.Context, conn *Conn, st *connState) {
	uid := st.identity.UserID
	defer func() {
		// Cleanup belongs to whichever connection is still current. A
		// displaced socket must not remove the participant its
		// replacement just re-joined.
		if ctl.reg.Unbind(uid, conn) && st.room != "" {
			if err := ctl.bcast.Remove(ctx, st.room, uid); err != nil {
				ctl.log.Error().Err(err).Str("user", string(uid)).Msg("disconnect cleanup")
			}
		}
		conn.Close()
		ctl.log.Info().Str("user", string(uid)).Str("conn", conn.id).Msg("signaling connection closed")
	}()

	pongWait := ctl.cfg.PingPeriod * 10 / 9
	conn.ws.SetReadLimit(ctl.cfg.ReadLimit)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := conn.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					ctl.log.Debug().Err(err).Str("user", string(uid)).Msg("read error")
				}
				return
			}
			ctl.dispatch(ctx, conn, st, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, conn *Conn, st *connState, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(conn, "malformed message")
		return
	}

	switch env.Type {
	case wire.TypeJoin:
		ctl.handleJoin(ctx, conn, st, data)
	case wire.TypeLeave:
		ctl.handleLeave(ctx, st)
	case wire.TypePlaybackUpdate:
		ctl.handlePlayback(ctx, conn, st, data)
	case wire.TypeShareRequest:
		ctl.handleShareRequest(ctx, conn, st)
	case wire.TypeShareStop:
		ctl.handleShareStop(ctx, st)
	case wire.TypeSignal:
		ctl.handleSignal(st, data)
	case wire.TypeChat:
		ctl.handleChat(ctx, conn, st, data)
	case wire.TypeReaction:
		ctl.handleReaction(ctx, conn, st, data)
	case wire.TypeTyping:
		ctl.handleTyping(ctx, st, data)
	case wire.TypePing:
		ctl.sendJSON(conn, wire.Envelope{Type: wire.TypePong})
	default:
		ctl.log.Debug().Str("type", env.Type).Msg("unknown message type")
		ctl.sendError(conn, "unknown message type")
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, conn *Conn, st *connState, data []byte) {
	var msg wire.Join
	if err := json.Unmarshal(data, &msg); err != nil || msg.RoomID == "" {
		ctl.sendError(conn, "bad join payload")
		return
	}

	// Moving rooms on one connection leaves the old room first.
	if st.room != "" && st.room != msg.RoomID {
		if err := ctl.bcast.Remove(ctx, st.room, st.identity.UserID); err != nil {
			ctl.log.Error().Err(err).Str("room", string(st.room)).Msg("leave on room switch")
		}
	}

	user := domain.User{
		ID:          st.identity.UserID,
		DisplayName: st.identity.DisplayName,
		AvatarRef:   st.identity.AvatarRef,
	}
	sess, err := ctl.bcast.Join(ctx, msg.RoomID, user)
	if err != nil {
		ctl.log.Error().Err(err).Str("room", string(msg.RoomID)).Msg("join failed")
		ctl.sendError(conn, "join failed")
		return
	}
	st.room = msg.RoomID

	ctl.sendJSON(conn, wire.Joined{Type: wire.TypeJoined, Session: sess, Roster: sess.Participants})
}

func (ctl *Controller) handleLeave(ctx context.Context, st *connState) {
	if st.room == "" {
		return
	}
	if err := ctl.bcast.Remove(ctx, st.room, st.identity.UserID); err != nil {
		ctl.log.Error().Err(err).Str("room", string(st.room)).Msg("leave failed")
	}
	st.room = ""
}

func (ctl *Controller) handlePlayback(ctx context.Context, conn *Conn, st *connState, data []byte) {
	if st.room == "" {
		ctl.sendError(conn, "not in a room")
		return
	}
	var msg wire.PlaybackUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(conn, "bad playback payload")
		return
	}
	if _, err := ctl.bcast.Playback(ctx, st.room, st.identity.UserID, msg.State); err != nil {
		if errors.Is(err, session.ErrInvalidPlayback) {
			ctl.sendError(conn, "invalid playback state")
			return
		}
		ctl.log.Error().Err(err).Str("room", string(st.room)).Msg("playback update failed")
	}
}

func (ctl *Controller) handleShareRequest(ctx context.Context, conn *Conn, st *connState) {
	if st.room == "" {
		ctl.sendError(conn, "not in a room")
		return
	}
	err := ctl.bcast.StartShare(ctx, st.room, st.identity.UserID)
	if errors.Is(err, session.ErrPresenterBusy) {
		ctl.sendError(conn, "another presenter is active")
		return
	}
	if err != nil {
		ctl.log.Error().Err(err).Str("room", string(st.room)).Msg("share request failed")
		ctl.sendError(conn, "share request failed")
	}
}

func (ctl *Controller) handleShareStop(ctx context.Context, st *connState) {
	if st.room == "" {
		return
	}
	if err := ctl.bcast.StopShare(ctx, st.room, st.identity.UserID); err != nil {
		ctl.log.Error().Err(err).Str("room", string(st.room)).Msg("share stop failed")
	}
}

// handleSignal forwards a negotiation envelope to its target by identity.
// The relay never interprets the payload and never retains it; an absent
// target is a silent drop on the wire, logged for the operator only.
func (ctl *Controller) handleSignal(st *connState, data []byte) {
	var sig wire.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		ctl.log.Debug().Err(err).Msg("bad signal payload")
		return
	}
	if sig.TargetID == "" || sig.TargetID == st.identity.UserID {
		ctl.log.Debug().Str("target", string(sig.TargetID)).Msg("signal with unusable target dropped")
		return
	}

	target, ok := ctl.reg.Conn(sig.TargetID)
	if !ok {
		ctl.log.Debug().Str("target", string(sig.TargetID)).Msg("signal target offline, dropped")
		return
	}

	sig.SenderID = st.identity.UserID
	out, err := json.Marshal(sig)
	if err != nil {
		ctl.log.Error().Err(err).Msg("signal re-marshal")
		return
	}
	if err := target.TrySend(core.Frame(out)); err != nil {
		ctl.log.Warn().Err(err).Str("target", string(sig.TargetID)).Msg("signal delivery failed")
	}
}

func (ctl *Controller) handleChat(ctx context.Context, conn *Conn, st *connState, data []byte) {
	if st.room == "" {
		ctl.sendError(conn, "not in a room")
		return
	}
	var msg wire.Chat
	if err := json.Unmarshal(data, &msg); err != nil || msg.Content == "" {
		ctl.sendError(conn, "bad chat payload")
		return
	}
	user := domain.User{
		ID:          st.identity.UserID,
		DisplayName: st.identity.DisplayName,
		AvatarRef:   st.identity.AvatarRef,
	}
	if err := ctl.bcast.Chat(ctx, st.room, user, msg.Content); err != nil {
		ctl.log.Error().Err(err).Str("room", string(st.room)).Msg("chat failed")
	}
}

func (ctl *Controller) handleReaction(ctx context.Context, conn *Conn, st *connState, data []byte) {
	if st.room == "" {
		ctl.sendError(conn, "not in a room")
		return
	}
	var msg wire.Reaction
	if err := json.Unmarshal(data, &msg); err != nil || msg.Emoji == "" {
		ctl.sendError(conn, "bad reaction payload")
		return
	}
	if err := ctl.bcast.React(ctx, st.room, st.identity.UserID, msg.Emoji); err != nil {
		ctl.log.Error().Err(err).Str("room", string(st.room)).Msg("reaction failed")
	}
}

// handleTyping is fire-and-forget: typing indicators arrive at keystroke
// rate, so a stray one outside a room is dropped rather than answered with an
// error frame.
func (ctl *Controller) handleTyping(ctx context.Context, st *connState, data []byte) {
	if st.room == "" {
		return
	}
	var msg wire.Typing
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := ctl.bcast.Typing(ctx, st.room, st.identity.UserID, msg.IsTyping); err != nil {
		ctl.log.Debug().Err(err).Str("room", string(st.room)).Msg("typing relay failed")
	}
}

func (ctl *Controller) sendJSON(conn *Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		ctl.log.Error().Err(err).Msg("send marshal")
		return
	}
	if err := conn.TrySend(core.Frame(data)); err != nil {
		ctl.log.Warn().Err(err).Str("conn", conn.id).Msg("send failed")
	}
}

func (ctl *Controller) sendError(conn *Conn, reason string) {
	ctl.sendJSON(conn, wire.Error{Type: wire.TypeError, Reason: reason})
}
