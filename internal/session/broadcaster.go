// Package session holds the server-side state broadcaster: it owns every
// per-room state transition (roster, playback, presenter) and fans the
// resulting messages out to room members. Delivery is fire-and-forget; only
// per-recipient ordering is guaranteed, by the connection's send queue.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aveles/syncroom/internal/core"
	"github.com/aveles/syncroom/internal/domain"
	"github.com/aveles/syncroom/internal/wire"
)

var (
	ErrPresenterBusy   = errors.New("another presenter is active")
	ErrInvalidPlayback = errors.New("invalid playback state")
)

// Directory resolves a stable participant identity to its currently live
// connection. Implemented by the relay registry.
type Directory interface {
	Conn(id domain.UserID) (core.SignalConn, bool)
}

type Broadcaster struct {
	store core.SessionStore
	dir   Directory
	log   zerolog.Logger
	now   func() time.Time
}

func NewBroadcaster(store core.SessionStore, dir Directory) *Broadcaster {
	return &Broadcaster{
		store: store,
		dir:   dir,
		log:   log.With().Str("module", "session").Logger(),
		now:   time.Now,
	}
}

// Join adds user to the room's roster, creating the session on first join
// (the first joiner becomes host). Duplicate joins are idempotent no-ops on
// the roster but still return current state. Other members only hear about
// the roster when it actually changed; with a presenter active, the presenter
// is told to offer to the newcomer.
func (b *Broadcaster) Join(ctx context.Context, room domain.RoomID, user domain.User) (*domain.Session, error) {
	if _, err := b.store.CreateIfAbsent(ctx, room, domain.NewSession(room, user.ID)); err != nil {
		return nil, err
	}

	p := domain.Participant{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		AvatarRef:   user.AvatarRef,
		JoinedAt:    b.now().UTC(),
	}
	roster, changed, err := b.store.AddParticipant(ctx, room, p)
	if err != nil {
		return nil, err
	}

	// Re-read after the atomic add: a share that started between the seed
	// snapshot and the add must still reach this joiner, both in the returned
	// session and through the presenter's offerRequest.
	sess, err := b.store.Get(ctx, room)
	if err != nil {
		return nil, err
	}

	if changed {
		b.broadcast(roster, user.ID, wire.RosterChanged{Type: wire.TypeRosterChanged, Roster: roster})
		if sess.PresenterID != nil && *sess.PresenterID != user.ID {
			b.sendTo(*sess.PresenterID, wire.OfferRequest{Type: wire.TypeOfferRequest, ForUserID: user.ID})
			b.log.Info().Str("room", string(room)).Str("user", string(user.ID)).Str("presenter", string(*sess.PresenterID)).Msg("late join, offer requested")
		}
	}
	b.log.Info().Str("room", string(room)).Str("user", string(user.ID)).Bool("changed", changed).Msg("join")
	return sess, nil
}

// Playback persists a playback update with a server-assigned timestamp and
// fans it out to everyone but the originator, who already applied it locally.
func (b *Broadcaster) Playback(ctx context.Context, room domain.RoomID, from domain.UserID, state domain.PlaybackState) (domain.PlaybackState, error) {
	if state.Position < 0 {
		return domain.PlaybackState{}, ErrInvalidPlayback
	}
	state.SyncedAt = b.now().UTC()
	if err := b.store.SetPlayback(ctx, room, state); err != nil {
		return domain.PlaybackState{}, err
	}

	roster, err := b.roster(ctx, room)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	b.broadcast(roster, from, wire.PlaybackChanged{Type: wire.TypePlaybackChanged, State: state})
	return state, nil
}

// StartShare records the presenter and announces the share to the whole room.
// A second identity asking to present while one is active is rejected.
func (b *Broadcaster) StartShare(ctx context.Context, room domain.RoomID, presenter domain.UserID) error {
	sess, err := b.store.Get(ctx, room)
	if err != nil {
		return err
	}
	if sess.PresenterID != nil && *sess.PresenterID != presenter {
		return ErrPresenterBusy
	}
	if err := b.store.SetPresenter(ctx, room, &presenter); err != nil {
		return err
	}
	b.broadcast(sess.Participants, "", wire.ShareStarted{Type: wire.TypeShareStarted, PresenterID: presenter})
	b.log.Info().Str("room", string(room)).Str("presenter", string(presenter)).Msg("share started")
	return nil
}

// StopShare clears presenter state if held by the caller and announces the
// stop. Stopping when not presenting is a no-op.
func (b *Broadcaster) StopShare(ctx context.Context, room domain.RoomID, presenter domain.UserID) error {
	sess, err := b.store.Get(ctx, room)
	if err != nil {
		return err
	}
	if sess.PresenterID == nil || *sess.PresenterID != presenter {
		return nil
	}
	if err := b.store.SetPresenter(ctx, room, nil); err != nil {
		return err
	}
	b.broadcast(sess.Participants, "", wire.ShareStopped{Type: wire.TypeShareStopped, PresenterID: presenter})
	b.log.Info().Str("room", string(room)).Str("presenter", string(presenter)).Msg("share stopped")
	return nil
}

// Remove takes a participant out of the room, whether by explicit leave or by
// connection loss. The removal is idempotent: a leave immediately followed by
// the disconnect cleanup runs the transition once. Presenter status is
// released, and an empty room is archived.
func (b *Broadcaster) Remove(ctx context.Context, room domain.RoomID, uid domain.UserID) error {
	roster, changed, err := b.store.RemoveParticipant(ctx, room, uid)
	if errors.Is(err, core.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	sess, err := b.store.Get(ctx, room)
	if err == nil && sess.PresenterID != nil && *sess.PresenterID == uid {
		if err := b.store.SetPresenter(ctx, room, nil); err == nil {
			b.broadcast(roster, "", wire.ShareStopped{Type: wire.TypeShareStopped, PresenterID: uid})
			b.log.Info().Str("room", string(room)).Str("presenter", string(uid)).Msg("presenter left, share stopped")
		}
	}

	b.broadcast(roster, "", wire.RosterChanged{Type: wire.TypeRosterChanged, Roster: roster})

	if len(roster) == 0 {
		if err := b.store.Archive(ctx, room); err != nil {
			b.log.Error().Err(err).Str("room", string(room)).Msg("archive failed")
		}
	}
	b.log.Info().Str("room", string(room)).Str("user", string(uid)).Msg("participant removed")
	return nil
}

// Chat relays a chat line to the whole room with a server timestamp. Messages
// are transient; persistence belongs to the external message store.
func (b *Broadcaster) Chat(ctx context.Context, room domain.RoomID, from domain.User, content string) error {
	roster, err := b.roster(ctx, room)
	if err != nil {
		return err
	}
	b.broadcast(roster, "", wire.ChatMessage{
		Type:       wire.TypeChatMessage,
		SenderID:   from.ID,
		SenderName: from.DisplayName,
		Content:    content,
		SentAt:     b.now().UTC(),
	})
	return nil
}

// Typing relays a typing indicator to everyone but the typist. Purely
// advisory: no persistence, no timestamp.
func (b *Broadcaster) Typing(ctx context.Context, room domain.RoomID, from domain.UserID, active bool) error {
	roster, err := b.roster(ctx, room)
	if err != nil {
		return err
	}
	b.broadcast(roster, from, wire.UserTyping{Type: wire.TypeUserTyping, SenderID: from, IsTyping: active})
	return nil
}

// React fans an emoji reaction out to the whole room.
func (b *Broadcaster) React(ctx context.Context, room domain.RoomID, from domain.UserID, emoji string) error {
	roster, err := b.roster(ctx, room)
	if err != nil {
		return err
	}
	b.broadcast(roster, "", wire.Reaction{Type: wire.TypeReaction, SenderID: from, Emoji: emoji, SentAt: b.now().UTC()})
	return nil
}

func (b *Broadcaster) roster(ctx context.Context, room domain.RoomID) ([]domain.Participant, error) {
	sess, err := b.store.Get(ctx, room)
	if err != nil {
		return nil, err
	}
	return sess.Participants, nil
}

// broadcast fans v out to every roster member except the given identity.
// Pass the empty id to reach everyone. Undeliverable members are skipped.
func (b *Broadcaster) broadcast(roster []domain.Participant, except domain.UserID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Msg("broadcast marshal")
		return
	}
	for _, p := range roster {
		if p.UserID == except {
			continue
		}
		conn, ok := b.dir.Conn(p.UserID)
		if !ok {
			continue
		}
		if err := conn.TrySend(core.Frame(data)); err != nil {
			b.log.Warn().Err(err).Str("user", string(p.UserID)).Msg("broadcast send failed")
		}
	}
}

func (b *Broadcaster) sendTo(id domain.UserID, v any) {
	conn, ok := b.dir.Conn(id)
	if !ok {
		b.log.Debug().Str("user", string(id)).Msg("recipient offline, message dropped")
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Msg("send marshal")
		return
	}
	if err := conn.TrySend(core.Frame(data)); err != nil {
		b.log.Warn().Err(err).Str("user", string(id)).Msg("send failed")
	}
}
