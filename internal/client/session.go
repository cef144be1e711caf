package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aveles/syncroom/internal/domain"
	"github.com/aveles/syncroom/internal/rtc"
	"github.com/aveles/syncroom/internal/wire"
)

// Handlers receives session events. Nil fields are skipped. All callbacks run
// on the client's read loop or event pump; keep them short.
type Handlers struct {
	OnJoined       func(*domain.Session)
	OnRoster       func([]domain.Participant)
	OnPlayback     func(domain.PlaybackState)
	OnShareStarted func(domain.UserID)
	OnShareStopped func(domain.UserID)
	OnChat         func(wire.ChatMessage)
	OnReaction     func(wire.Reaction)
	OnTyping       func(wire.UserTyping)
	OnTrack        func(rtc.RemoteTrackEvent)
	OnPeerState    func(rtc.PeerStateEvent)
	OnError        func(reason string)
}

// Client drives one participant's session: relay messages in, coordinator
// negotiation out. The read loop is the sole mutator of roster and presenter
// state; commands may run from any goroutine.
type Client struct {
	self  domain.UserID
	sock  *Socket
	coord *rtc.Coordinator
	h     Handlers
	log   zerolog.Logger

	mu          sync.Mutex
	roster      []domain.Participant
	presenter   domain.UserID // empty when nobody shares
	localTracks []webrtc.TrackLocal
}

func New(self domain.UserID, sock *Socket, factory rtc.TransportFactory, h Handlers) *Client {
	return &Client{
		self:  self,
		sock:  sock,
		coord: rtc.NewCoordinator(self, factory),
		h:     h,
		log:   log.With().Str("module", "client").Str("self", string(self)).Logger(),
	}
}

// Run reads relay messages until the context ends or the socket fails. It
// owns teardown: on exit every peer link is destroyed and the socket closed.
func (c *Client) Run(ctx context.Context) error {
	go c.pumpEvents()
	defer func() {
		c.coord.Destroy()
		c.sock.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			data, err := c.sock.Read()
			if err != nil {
				return fmt.Errorf("signaling read: %w", err)
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) Join(room domain.RoomID) error {
	return c.sock.Send(wire.Join{Type: wire.TypeJoin, RoomID: room})
}

func (c *Client) Leave() error {
	c.coord.CloseAll("")
	return c.sock.Send(wire.Envelope{Type: wire.TypeLeave})
}

func (c *Client) SendPlayback(state domain.PlaybackState) error {
	return c.sock.Send(wire.PlaybackUpdate{Type: wire.TypePlaybackUpdate, State: state})
}

// RequestShare asks the room for the presenter slot. The given tracks are
// attached to every link the coordinator opens once the share is granted.
func (c *Client) RequestShare(tracks ...webrtc.TrackLocal) error {
	c.mu.Lock()
	c.localTracks = tracks
	c.mu.Unlock()
	return c.sock.Send(wire.Envelope{Type: wire.TypeShareRequest})
}

func (c *Client) StopShare() error {
	return c.sock.Send(wire.Envelope{Type: wire.TypeShareStop})
}

func (c *Client) Chat(content string) error {
	return c.sock.Send(wire.Chat{Type: wire.TypeChat, Content: content})
}

func (c *Client) React(emoji string) error {
	return c.sock.Send(wire.Reaction{Type: wire.TypeReaction, Emoji: emoji})
}

func (c *Client) Typing(active bool) error {
	return c.sock.Send(wire.Typing{Type: wire.TypeTyping, IsTyping: active})
}

func (c *Client) Ping() error {
	return c.sock.Send(wire.Envelope{Type: wire.TypePing})
}

func (c *Client) dispatch(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("bad server frame")
		return
	}

	switch env.Type {
	case wire.TypeJoined:
		var msg wire.Joined
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.setRoster(msg.Roster)
		if msg.Session != nil && msg.Session.PresenterID != nil {
			c.setPresenter(*msg.Session.PresenterID)
		}
		if c.h.OnJoined != nil {
			c.h.OnJoined(msg.Session)
		}

	case wire.TypeRosterChanged:
		var msg wire.RosterChanged
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.setRoster(msg.Roster)
		if c.h.OnRoster != nil {
			c.h.OnRoster(msg.Roster)
		}

	case wire.TypePlaybackChanged:
		var msg wire.PlaybackChanged
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if c.h.OnPlayback != nil {
			c.h.OnPlayback(msg.State)
		}

	case wire.TypeShareStarted:
		var msg wire.ShareStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.setPresenter(msg.PresenterID)
		if msg.PresenterID == c.self {
			c.offerToRoom()
		}
		if c.h.OnShareStarted != nil {
			c.h.OnShareStarted(msg.PresenterID)
		}

	case wire.TypeShareStopped:
		var msg wire.ShareStopped
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.setPresenter("")
		if msg.PresenterID == c.self {
			c.coord.CloseAll("")
		} else {
			c.coord.CloseLink(msg.PresenterID)
		}
		if c.h.OnShareStopped != nil {
			c.h.OnShareStopped(msg.PresenterID)
		}

	case wire.TypeOfferRequest:
		var msg wire.OfferRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		// Only the active presenter is ever asked to offer.
		c.sendOffer(msg.ForUserID)

	case wire.TypeSignal:
		var sig wire.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			return
		}
		c.handleSignal(sig)

	case wire.TypeChatMessage:
		var msg wire.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if c.h.OnChat != nil {
			c.h.OnChat(msg)
		}

	case wire.TypeReaction:
		var msg wire.Reaction
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if c.h.OnReaction != nil {
			c.h.OnReaction(msg)
		}

	case wire.TypeUserTyping:
		var msg wire.UserTyping
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if c.h.OnTyping != nil {
			c.h.OnTyping(msg)
		}

	case wire.TypeError:
		var msg wire.Error
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.log.Warn().Str("reason", msg.Reason).Msg("server error")
		if c.h.OnError != nil {
			c.h.OnError(msg.Reason)
		}

	case wire.TypePong:
		// keepalive, nothing to do

	default:
		c.log.Debug().Str("type", env.Type).Msg("unknown server message")
	}
}

// handleSignal feeds a relayed negotiation envelope into the coordinator and
// answers inbound offers. Negotiation errors never kill the session; the
// affected link fails on its own.
func (c *Client) handleSignal(sig wire.Signal) {
	peer := sig.SenderID
	if peer == "" {
		return
	}

	switch sig.Kind {
	case wire.SignalOffer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &offer); err != nil {
			c.log.Warn().Err(err).Str("peer", string(peer)).Msg("bad offer payload")
			return
		}
		answer, err := c.coord.HandleOffer(peer, offer, nil)
		if err != nil {
			c.log.Warn().Err(err).Str("peer", string(peer)).Msg("answer failed")
			return
		}
		c.sendSignal(peer, wire.SignalAnswer, answer)

	case wire.SignalAnswer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &answer); err != nil {
			c.log.Warn().Err(err).Str("peer", string(peer)).Msg("bad answer payload")
			return
		}
		c.coord.HandleAnswer(peer, answer)

	case wire.SignalICE:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Payload, &cand); err != nil {
			c.log.Warn().Err(err).Str("peer", string(peer)).Msg("bad candidate payload")
			return
		}
		c.coord.AddICECandidate(peer, cand)

	default:
		c.log.Debug().Str("kind", sig.Kind).Msg("unknown signal kind")
	}
}

// offerToRoom opens a presenter link to every current roster member.
func (c *Client) offerToRoom() {
	c.mu.Lock()
	roster := make([]domain.Participant, len(c.roster))
	copy(roster, c.roster)
	c.mu.Unlock()

	for _, p := range roster {
		if p.UserID == c.self {
			continue
		}
		c.sendOffer(p.UserID)
	}
}

func (c *Client) sendOffer(peer domain.UserID) {
	c.mu.Lock()
	tracks := c.localTracks
	c.mu.Unlock()

	offer, err := c.coord.CreateOffer(peer, tracks)
	if err != nil {
		c.log.Error().Err(err).Str("peer", string(peer)).Msg("create offer")
		return
	}
	c.sendSignal(peer, wire.SignalOffer, offer)
}

func (c *Client) sendSignal(peer domain.UserID, kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Msg("signal marshal")
		return
	}
	err = c.sock.Send(wire.Signal{
		Type:     wire.TypeSignal,
		Kind:     kind,
		TargetID: peer,
		Payload:  raw,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("peer", string(peer)).Str("kind", kind).Msg("signal send")
	}
}

// pumpEvents forwards coordinator events: local candidates go back through
// the relay, track and state events surface to the handlers. Exits when the
// coordinator is destroyed.
func (c *Client) pumpEvents() {
	for ev := range c.coord.Events() {
		switch ev := ev.(type) {
		case rtc.LocalCandidateEvent:
			c.sendSignal(ev.PeerID, wire.SignalICE, ev.Candidate)
		case rtc.RemoteTrackEvent:
			if c.h.OnTrack != nil {
				c.h.OnTrack(ev)
			}
		case rtc.PeerStateEvent:
			if c.h.OnPeerState != nil {
				c.h.OnPeerState(ev)
			}
		}
	}
}

func (c *Client) setRoster(roster []domain.Participant) {
	c.mu.Lock()
	c.roster = roster
	c.mu.Unlock()
}

func (c *Client) setPresenter(id domain.UserID) {
	c.mu.Lock()
	c.presenter = id
	c.mu.Unlock()
}

// Presenter reports who currently shares, if anyone.
func (c *Client) Presenter() (domain.UserID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presenter, c.presenter != ""
}
