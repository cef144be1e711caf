package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/aveles/syncroom/internal/domain"
)

type LinkState int

const (
	StateNew LinkState = iota
	StateOffering
	StateAnswering
	StateConnected
	StateFailed
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the state admits no further negotiation. A terminal
// link is never resurrected; reconnecting builds a new PeerLink.
func (s LinkState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

var (
	ErrLinkTerminal  = errors.New("peer link is terminal")
	ErrBadLinkState  = errors.New("unexpected negotiation state")
	ErrRemoteDescSet = errors.New("remote description already set")
)

// PeerLink is one negotiation state machine for a single remote participant.
// It exclusively owns its transport; inbound ICE candidates that arrive before
// the remote description are queued and flushed in arrival order the moment
// the description lands. Every method re-checks state under the lock because
// callbacks can interleave between scheduling and execution.
type PeerLink struct {
	peer domain.UserID
	tr   MediaTransport
	log  zerolog.Logger

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func newPeerLink(peer domain.UserID, tr MediaTransport, logger zerolog.Logger) *PeerLink {
	return &PeerLink{
		peer:  peer,
		tr:    tr,
		log:   logger.With().Str("peer", string(peer)).Logger(),
		state: StateNew,
	}
}

func (l *PeerLink) Peer() domain.UserID { return l.peer }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) RemoteDescriptionSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSet
}

func (l *PeerLink) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// adoptPending seeds the inbound queue with candidates that arrived before the
// link existed. Only valid on a fresh link.
func (l *PeerLink) adoptPending(queue []webrtc.ICECandidateInit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNew || l.remoteSet {
		return
	}
	l.pending = append(l.pending, queue...)
}

// Offer attaches tracks and produces the local offer, moving NEW -> OFFERING.
func (l *PeerLink) Offer(tracks []webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return webrtc.SessionDescription{}, ErrLinkTerminal
	}
	if l.state != StateNew {
		return webrtc.SessionDescription{}, ErrBadLinkState
	}
	for _, t := range tracks {
		if err := l.tr.AddTrack(t); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}
	sdp, err := l.tr.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = StateOffering
	l.log.Debug().Str("module", "rtc.link").Msg("offer created")
	return sdp, nil
}

// Answer applies a remote offer and produces the local answer, moving
// NEW -> ANSWERING. Queued candidates are flushed as soon as the remote
// description is in place.
func (l *PeerLink) Answer(offer webrtc.SessionDescription, tracks []webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return webrtc.SessionDescription{}, ErrLinkTerminal
	}
	if l.state != StateNew {
		return webrtc.SessionDescription{}, ErrBadLinkState
	}
	if l.remoteSet {
		return webrtc.SessionDescription{}, ErrRemoteDescSet
	}
	for _, t := range tracks {
		if err := l.tr.AddTrack(t); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}
	if err := l.tr.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.remoteSet = true
	l.flushLocked()
	answer, err := l.tr.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = StateAnswering
	l.log.Debug().Str("module", "rtc.link").Msg("answer created")
	return answer, nil
}

// AcceptAnswer applies the remote answer. It is only legal while the link is
// exactly in OFFERING; an answer in any other state is rejected so a stale or
// duplicate answer cannot corrupt the negotiation.
func (l *PeerLink) AcceptAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return ErrLinkTerminal
	}
	if l.state != StateOffering {
		return ErrBadLinkState
	}
	if l.remoteSet {
		return ErrRemoteDescSet
	}
	if err := l.tr.SetRemoteDescription(answer); err != nil {
		return err
	}
	l.remoteSet = true
	l.flushLocked()
	l.state = StateConnected
	l.log.Debug().Str("module", "rtc.link").Msg("answer accepted")
	return nil
}

// AddRemoteCandidate queues the candidate until the remote description is set,
// then applies immediately. Apply failures are logged and swallowed; a bad
// candidate never kills the link.
func (l *PeerLink) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return ErrLinkTerminal
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.log.Debug().Str("module", "rtc.link").Int("queued", len(l.pending)).Msg("candidate queued")
		return nil
	}
	l.applyLocked(c)
	return nil
}

// markConnected records transport-level connectivity. Returns true when the
// state actually moved to CONNECTED.
func (l *PeerLink) markConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOffering && l.state != StateAnswering {
		return false
	}
	l.state = StateConnected
	return true
}

// Fail marks the link FAILED after a transport failure. Recovery is the
// coordinator's decision, never automatic here. Returns true on transition.
func (l *PeerLink) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Terminal() {
		return false
	}
	l.state = StateFailed
	l.pending = nil
	l.log.Warn().Str("module", "rtc.link").Msg("link failed")
	return true
}

// Close tears the link down and releases the transport. Idempotent.
func (l *PeerLink) Close() {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	l.pending = nil
	tr := l.tr
	l.mu.Unlock()

	// Transport close can fire state callbacks; release outside the lock.
	tr.Close()
	l.log.Debug().Str("module", "rtc.link").Msg("link closed")
}

func (l *PeerLink) flushLocked() {
	if len(l.pending) == 0 {
		return
	}
	l.log.Debug().Str("module", "rtc.link").Int("count", len(l.pending)).Msg("flushing queued candidates")
	for _, c := range l.pending {
		l.applyLocked(c)
	}
	l.pending = nil
}

func (l *PeerLink) applyLocked(c webrtc.ICECandidateInit) {
	if err := l.tr.AddICECandidate(c); err != nil {
		l.log.Warn().Err(err).Str("module", "rtc.link").Msg("candidate rejected")
	}
}
