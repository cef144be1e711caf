package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aveles/syncroom/internal/domain"
)

var ErrCoordinatorDestroyed = errors.New("coordinator destroyed")

const (
	eventBuffer = 64

	// Bounds on the placeholder candidate queues held for peers whose offer
	// has not arrived yet. A real negotiation gathers far fewer candidates;
	// anything beyond is signaling churn that must not accumulate memory.
	maxPendingPeers      = 64
	maxPendingCandidates = 32
)

// Coordinator owns the map of PeerLinks for one client and is its only
// mutator. It decides when links are created, replaced or closed; the links
// themselves only run the negotiation state machine.
//
// Topology policy: in a screen-share session only the presenter calls
// CreateOffer, once per viewer. Viewers answer and never link to each other,
// which keeps the graph a star with O(N) connections.
type Coordinator struct {
	self    domain.UserID
	factory TransportFactory
	log     zerolog.Logger

	mu        sync.Mutex
	links     map[domain.UserID]*PeerLink
	orphans   map[domain.UserID][]webrtc.ICECandidateInit
	streams   map[domain.UserID]string
	seen      map[domain.UserID]map[string]bool
	destroyed bool

	emitMu sync.Mutex
	closed bool
	events chan Event
}

func NewCoordinator(self domain.UserID, factory TransportFactory) *Coordinator {
	return &Coordinator{
		self:    self,
		factory: factory,
		log:     log.With().Str("module", "rtc").Str("self", string(self)).Logger(),
		links:   make(map[domain.UserID]*PeerLink),
		orphans: make(map[domain.UserID][]webrtc.ICECandidateInit),
		streams: make(map[domain.UserID]string),
		seen:    make(map[domain.UserID]map[string]bool),
		events:  make(chan Event, eventBuffer),
	}
}

// Events returns the coordinator's event stream. The channel is closed by
// Destroy.
func (c *Coordinator) Events() <-chan Event { return c.events }

// CreateOffer builds a brand-new PeerLink for peer, force-closing any existing
// one first: links are never reused across sharing sessions, so stale tracks
// cannot leak into a fresh negotiation.
func (c *Coordinator) CreateOffer(peer domain.UserID, tracks []webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	if peer == c.self {
		return webrtc.SessionDescription{}, errors.New("cannot offer to self")
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, ErrCoordinatorDestroyed
	}
	old := c.links[peer]
	delete(c.links, peer)
	c.mu.Unlock()
	if old != nil {
		c.log.Debug().Str("peer", string(peer)).Msg("replacing existing link for fresh offer")
		old.Close()
	}

	link, err := c.buildLink(peer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	sdp, err := link.Offer(tracks)
	if err != nil {
		c.CloseLink(peer)
		return webrtc.SessionDescription{}, err
	}
	c.emit(PeerStateEvent{PeerID: peer, State: StateOffering})
	return sdp, nil
}

// HandleOffer applies a remote offer and returns the local answer. A usable
// link is created on demand; any candidates that arrived before the offer are
// adopted from the placeholder queue and flushed once the remote description
// is set.
func (c *Coordinator) HandleOffer(peer domain.UserID, offer webrtc.SessionDescription, tracks []webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, ErrCoordinatorDestroyed
	}
	existing := c.links[peer]
	usable := existing != nil && existing.State() == StateNew
	if existing != nil && !usable {
		delete(c.links, peer)
	}
	c.mu.Unlock()

	link := existing
	if !usable {
		if existing != nil {
			c.log.Debug().Str("peer", string(peer)).Str("state", existing.State().String()).Msg("discarding unusable link on offer")
			existing.Close()
		}
		var err error
		if link, err = c.buildLink(peer); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}

	answer, err := link.Answer(offer, tracks)
	if err != nil {
		c.CloseLink(peer)
		return webrtc.SessionDescription{}, err
	}
	c.emit(PeerStateEvent{PeerID: peer, State: StateAnswering})
	return answer, nil
}

// HandleAnswer applies a remote answer to the link we offered on. With no live
// link, or a link outside OFFERING, the answer is logged and dropped — a
// warning, never a crash.
func (c *Coordinator) HandleAnswer(peer domain.UserID, answer webrtc.SessionDescription) {
	c.mu.Lock()
	link := c.links[peer]
	c.mu.Unlock()
	if link == nil {
		c.log.Warn().Str("peer", string(peer)).Msg("answer for unknown link, dropped")
		return
	}
	if err := link.AcceptAnswer(answer); err != nil {
		c.log.Warn().Err(err).Str("peer", string(peer)).Str("state", link.State().String()).Msg("answer rejected")
		return
	}
	c.emit(PeerStateEvent{PeerID: peer, State: StateConnected})
}

// AddICECandidate routes an inbound candidate into the peer's link. When no
// link exists yet — the candidate outran the offer — a placeholder queue holds
// it so it is not lost.
func (c *Coordinator) AddICECandidate(peer domain.UserID, cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	link := c.links[peer]
	if link == nil {
		if !c.destroyed {
			queue, known := c.orphans[peer]
			switch {
			case !known && len(c.orphans) >= maxPendingPeers:
				c.log.Debug().Str("peer", string(peer)).Msg("placeholder peer limit reached, candidate dropped")
			case len(queue) >= maxPendingCandidates:
				c.log.Debug().Str("peer", string(peer)).Msg("placeholder queue full, candidate dropped")
			default:
				c.orphans[peer] = append(queue, cand)
				c.log.Debug().Str("peer", string(peer)).Int("queued", len(c.orphans[peer])).Msg("candidate held for missing link")
			}
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := link.AddRemoteCandidate(cand); err != nil {
		c.log.Debug().Err(err).Str("peer", string(peer)).Msg("candidate dropped")
	}
}

// CloseLink releases the peer's link and every piece of per-peer state.
// Idempotent.
func (c *Coordinator) CloseLink(peer domain.UserID) {
	c.mu.Lock()
	link := c.links[peer]
	delete(c.links, peer)
	delete(c.orphans, peer)
	delete(c.streams, peer)
	delete(c.seen, peer)
	c.mu.Unlock()
	if link == nil {
		return
	}
	link.Close()
	c.emit(PeerStateEvent{PeerID: peer, State: StateClosed})
}

// CloseAll closes every link except the given identity (pass the empty string
// to close all). Used when a share stops without destroying the coordinator.
func (c *Coordinator) CloseAll(except domain.UserID) {
	c.mu.Lock()
	peers := make([]domain.UserID, 0, len(c.links))
	for peer := range c.links {
		if peer != except {
			peers = append(peers, peer)
		}
	}
	c.mu.Unlock()
	for _, peer := range peers {
		c.CloseLink(peer)
	}
}

// Destroy closes all links and the event channel. Idempotent.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	c.CloseAll("")

	c.emitMu.Lock()
	c.closed = true
	close(c.events)
	c.emitMu.Unlock()
}

// LinkCount reports the number of live links.
func (c *Coordinator) LinkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

// LinkState reports the state of the peer's link, if one exists.
func (c *Coordinator) LinkState(peer domain.UserID) (LinkState, bool) {
	c.mu.Lock()
	link := c.links[peer]
	c.mu.Unlock()
	if link == nil {
		return StateNew, false
	}
	return link.State(), true
}

func (c *Coordinator) buildLink(peer domain.UserID) (*PeerLink, error) {
	tr, err := c.factory()
	if err != nil {
		return nil, err
	}
	link := newPeerLink(peer, tr, c.log)

	tr.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.emit(LocalCandidateEvent{PeerID: peer, Candidate: cand})
	})
	tr.OnTrack(func(track RemoteTrack) {
		c.onRemoteTrack(peer, track)
	})
	tr.OnStateChange(func(s webrtc.PeerConnectionState) {
		c.onTransportState(peer, link, s)
	})

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		link.Close()
		return nil, ErrCoordinatorDestroyed
	}
	if queue := c.orphans[peer]; len(queue) > 0 {
		link.adoptPending(queue)
		delete(c.orphans, peer)
	}
	c.links[peer] = link
	c.mu.Unlock()
	return link, nil
}

func (c *Coordinator) onRemoteTrack(peer domain.UserID, track RemoteTrack) {
	c.mu.Lock()
	streamID, ok := c.streams[peer]
	if !ok {
		streamID = track.StreamID
		c.streams[peer] = streamID
	}
	tracks := c.seen[peer]
	if tracks == nil {
		tracks = make(map[string]bool)
		c.seen[peer] = tracks
	}
	if tracks[track.ID] {
		c.mu.Unlock()
		return
	}
	tracks[track.ID] = true
	c.mu.Unlock()

	c.emit(RemoteTrackEvent{PeerID: peer, StreamID: streamID, Track: track})
}

func (c *Coordinator) onTransportState(peer domain.UserID, link *PeerLink, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if link.markConnected() {
			c.emit(PeerStateEvent{PeerID: peer, State: StateConnected})
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		if link.Fail() {
			c.emit(PeerStateEvent{PeerID: peer, State: StateFailed})
		}
	}
}

func (c *Coordinator) emit(ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn().Msg("event channel full, event dropped")
	}
}
