package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/aveles/syncroom/internal/domain"
)

// Event is the tagged union delivered on the coordinator's event channel.
// Consumers switch on the concrete type; adding a variant breaks every switch
// at compile time, which is the point.
type Event interface{ isEvent() }

// RemoteTrackEvent carries a track received from a peer. StreamID is pinned to
// the first track's stream per peer, so repeated track arrivals never mint a
// new stream identity.
type RemoteTrackEvent struct {
	PeerID   domain.UserID
	StreamID string
	Track    RemoteTrack
}

// LocalCandidateEvent carries a locally gathered ICE candidate that must be
// forwarded to the peer through the relay. Local candidates always emit
// immediately; queuing only ever applies to inbound candidates.
type LocalCandidateEvent struct {
	PeerID    domain.UserID
	Candidate webrtc.ICECandidateInit
}

// PeerStateEvent reports a link state transition.
type PeerStateEvent struct {
	PeerID domain.UserID
	State  LinkState
}

func (RemoteTrackEvent) isEvent()    {}
func (LocalCandidateEvent) isEvent() {}
func (PeerStateEvent) isEvent()      {}
