// Package rtc holds the client-side peer negotiation core: one PeerLink state
// machine per remote participant, owned by a Coordinator that manages link
// lifecycle and surfaces a typed event stream.
package rtc

import "github.com/pion/webrtc/v4"

// MediaTransport abstracts one underlying peer connection. The production
// implementation wraps pion; tests substitute a fake.
type MediaTransport interface {
	// CreateOffer produces a local session description and installs it as the
	// local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer produces a local answer to a previously applied remote
	// offer and installs it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate. The remote description
	// must already be set.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddTrack attaches a local media track before negotiation.
	AddTrack(webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a remote track arrives.
	OnTrack(func(RemoteTrack))
	// OnStateChange sets a callback for connection state transitions.
	OnStateChange(func(webrtc.PeerConnectionState))
	Close()
}

// RemoteTrack is a track received from the remote side, with its identifiers
// lifted out so consumers don't reach into the underlying handle.
type RemoteTrack struct {
	ID       string
	StreamID string
	Track    *webrtc.TrackRemote
}

// TransportFactory builds a fresh transport for each new PeerLink.
type TransportFactory func() (MediaTransport, error)
