package domain

import "time"

// Participant is one roster entry. A given UserID appears at most once per
// session regardless of how many times it joins.
type Participant struct {
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// PlaybackState is the shared player position for a room. SyncedAt is assigned
// by the server on every accepted update.
type PlaybackState struct {
	Service  string    `json:"service,omitempty"`
	MediaID  string    `json:"mediaId,omitempty"`
	Position float64   `json:"position"`
	Playing  bool      `json:"playing"`
	SyncedAt time.Time `json:"syncedAt"`
}

// Session is the ephemeral per-room state: roster, playback and presenter.
// At most one PresenterID is set at a time.
type Session struct {
	ID           RoomID        `json:"id"`
	HostID       UserID        `json:"hostId"`
	Participants []Participant `json:"participants"`
	Playback     PlaybackState `json:"playback"`
	PresenterID  *UserID       `json:"presenterId,omitempty"`
}

// NewSession seeds a session for its first joiner, who becomes the host.
func NewSession(id RoomID, host UserID) *Session {
	return &Session{ID: id, HostID: host}
}

// Participant returns the roster entry for uid, if present.
func (s *Session) Participant(uid UserID) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == uid {
			return p, true
		}
	}
	return Participant{}, false
}
