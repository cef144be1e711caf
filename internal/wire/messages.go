// Package wire defines the JSON messages exchanged over the signaling socket.
// Every message carries a "type" discriminator; payload fields are flat.
package wire

import (
	"encoding/json"
	"time"

	"github.com/aveles/syncroom/internal/domain"
)

const (
	// client -> server
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypePlaybackUpdate = "playbackUpdate"
	TypeShareRequest   = "shareRequest"
	TypeShareStop      = "shareStop"
	TypeSignal         = "signal"
	TypeChat           = "chat"
	TypeReaction       = "reaction"
	TypeTyping         = "typing"
	TypePing           = "ping"

	// server -> client
	TypeJoined          = "joined"
	TypeRosterChanged   = "rosterChanged"
	TypePlaybackChanged = "playbackChanged"
	TypeShareStarted    = "shareStarted"
	TypeShareStopped    = "shareStopped"
	TypeOfferRequest    = "offerRequest"
	TypeChatMessage     = "chatMessage"
	TypeUserTyping      = "userTyping"
	TypeError           = "error"
	TypePong            = "pong"
)

// Signal payload kinds.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
	SignalICE    = "ice"
)

// Envelope is the minimal decode used to dispatch on message type.
type Envelope struct {
	Type string `json:"type"`
}

type Join struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type Joined struct {
	Type    string               `json:"type"`
	Session *domain.Session      `json:"session"`
	Roster  []domain.Participant `json:"roster"`
}

type RosterChanged struct {
	Type   string               `json:"type"`
	Roster []domain.Participant `json:"roster"`
}

type PlaybackUpdate struct {
	Type  string               `json:"type"`
	State domain.PlaybackState `json:"state"`
}

type PlaybackChanged struct {
	Type  string               `json:"type"`
	State domain.PlaybackState `json:"state"`
}

type ShareStarted struct {
	Type        string        `json:"type"`
	PresenterID domain.UserID `json:"presenterId"`
}

type ShareStopped struct {
	Type        string        `json:"type"`
	PresenterID domain.UserID `json:"presenterId"`
}

// OfferRequest tells the presenter to open a fresh peer link to ForUserID.
// Only the presenter's connection ever receives it.
type OfferRequest struct {
	Type      string        `json:"type"`
	ForUserID domain.UserID `json:"forUserId"`
}

// Signal is a point-to-point negotiation envelope. Clients address it by
// TargetID; the relay rewrites it with SenderID before delivery and never
// retains it.
type Signal struct {
	Type     string          `json:"type"`
	Kind     string          `json:"kind"`
	TargetID domain.UserID   `json:"targetId,omitempty"`
	SenderID domain.UserID   `json:"senderId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type Chat struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ChatMessage struct {
	Type       string        `json:"type"`
	SenderID   domain.UserID `json:"senderId"`
	SenderName string        `json:"senderName"`
	Content    string        `json:"content"`
	SentAt     time.Time     `json:"sentAt"`
}

// Typing is the client-side typing indicator; UserTyping is its fan-out to
// the rest of the room. Both are transient and carry no timestamp.
type Typing struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
}

type UserTyping struct {
	Type     string        `json:"type"`
	SenderID domain.UserID `json:"senderId"`
	IsTyping bool          `json:"isTyping"`
}

type Reaction struct {
	Type     string        `json:"type"`
	SenderID domain.UserID `json:"senderId,omitempty"`
	Emoji    string        `json:"emoji"`
	SentAt   time.Time     `json:"sentAt,omitzero"`
}

type Error struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
