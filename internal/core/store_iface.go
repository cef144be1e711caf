package core

import (
	"context"
	"errors"

	"github.com/aveles/syncroom/internal/domain"
)

var ErrNoSession = errors.New("session not found")

// SessionStore is the durable room/roster collaborator. Roster mutation is
// always an atomic add/remove primitive, never a read-modify-write of the
// participant array: two joins racing on the same room must both land.
type SessionStore interface {
	Get(ctx context.Context, room domain.RoomID) (*domain.Session, error)

	// CreateIfAbsent stores seed unless a session already exists, and returns
	// whichever session is now stored.
	CreateIfAbsent(ctx context.Context, room domain.RoomID, seed *domain.Session) (*domain.Session, error)

	// AddParticipant inserts p unless an entry with the same UserID exists.
	// It returns the resulting roster and whether it changed.
	AddParticipant(ctx context.Context, room domain.RoomID, p domain.Participant) ([]domain.Participant, bool, error)

	// RemoveParticipant deletes the entry for uid, if any. It returns the
	// resulting roster and whether it changed.
	RemoveParticipant(ctx context.Context, room domain.RoomID, uid domain.UserID) ([]domain.Participant, bool, error)

	SetPlayback(ctx context.Context, room domain.RoomID, state domain.PlaybackState) error

	// SetPresenter records the active presenter; nil clears it.
	SetPresenter(ctx context.Context, room domain.RoomID, uid *domain.UserID) error

	// Archive drops the session once its roster is empty.
	Archive(ctx context.Context, room domain.RoomID) error
}
