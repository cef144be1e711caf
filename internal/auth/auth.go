// Package auth verifies the opaque bearer credential a client presents when
// opening a signaling connection. Verification failure is connection-fatal;
// the relay never degrades to an anonymous identity.
package auth

import (
	"context"
	"errors"

	"github.com/aveles/syncroom/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Identity is the verified triple behind a credential.
type Identity struct {
	UserID      domain.UserID
	DisplayName string
	AvatarRef   string
}

// Verifier is the identity collaborator. The bundled TokenCodec implements it;
// a real identity provider can be wired in its place.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
