package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aveles/syncroom/internal/domain"
)

// TokenCodec issues and verifies HMAC-SHA256 signed bearer tokens. Token shape
// is base64url(payload).base64url(mac), with the expiry inside the signed
// payload.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

type tokenPayload struct {
	UserID      domain.UserID `json:"uid"`
	DisplayName string        `json:"name"`
	AvatarRef   string        `json:"avatar,omitempty"`
	ExpiresAt   int64         `json:"exp"`
}

func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), now: time.Now}
}

// Issue signs an identity valid for ttl.
func (c *TokenCodec) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" || len(id.UserID) > domain.MaxUserIDLen {
		return "", fmt.Errorf("issue token: bad user id %q", id.UserID)
	}
	payload, err := json.Marshal(tokenPayload{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
		ExpiresAt:   c.now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + c.sign(body), nil
}

func (c *TokenCodec) Verify(_ context.Context, token string) (Identity, error) {
	body, mac, ok := strings.Cut(token, ".")
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(c.sign(body)), []byte(mac)) {
		return Identity{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	var p tokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if p.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	if c.now().Unix() >= p.ExpiresAt {
		return Identity{}, ErrExpiredToken
	}
	return Identity{UserID: p.UserID, DisplayName: p.DisplayName, AvatarRef: p.AvatarRef}, nil
}

func (c *TokenCodec) sign(body string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
