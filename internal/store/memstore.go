// Package store holds the in-process implementation of the session store
// collaborator. Deployments with a durable backend swap it behind
// core.SessionStore; the relay and broadcaster only ever see the interface.
package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aveles/syncroom/internal/core"
	"github.com/aveles/syncroom/internal/domain"
)

// MemStore is a threadsafe in-memory SessionStore. All roster mutation happens
// under one lock per store, which makes AddParticipant/RemoveParticipant the
// atomic set primitives the broadcaster relies on.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[domain.RoomID]*domain.Session
}

func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[domain.RoomID]*domain.Session)}
}

func (s *MemStore) Get(_ context.Context, room domain.RoomID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[room]
	if !ok {
		return nil, core.ErrNoSession
	}
	return snapshot(sess), nil
}

func (s *MemStore) CreateIfAbsent(_ context.Context, room domain.RoomID, seed *domain.Session) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[room]; ok {
		return snapshot(sess), nil
	}
	s.sessions[room] = snapshot(seed)
	log.Info().Str("module", "store").Str("room", string(room)).Str("host", string(seed.HostID)).Msg("session created")
	return snapshot(seed), nil
}

func (s *MemStore) AddParticipant(_ context.Context, room domain.RoomID, p domain.Participant) ([]domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[room]
	if !ok {
		return nil, false, core.ErrNoSession
	}
	for _, existing := range sess.Participants {
		if existing.UserID == p.UserID {
			return roster(sess), false, nil
		}
	}
	sess.Participants = append(sess.Participants, p)
	return roster(sess), true, nil
}

func (s *MemStore) RemoveParticipant(_ context.Context, room domain.RoomID, uid domain.UserID) ([]domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[room]
	if !ok {
		return nil, false, core.ErrNoSession
	}
	for i, existing := range sess.Participants {
		if existing.UserID == uid {
			sess.Participants = append(sess.Participants[:i], sess.Participants[i+1:]...)
			return roster(sess), true, nil
		}
	}
	return roster(sess), false, nil
}

func (s *MemStore) SetPlayback(_ context.Context, room domain.RoomID, state domain.PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[room]
	if !ok {
		return core.ErrNoSession
	}
	sess.Playback = state
	return nil
}

func (s *MemStore) SetPresenter(_ context.Context, room domain.RoomID, uid *domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[room]
	if !ok {
		return core.ErrNoSession
	}
	if uid == nil {
		sess.PresenterID = nil
		return nil
	}
	id := *uid
	sess.PresenterID = &id
	return nil
}

func (s *MemStore) Archive(_ context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[room]; ok {
		delete(s.sessions, room)
		log.Info().Str("module", "store").Str("room", string(room)).Msg("session archived")
	}
	return nil
}

// snapshot copies a session so callers never alias store-owned state.
func snapshot(sess *domain.Session) *domain.Session {
	out := *sess
	out.Participants = roster(sess)
	if sess.PresenterID != nil {
		id := *sess.PresenterID
		out.PresenterID = &id
	}
	return &out
}

func roster(sess *domain.Session) []domain.Participant {
	out := make([]domain.Participant, len(sess.Participants))
	copy(out, sess.Participants)
	return out
}
