package relay

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aveles/syncroom/internal/core"
	"github.com/aveles/syncroom/internal/domain"
)

// Registry maps stable participant identities to their live connections.
// One connection per identity: a rebind displaces and closes the previous
// connection, so a reconnecting client wins over its own stale socket.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*Conn
	log   zerolog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.UserID]*Conn),
		log:   log.With().Str("module", "relay.registry").Logger(),
	}
}

// Bind associates id with conn and returns the displaced connection, if any.
// The caller closes the displaced connection outside the registry lock.
func (r *Registry) Bind(id domain.UserID, conn *Conn) *Conn {
	r.mu.Lock()
	old := r.conns[id]
	r.conns[id] = conn
	r.mu.Unlock()
	if old != nil {
		r.log.Info().Str("user", string(id)).Msg("connection displaced by rebind")
	}
	return old
}

// Unbind removes the binding only while conn is still the current one. A
// stale connection's deferred cleanup must not tear down the binding its
// replacement already owns.
func (r *Registry) Unbind(id domain.UserID, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[id]
	if !ok || cur.id != conn.id {
		return false
	}
	delete(r.conns, id)
	return true
}

// Conn implements session.Directory.
func (r *Registry) Conn(id domain.UserID) (core.SignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return c, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
