package ws

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// drainPollInterval is how often Drain rechecks the registry size.
const drainPollInterval = 10 * time.Millisecond

// Registry tracks every OPEN connection. It is the only shared mutable
// structure of the notification core and is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	perUser    map[string]int
	maxPerUser int
	draining   bool
	log        zerolog.Logger

	writeFailures atomic.Uint64
}

// NewRegistry returns an empty registry. maxPerUser caps concurrent
// connections per user id; zero means unlimited.
func NewRegistry(maxPerUser int, log zerolog.Logger) *Registry {
	return &Registry{
		conns:      make(map[string]*Connection),
		perUser:    make(map[string]int),
		maxPerUser: maxPerUser,
		log:        log.With().Str("component", "ws_registry").Logger(),
	}
}

// Admit reports whether a new connection for userID would currently be
// accepted. It is a pre-check done before the HTTP upgrade; Insert enforces
// the same rules atomically.
func (r *Registry) Admit(userID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admitLocked(userID)
}

func (r *Registry) admitLocked(userID string) error {
	if r.draining {
		return ErrRegistryClosed
	}
	if r.maxPerUser > 0 && r.perUser[userID] >= r.maxPerUser {
		return ErrTooManyConnections
	}
	return nil
}

// Insert adds an OPEN connection. A connection that has already begun
// closing is refused so that the registry never holds a non-OPEN entry.
func (r *Registry) Insert(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.admitLocked(c.Identity.UserID); err != nil {
		return err
	}
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	if _, ok := r.conns[c.ID]; ok {
		return fmt.Errorf("connection %s already registered", c.ID)
	}

	c.writeFailures.Store(&r.writeFailures)
	r.conns[c.ID] = c
	r.perUser[c.Identity.UserID]++
	r.log.Info().
		Str("conn", c.ID).
		Str("user", c.Identity.UserID).
		Int("size", len(r.conns)).
		Msg("connection registered")
	return nil
}

// Remove deletes id if present and reports whether it did. Removing an
// unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}
	delete(r.conns, id)
	if n := r.perUser[c.Identity.UserID] - 1; n > 0 {
		r.perUser[c.Identity.UserID] = n
	} else {
		delete(r.perUser, c.Identity.UserID)
	}
	r.log.Info().
		Str("conn", id).
		Str("user", c.Identity.UserID).
		Int("size", len(r.conns)).
		Msg("connection unregistered")
	return true
}

// Snapshot returns a point-in-time copy of the registered connections,
// oldest first. Callers iterate it without holding any registry lock.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Connection) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Size returns the number of registered connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// WriteFailures counts messages that were queued to a registered connection
// but could not be written to its socket.
func (r *Registry) WriteFailures() uint64 {
	return r.writeFailures.Load()
}

// CountForUser returns how many connections userID currently holds.
func (r *Registry) CountForUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perUser[userID]
}

// Drain stops accepting connections, closes every registered one with
// "going away" and waits until the registry is empty or ctx is done.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	conns := r.Snapshot()
	r.log.Info().Int("connections", len(conns)).Msg("draining registry")
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for r.Size() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain registry: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
