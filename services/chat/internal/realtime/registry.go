package realtime

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"nexuschat/internal/metrics"
)

// Channel is the outbound half of a live connection. Implementations must be
// comparable (pointer types) and safe for concurrent Send calls.
type Channel interface {
	Send(event any) error
}

// Registry maps user IDs to their single live channel.
type Registry struct {
	mu      sync.RWMutex
	conns   map[int64]Channel
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry builds an empty registry. m may be nil.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:   make(map[int64]Channel),
		logger:  logger,
		metrics: m,
	}
}

// Register installs ch for userID, replacing any existing channel. The
// replaced channel is not closed.
func (r *Registry) Register(userID int64, ch Channel) {
	r.mu.Lock()
	r.conns[userID] = ch
	n := len(r.conns)
	r.mu.Unlock()
	r.metrics.SetConnections(n)
}

// Unregister removes userID if present.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	delete(r.conns, userID)
	n := len(r.conns)
	r.mu.Unlock()
	r.metrics.SetConnections(n)
}

// Release removes userID only while it still maps to ch, and reports whether
// it did. A connection tearing down after being replaced leaves its
// successor in place.
func (r *Registry) Release(userID int64, ch Channel) bool {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	owned := ok && cur == ch
	if owned {
		delete(r.conns, userID)
	}
	n := len(r.conns)
	r.mu.Unlock()
	r.metrics.SetConnections(n)
	return owned
}

// Send writes event to userID's channel and reports whether a channel was
// found. A failed write evicts that channel and, when it is a Conn, closes it
// so its session ends and announces the user offline. The write happens
// outside the lock.
func (r *Registry) Send(userID int64, event any) bool {
	r.mu.RLock()
	ch, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := ch.Send(event); err != nil {
		r.logger.Warn("realtime send failed, pruning connection", "user_id", userID, "err", err)
		r.Release(userID, ch)
		if conn, ok := ch.(Conn); ok {
			_ = conn.Close(websocket.CloseGoingAway, "send failed")
		}
	}
	return true
}

// OnlineIDs returns a snapshot of registered user IDs in ascending order.
func (r *Registry) OnlineIDs() []int64 {
	r.mu.RLock()
	ids := lo.Keys(r.conns)
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// IsOnline reports whether userID has a registered channel.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
