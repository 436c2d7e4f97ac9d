package realtime

import (
	"log/slog"
	"time"

	"github.com/samber/lo"
	"nexuschat/internal/metrics"
)

// Presence fans user_status events out to connected users.
type Presence struct {
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewPresence builds a broadcaster over registry.
func NewPresence(registry *Registry, logger *slog.Logger, m *metrics.Metrics) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{registry: registry, now: time.Now, logger: logger, metrics: m}
}

// Broadcast sends userID's status to every other registered user and returns
// how many channels were attempted. IDs are snapshotted first so pruning
// during the loop is safe; one failed peer does not stop the rest.
func (p *Presence) Broadcast(userID int64, online bool) int {
	event := StatusEvent{
		Type:      EventUserStatus,
		UserID:    userID,
		IsOnline:  online,
		Timestamp: p.now().UTC(),
	}
	peers := lo.Without(p.registry.OnlineIDs(), userID)
	sent := 0
	for _, id := range peers {
		ok := p.registry.Send(id, event)
		p.metrics.Delivery(EventUserStatus, ok)
		if ok {
			sent++
		}
	}
	p.metrics.PresenceBroadcast()
	p.logger.Debug("presence broadcast", "user_id", userID, "online", online, "peers", sent)
	return sent
}
