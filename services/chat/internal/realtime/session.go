package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
	"nexuschat/internal/metrics"
)

var (
	// ErrClosed is returned by Conn.ReadFrame once the peer closed normally.
	ErrClosed = errors.New("connection closed")
	// ErrIdleTimeout is returned by Conn.ReadFrame when no traffic arrived
	// within the idle timeout.
	ErrIdleTimeout = errors.New("connection idle")
)

// Conn is a live duplex connection as seen by a session.
type Conn interface {
	Channel
	// ReadFrame blocks for the next inbound payload.
	ReadFrame(ctx context.Context) ([]byte, error)
	// Close sends a close status and releases the transport. Safe to call twice.
	Close(code int, reason string) error
}

// HubOptions tunes sessions.
type HubOptions struct {
	// MaxMessagesPerSecond paces frame processing per connection; 0 disables.
	MaxMessagesPerSecond float64
}

// Hub runs connection sessions over a shared registry, presence broadcaster
// and router.
type Hub struct {
	registry *Registry
	presence *Presence
	router   *Router
	opts     HubOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewHub wires the realtime components together.
func NewHub(registry *Registry, presence *Presence, router *Router, opts HubOptions, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		presence: presence,
		router:   router,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Registry exposes the connection registry for presence queries.
func (h *Hub) Registry() *Registry { return h.registry }

// Router exposes the message router.
func (h *Hub) Router() *Router { return h.router }

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID int64) bool { return h.registry.IsOnline(userID) }

// Serve registers conn for userID, announces it online, and processes frames
// until the peer leaves, a frame fails, or ctx is cancelled. On exit the
// connection is released and, if it was still the user's active one, an
// offline status goes to everyone else. A nil return means a clean close.
func (h *Hub) Serve(ctx context.Context, userID int64, conn Conn) error {
	logger := h.logger.With("user_id", userID, "session_id", uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.registry.Register(userID, conn)
	h.presence.Broadcast(userID, true)
	logger.Info("realtime session opened", "online", h.registry.Len())

	go func() {
		<-ctx.Done()
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
	}()

	err := h.loop(ctx, userID, conn)

	// The entry may already be gone when a failed send pruned it; only a live
	// replacement suppresses the offline status.
	if h.registry.Release(userID, conn) || !h.registry.IsOnline(userID) {
		h.presence.Broadcast(userID, false)
	} else {
		logger.Info("realtime session superseded by a newer connection")
	}

	switch {
	case ctx.Err() != nil:
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
	case err == nil:
		_ = conn.Close(websocket.CloseNormalClosure, "")
	case errors.Is(err, ErrIdleTimeout):
		_ = conn.Close(websocket.CloseGoingAway, "idle timeout")
	case errors.Is(err, ErrMalformedFrame):
		_ = conn.Close(websocket.CloseUnsupportedData, "malformed frame")
	case errors.Is(err, ErrUnknownReceiver):
		_ = conn.Close(websocket.ClosePolicyViolation, "unknown receiver")
	default:
		_ = conn.Close(websocket.CloseInternalServerErr, "internal error")
	}
	switch {
	case errors.Is(err, ErrIdleTimeout):
		logger.Info("realtime session closed after idle timeout")
	case err != nil && ctx.Err() == nil:
		logger.Warn("realtime session closed with error", "err", err)
	default:
		logger.Info("realtime session closed")
	}
	return err
}

func (h *Hub) loop(ctx context.Context, userID int64, conn Conn) error {
	var limiter *rate.Limiter
	if h.opts.MaxMessagesPerSecond > 0 {
		burst := int(h.opts.MaxMessagesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.opts.MaxMessagesPerSecond), burst)
	}
	for {
		payload, err := conn.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if _, err := h.router.HandleFrame(ctx, userID, payload); err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				h.metrics.Frame("malformed")
			} else {
				h.metrics.Frame("failed")
			}
			return err
		}
		h.metrics.Frame("ok")
	}
}
