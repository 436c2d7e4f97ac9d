package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"nexuschat/internal/metrics"
	"nexuschat/internal/usertoken"
	"nexuschat/pkg/domain"
	"nexuschat/pkg/store"
	"nexuschat/services/chat/internal/realtime"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	Store          store.Store
	Tokens         *usertoken.Verifier
	Hub            realtime.HubOptions
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// App wires storage, token verification and the realtime hub.
type App struct {
	store  store.Store
	tokens *usertoken.Verifier
	hub    *realtime.Hub
	logger *slog.Logger
}

// New constructs the application, opening the configured store unless one
// is injected.
func New(cfg Config) (*App, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("token verifier required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dataStore := cfg.Store
	if dataStore == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver)) {
		case store.DriverMemory:
			dataStore = store.NewMemoryStore()
		default:
			gs, err := store.NewGormStore(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init %s store: %w", cfg.DatabaseDriver, err)
			}
			dataStore = gs
		}
	}

	registry := realtime.NewRegistry(logger, cfg.Metrics)
	presence := realtime.NewPresence(registry, logger, cfg.Metrics)
	router := realtime.NewRouter(registry, dataStore, dataStore, logger, cfg.Metrics)
	hub := realtime.NewHub(registry, presence, router, cfg.Hub, logger, cfg.Metrics)

	return &App{
		store:  dataStore,
		tokens: cfg.Tokens,
		hub:    hub,
		logger: logger,
	}, nil
}

// Hub returns the realtime hub serving socket sessions.
func (a *App) Hub() *realtime.Hub { return a.hub }

// Store returns the backing store.
func (a *App) Store() store.Store { return a.store }

// Authenticate verifies an access token and returns its user id.
func (a *App) Authenticate(token string) (int64, error) {
	id, err := a.tokens.VerifySubject(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return id, nil
}

// IssueToken signs a token for an existing user (development tooling).
func (a *App) IssueToken(ctx context.Context, userID int64) (string, error) {
	if _, ok, err := a.store.GetUserByID(ctx, userID); err != nil {
		return "", fmt.Errorf("load user: %w", err)
	} else if !ok {
		return "", ErrPeerNotFound
	}
	return a.tokens.Issue(userID)
}

// Logout revokes token until it expires.
func (a *App) Logout(token string) error {
	if err := a.tokens.Revoke(token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Inbox lists every other user with the number of unread messages they sent
// to userID and whether they are online.
func (a *App) Inbox(ctx context.Context, userID int64) ([]domain.InboxEntry, error) {
	summary, err := a.store.UnreadSummary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread summary: %w", err)
	}
	return lo.Map(summary, func(u domain.UnreadCount, _ int) domain.InboxEntry {
		return domain.InboxEntry{
			UserID:      u.SenderID,
			Username:    u.Username,
			UnreadCount: u.Count,
			Online:      a.hub.IsOnline(u.SenderID),
		}
	}), nil
}

// Conversation returns the full history between userID and peerID, then
// marks everything peerID sent to userID as read. The returned rows reflect
// the state before marking.
func (a *App) Conversation(ctx context.Context, userID, peerID int64) ([]domain.Message, error) {
	if peerID <= 0 {
		return nil, ErrInvalidPeer
	}
	history, err := a.store.History(ctx, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	marked, err := a.store.MarkRead(ctx, peerID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if marked > 0 {
		a.logger.Debug("messages marked read", "user_id", userID, "peer_id", peerID, "count", marked)
	}
	return history, nil
}

// SendMessage routes a message outside of a socket session.
func (a *App) SendMessage(ctx context.Context, senderID, receiverID int64, content string) (realtime.Delivery, error) {
	if receiverID <= 0 {
		return realtime.Delivery{}, ErrInvalidPeer
	}
	if content == "" {
		return realtime.Delivery{}, ErrContentRequired
	}
	if utf8.RuneCountInString(content) > domain.MaxMessageRunes {
		return realtime.Delivery{}, ErrContentTooLong
	}
	d, err := a.hub.Router().Send(ctx, senderID, receiverID, content)
	if errors.Is(err, realtime.ErrUnknownReceiver) {
		return realtime.Delivery{}, ErrPeerNotFound
	}
	return d, err
}

// OnlineUsers returns ids with a live connection, ascending.
func (a *App) OnlineUsers() []int64 {
	return a.hub.Registry().OnlineIDs()
}
