package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"nexuschat/internal/metrics"
	"nexuschat/pkg/domain"
	"nexuschat/pkg/store"
)

var (
	// ErrMalformedFrame marks an inbound payload that is not a valid chat
	// frame. It ends the connection.
	ErrMalformedFrame = errors.New("malformed chat frame")
	// ErrInvalidMessage marks a message that fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrUnknownReceiver marks a message addressed to a user that does not exist.
	ErrUnknownReceiver = errors.New("unknown receiver")
)

// Message sources, used as a metrics label.
const (
	SourceSocket = "socket"
	SourceREST   = "rest"
)

// Frame is the inbound chat payload.
type Frame struct {
	ReceiverID int64  `json:"receiver_id" validate:"gt=0"`
	Content    string `json:"content" validate:"required,max=1000"`
}

// Delivery describes the outcome of routing one message.
type Delivery struct {
	Message     domain.Message
	UnreadCount int64
	// Delivered is true when the receiver had a live channel.
	Delivered bool
}

// Router persists messages, computes unread counts and delivers events.
type Router struct {
	registry *Registry
	users    store.UserStore
	messages store.MessageStore
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRouter builds a router. users may be nil to skip the receiver lookup.
func NewRouter(registry *Registry, users store.UserStore, messages store.MessageStore, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		users:    users,
		messages: messages,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

// HandleFrame parses a raw frame from senderID and routes it.
func (r *Router) HandleFrame(ctx context.Context, senderID int64, payload []byte) (Delivery, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		r.metrics.Message(SourceSocket, "malformed")
		return Delivery{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := r.validate.Struct(frame); err != nil {
		r.metrics.Message(SourceSocket, "malformed")
		return Delivery{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return r.route(ctx, SourceSocket, senderID, frame)
}

// Send routes a message that did not arrive over a socket.
func (r *Router) Send(ctx context.Context, senderID, receiverID int64, content string) (Delivery, error) {
	frame := Frame{ReceiverID: receiverID, Content: content}
	if err := r.validate.Struct(frame); err != nil {
		r.metrics.Message(SourceREST, "invalid")
		return Delivery{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return r.route(ctx, SourceREST, senderID, frame)
}

// route stores the message, counts unread sender->receiver messages after the
// insert, then pushes "chat" to the receiver and "message_sent" to the sender.
func (r *Router) route(ctx context.Context, source string, senderID int64, frame Frame) (Delivery, error) {
	logger := r.logger.With("sender_id", senderID, "receiver_id", frame.ReceiverID, "source", source)
	if r.users != nil {
		_, ok, err := r.users.GetUserByID(ctx, frame.ReceiverID)
		if err != nil {
			r.metrics.Message(source, "failed")
			logger.Error("receiver lookup failed", "err", err)
			return Delivery{}, fmt.Errorf("lookup receiver: %w", err)
		}
		if !ok {
			r.metrics.Message(source, "unknown_receiver")
			return Delivery{}, fmt.Errorf("%w: %d", ErrUnknownReceiver, frame.ReceiverID)
		}
	}

	msg, err := r.messages.SaveMessage(ctx, domain.Message{
		SenderID:   senderID,
		ReceiverID: frame.ReceiverID,
		Content:    frame.Content,
		Timestamp:  r.now().UTC().Truncate(time.Millisecond),
	})
	if err != nil {
		r.metrics.Message(source, "failed")
		logger.Error("persist message failed", "err", err)
		return Delivery{}, fmt.Errorf("persist message: %w", err)
	}
	unread, err := r.messages.CountUnread(ctx, senderID, frame.ReceiverID)
	if err != nil {
		r.metrics.Message(source, "failed")
		logger.Error("count unread failed", "message_id", msg.ID, "err", err)
		return Delivery{}, fmt.Errorf("count unread: %w", err)
	}

	event := newChatEvent(msg, unread)
	delivered := r.registry.Send(frame.ReceiverID, event)
	r.metrics.Delivery(EventChat, delivered)
	acked := r.registry.Send(senderID, event.acknowledgment())
	r.metrics.Delivery(EventMessageSent, acked)
	r.metrics.Message(source, "ok")

	logger.Debug("message routed", "message_id", msg.ID, "unread_count", unread, "delivered", delivered)
	return Delivery{Message: msg, UnreadCount: unread, Delivered: delivered}, nil
}
