package realtime

import (
	"time"

	"nexuschat/pkg/domain"
)

// Outbound event types.
const (
	EventChat        = "chat"
	EventMessageSent = "message_sent"
	EventUserStatus  = "user_status"
)

// ChatEvent carries a persisted message to its receiver (type "chat") or back
// to its sender as an acknowledgment (type "message_sent").
type ChatEvent struct {
	Type        string    `json:"type"`
	SenderID    int64     `json:"sender_id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   int64     `json:"message_id"`
	UnreadCount int64     `json:"unread_count"`
}

// StatusEvent announces a presence change.
type StatusEvent struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	IsOnline  bool      `json:"is_online"`
	Timestamp time.Time `json:"timestamp"`
}

func newChatEvent(msg domain.Message, unread int64) ChatEvent {
	return ChatEvent{
		Type:        EventChat,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp.UTC(),
		MessageID:   msg.ID,
		UnreadCount: unread,
	}
}

// acknowledgment returns the sender's copy of e.
func (e ChatEvent) acknowledgment() ChatEvent {
	e.Type = EventMessageSent
	return e
}
