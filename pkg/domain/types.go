package domain

import "time"

// MaxMessageRunes bounds message content length (matches the messages.content column).
const MaxMessageRunes = 1000

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
}

// Message is a directed chat message. Only IsRead ever changes after insert.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"isRead"`
}

// UnreadCount is the number of unread messages one sender has pending for a receiver.
type UnreadCount struct {
	SenderID int64
	Username string
	Count    int64
}

// InboxEntry describes one peer in a user's conversation list.
type InboxEntry struct {
	UserID      int64
	Username    string
	UnreadCount int64
	Online      bool
}
