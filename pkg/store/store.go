package store

import (
	"context"

	"nexuschat/pkg/domain"
)

// UserStore resolves chat identities. The account lifecycle owns writes.
type UserStore interface {
	SaveUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// MessageStore persists direct messages and answers the unread/history queries.
type MessageStore interface {
	// SaveMessage inserts msg and returns it with the store-assigned ID.
	SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	// CountUnread counts messages from senderID to receiverID that are still unread.
	CountUnread(ctx context.Context, senderID, receiverID int64) (int64, error)
	// History returns both directions between a and b, oldest first.
	History(ctx context.Context, a, b int64) ([]domain.Message, error)
	// MarkRead flags every unread message from senderID to receiverID as read.
	MarkRead(ctx context.Context, senderID, receiverID int64) (int64, error)
	// UnreadSummary lists every other user with the number of unread
	// messages they sent to receiverID (zero included).
	UnreadSummary(ctx context.Context, receiverID int64) ([]domain.UnreadCount, error)
}

// Store is the full persistence surface used by the chat service.
type Store interface {
	UserStore
	MessageStore
}
