package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"nexuschat/internal/usertoken"
	"nexuschat/pkg/domain"
	"nexuschat/pkg/store"
)

func newTestApp(t *testing.T, names ...string) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	for _, name := range names {
		_, err := mem.SaveUser(context.Background(), domain.User{Username: name})
		require.NoError(t, err)
	}
	tokens, err := usertoken.NewVerifier(usertoken.Config{Secret: "test-secret", Revoker: usertoken.NewMemoryRevoker()})
	require.NoError(t, err)
	a, err := New(Config{Store: mem, Tokens: tokens})
	require.NoError(t, err)
	return a, mem
}

func TestNewRequiresVerifier(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore()})
	require.Error(t, err)
}

func TestNewMemoryDriver(t *testing.T) {
	tokens, err := usertoken.NewVerifier(usertoken.Config{Secret: "x"})
	require.NoError(t, err)
	a, err := New(Config{DatabaseDriver: "memory", Tokens: tokens})
	require.NoError(t, err)
	require.IsType(t, &store.MemoryStore{}, a.Store())
}

func TestInboxCountsUnreadPerPeer(t *testing.T) {
	a, _ := newTestApp(t, "alice", "bob", "carol")
	ctx := context.Background()

	for range 3 {
		_, err := a.SendMessage(ctx, 2, 1, "hi")
		require.NoError(t, err)
	}
	_, err := a.SendMessage(ctx, 1, 2, "reply")
	require.NoError(t, err)

	inbox, err := a.Inbox(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []domain.InboxEntry{
		{UserID: 2, Username: "bob", UnreadCount: 3},
		{UserID: 3, Username: "carol", UnreadCount: 0},
	}, inbox)
}

func TestConversationReturnsHistoryThenMarksRead(t *testing.T) {
	a, mem := newTestApp(t, "alice", "bob")
	ctx := context.Background()

	_, err := a.SendMessage(ctx, 2, 1, "one")
	require.NoError(t, err)
	_, err = a.SendMessage(ctx, 1, 2, "two")
	require.NoError(t, err)

	history, err := a.Conversation(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "one", history[0].Content)
	require.False(t, history[0].IsRead)

	unread, err := mem.CountUnread(ctx, 2, 1)
	require.NoError(t, err)
	require.Zero(t, unread)

	// The reverse direction is untouched.
	unread, err = mem.CountUnread(ctx, 1, 2)
	require.NoError(t, err)
	require.EqualValues(t, 1, unread)
}

func TestConversationUnknownPeerIsEmpty(t *testing.T) {
	a, _ := newTestApp(t, "alice")
	history, err := a.Conversation(context.Background(), 1, 99)
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = a.Conversation(context.Background(), 1, 0)
	require.ErrorIs(t, err, ErrInvalidPeer)
}

func TestSendMessageValidation(t *testing.T) {
	a, _ := newTestApp(t, "alice", "bob")
	ctx := context.Background()

	_, err := a.SendMessage(ctx, 1, 2, "")
	require.ErrorIs(t, err, ErrContentRequired)
	_, err = a.SendMessage(ctx, 1, 2, strings.Repeat("é", domain.MaxMessageRunes+1))
	require.ErrorIs(t, err, ErrContentTooLong)
	_, err = a.SendMessage(ctx, 1, 0, "hi")
	require.ErrorIs(t, err, ErrInvalidPeer)
	_, err = a.SendMessage(ctx, 1, 42, "hi")
	require.ErrorIs(t, err, ErrPeerNotFound)

	d, err := a.SendMessage(ctx, 1, 2, strings.Repeat("é", domain.MaxMessageRunes))
	require.NoError(t, err)
	require.EqualValues(t, 1, d.UnreadCount)
	require.False(t, d.Delivered)
}

func TestAuthenticateAndLogout(t *testing.T) {
	a, _ := newTestApp(t, "alice")
	ctx := context.Background()

	token, err := a.IssueToken(ctx, 1)
	require.NoError(t, err)
	id, err := a.Authenticate(token)
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	require.NoError(t, a.Logout(token))
	_, err = a.Authenticate(token)
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.ErrorIs(t, err, usertoken.ErrTokenRevoked)

	_, err = a.IssueToken(ctx, 5)
	require.ErrorIs(t, err, ErrPeerNotFound)
}
