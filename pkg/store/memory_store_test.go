package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nexuschat/pkg/domain"
)

func seedUsers(t *testing.T, s *MemoryStore, names ...string) []domain.User {
	t.Helper()
	out := make([]domain.User, 0, len(names))
	for _, name := range names {
		u, err := s.SaveUser(context.Background(), domain.User{Username: name, Email: name + "@example.com"})
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func TestMemoryStoreUnreadLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	users := seedUsers(t, s, "alice", "bob", "carol")
	alice, bob, carol := users[0].ID, users[1].ID, users[2].ID

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := s.SaveMessage(ctx, domain.Message{SenderID: alice, ReceiverID: bob, Content: "hi", Timestamp: now})
		require.NoError(t, err)
		n, err := s.CountUnread(ctx, alice, bob)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), n)
	}
	_, err := s.SaveMessage(ctx, domain.Message{SenderID: carol, ReceiverID: bob, Content: "yo", Timestamp: now})
	require.NoError(t, err)

	summary, err := s.UnreadSummary(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, []domain.UnreadCount{
		{SenderID: alice, Username: "alice", Count: 3},
		{SenderID: carol, Username: "carol", Count: 1},
	}, summary)

	marked, err := s.MarkRead(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, int64(3), marked)
	marked, err = s.MarkRead(ctx, alice, bob)
	require.NoError(t, err)
	require.Zero(t, marked)

	n, err := s.CountUnread(ctx, alice, bob)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = s.CountUnread(ctx, carol, bob)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestMemoryStoreHistoryOrderAndScope(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	users := seedUsers(t, s, "alice", "bob", "carol")
	alice, bob, carol := users[0].ID, users[1].ID, users[2].ID

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_, _ = s.SaveMessage(ctx, domain.Message{SenderID: alice, ReceiverID: bob, Content: "1", Timestamp: base})
	_, _ = s.SaveMessage(ctx, domain.Message{SenderID: bob, ReceiverID: alice, Content: "2", Timestamp: base.Add(time.Second)})
	_, _ = s.SaveMessage(ctx, domain.Message{SenderID: carol, ReceiverID: bob, Content: "x", Timestamp: base.Add(2 * time.Second)})
	// An earlier clock reading is clamped so history stays ordered.
	_, _ = s.SaveMessage(ctx, domain.Message{SenderID: alice, ReceiverID: bob, Content: "3", Timestamp: base})

	msgs, err := s.History(ctx, bob, alice)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "1", msgs[0].Content)
	require.Equal(t, "2", msgs[1].Content)
	require.Equal(t, "3", msgs[2].Content)
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp))
	}

	empty, err := s.History(ctx, alice, carol)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryStoreUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "bob", "alice")

	_, err := s.SaveUser(ctx, domain.User{Username: "alice"})
	require.Error(t, err)

	u, ok, err := s.GetUserByID(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", u.Username)

	_, ok, err = s.GetUserByID(ctx, 99)
	require.NoError(t, err)
	require.False(t, ok)

	list, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int64(1), list[0].ID)
}
