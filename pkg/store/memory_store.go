package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"nexuschat/pkg/domain"
)

// MemoryStore keeps users and messages in-process (single instance only).
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]domain.User
	messages []domain.Message
	nextUser int64
	nextMsg  int64
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int64]domain.User),
	}
}

// SaveUser inserts or updates a user. Zero IDs are assigned.
func (s *MemoryStore) SaveUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.TrimSpace(u.Username)
	if name == "" {
		return domain.User{}, errors.New("username required")
	}
	for id, existing := range s.users {
		if id != u.ID && existing.Username == name {
			return domain.User{}, errors.New("username already exists")
		}
	}
	u.Username = name
	if u.ID == 0 {
		s.nextUser++
		u.ID = s.nextUser
	} else if u.ID > s.nextUser {
		s.nextUser = u.ID
	}
	s.users[u.ID] = u
	return u, nil
}

// GetUserByID returns a user by ID.
func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

// ListUsers returns all users ordered by id.
func (s *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveMessage appends a message. Timestamps never go backwards so that
// insertion order and timestamp order agree.
func (s *MemoryStore) SaveMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.messages); n > 0 {
		if last := s.messages[n-1].Timestamp; msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
	}
	s.nextMsg++
	msg.ID = s.nextMsg
	msg.Timestamp = msg.Timestamp.UTC()
	s.messages = append(s.messages, msg)
	return msg, nil
}

// CountUnread counts unread messages from senderID to receiverID.
func (s *MemoryStore) CountUnread(_ context.Context, senderID, receiverID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

// History returns the conversation between a and b in timestamp order.
func (s *MemoryStore) History(_ context.Context, a, b int64) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, 0)
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkRead flags unread messages from senderID to receiverID as read.
func (s *MemoryStore) MarkRead(_ context.Context, senderID, receiverID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

// UnreadSummary counts unread messages per sender for receiverID, one
// entry for every other user.
func (s *MemoryStore) UnreadSummary(_ context.Context, receiverID int64) ([]domain.UnreadCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int64)
	for _, m := range s.messages {
		if m.ReceiverID == receiverID && !m.IsRead {
			counts[m.SenderID]++
		}
	}
	out := make([]domain.UnreadCount, 0, len(s.users))
	for id, u := range s.users {
		if id == receiverID {
			continue
		}
		out = append(out, domain.UnreadCount{SenderID: id, Username: u.Username, Count: counts[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SenderID < out[j].SenderID })
	return out, nil
}
