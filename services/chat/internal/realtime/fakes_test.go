package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nexuschat/pkg/domain"
	"nexuschat/pkg/store"
)

type fakeConn struct {
	mu        sync.Mutex
	sent      []any
	sendErr   error
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) Send(event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case p, ok := <-f.frames:
		if !ok {
			return nil, ErrClosed
		}
		return p, nil
	case <-f.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Close(code int, _ string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) failWith(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeConn) events() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func (f *fakeConn) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeConn) chats() []ChatEvent {
	var out []ChatEvent
	for _, ev := range f.events() {
		if c, ok := ev.(ChatEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeConn) statuses() []StatusEvent {
	var out []StatusEvent
	for _, ev := range f.events() {
		if s, ok := ev.(StatusEvent); ok {
			out = append(out, s)
		}
	}
	return out
}

var errBrokenPipe = errors.New("broken pipe")

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) SaveMessage(context.Context, domain.Message) (domain.Message, error) {
	return domain.Message{}, errors.New("db down")
}

func newSeededStore(ids ...int64) *store.MemoryStore {
	s := store.NewMemoryStore()
	for _, id := range ids {
		_, _ = s.SaveUser(context.Background(), domain.User{ID: id, Username: fmt.Sprintf("user%d", id)})
	}
	return s
}

func contents(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
