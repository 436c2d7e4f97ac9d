package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"nexuschat/pkg/domain"
)

const (
	defaultWriteTimeout = 10 * time.Second
	// Room for a full-length message of multi-byte runes plus JSON framing.
	maxFrameBytes = int64(domain.MaxMessageRunes*4 + 512)
)

// SocketOptions tunes a SocketConn.
type SocketOptions struct {
	// IdleTimeout closes a connection with no inbound traffic (frames or
	// pongs) for this long. 0 waits forever.
	IdleTimeout time.Duration
	// PingInterval sends keepalive pings; 0 disables them.
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// NewUpgrader builds the WebSocket upgrader. checkOrigin may be nil to accept
// any origin.
func NewUpgrader(checkOrigin func(*http.Request) bool) *websocket.Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}
}

// SocketConn adapts a gorilla WebSocket to Conn. Writes are serialized.
type SocketConn struct {
	conn *websocket.Conn
	opts SocketOptions

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewSocketConn wraps conn and starts keepalive pings when configured.
func NewSocketConn(conn *websocket.Conn, opts SocketOptions) *SocketConn {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	s := &SocketConn{conn: conn, opts: opts, done: make(chan struct{})}
	conn.SetReadLimit(maxFrameBytes)
	conn.SetPongHandler(func(string) error {
		return s.extendReadDeadline()
	})
	if opts.PingInterval > 0 {
		go s.keepalive()
	}
	return s
}

// Send writes event as a JSON text frame.
func (s *SocketConn) Send(event any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(event)
}

// ReadFrame returns the next text or binary payload. A normal close by the
// peer yields ErrClosed and a lapsed read deadline yields ErrIdleTimeout.
func (s *SocketConn) ReadFrame(_ context.Context) ([]byte, error) {
	if err := s.extendReadDeadline(); err != nil {
		return nil, err
	}
	_, payload, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, ErrClosed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrIdleTimeout
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedFrame, maxFrameBytes)
		}
		return nil, err
	}
	return payload, nil
}

// Close sends a close frame with code and reason, then closes the socket.
func (s *SocketConn) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// extendReadDeadline pushes the read deadline out by IdleTimeout, or clears
// it. Deadlines set by http.Server survive the upgrade, so clearing matters.
func (s *SocketConn) extendReadDeadline() error {
	if s.opts.IdleTimeout <= 0 {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
}

func (s *SocketConn) keepalive() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
