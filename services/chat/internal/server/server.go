package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"nexuschat/internal/metrics"
	"nexuschat/internal/ratelimit"
	"nexuschat/internal/util"
	"nexuschat/pkg/domain"
	"nexuschat/services/chat/internal/app"
	"nexuschat/services/chat/internal/config"
	"nexuschat/services/chat/internal/realtime"
)

// Wire layout for history timestamps: UTC with a trailing Z.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Metrics        *metrics.Metrics
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	CookieName     string
	SocketAuth     string
	Socket         realtime.SocketOptions
}

// Server exposes HTTP and WebSocket endpoints for the chat service.
type Server struct {
	app        *app.App
	metrics    *metrics.Metrics
	limiter    *ratelimit.FixedWindowLimiter
	proxies    *util.TrustedProxies
	origins    []string
	cookieName string
	socketAuth bool
	socketOpts realtime.SocketOptions
	upgrader   *websocket.Upgrader
	validate   *validator.Validate
	mux        *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	cookie := strings.TrimSpace(cfg.CookieName)
	if cookie == "" {
		cookie = "Authorization"
	}
	s := &Server{
		app:        cfg.App,
		metrics:    cfg.Metrics,
		limiter:    cfg.Limiter,
		proxies:    cfg.TrustedProxies,
		origins:    cfg.AllowedOrigins,
		cookieName: cookie,
		socketAuth: cfg.SocketAuth != config.SocketAuthOff,
		socketOpts: cfg.Socket,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		mux:        http.NewServeMux(),
	}
	s.upgrader = realtime.NewUpgrader(s.checkOrigin)
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("chat",
			util.WithSecurityHeaders(util.WithCORS(s.origins, s.mux))))
}

func (s *Server) routes() {
	s.handle("/healthz", http.HandlerFunc(s.handleHealth))
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.handle("/ws/{user_id}", http.HandlerFunc(s.handleSocket))

	s.handle("/api/users", s.authenticated(s.handleUsers))
	s.handle("/api/messages", s.authenticated(s.handleSendMessage))
	s.handle("/api/messages/{peer_id}", s.authenticated(s.handleConversation))
	s.handle("/api/presence", s.authenticated(s.handlePresence))

	s.handle("/auth/logout", http.HandlerFunc(s.handleLogout))
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, s.metrics.InstrumentRoute(pattern, h))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.limiter, "too many connection attempts") {
		s.audit(r, "socket_connect", "rate_limited")
		return
	}
	userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if s.socketAuth {
		token, ok := s.requestToken(r)
		if !ok {
			s.audit(r, "socket_connect", "missing_token", "user_id", userID)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		subject, err := s.app.Authenticate(token)
		if err != nil {
			s.audit(r, "socket_connect", "invalid_token", "user_id", userID)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if subject != userID {
			s.audit(r, "socket_connect", "subject_mismatch", "user_id", userID, "subject", subject)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		util.LoggerFromContext(r.Context()).Warn("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}
	s.audit(r, "socket_connect", "success", "user_id", userID)
	_ = s.app.Hub().Serve(r.Context(), userID, realtime.NewSocketConn(ws, s.socketOpts))
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	inbox, err := s.app.Inbox(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, "load inbox failed", err)
		return
	}
	rows := lo.Map(inbox, func(e domain.InboxEntry, _ int) []any {
		return []any{e.UserID, e.UnreadCount, e.Username, e.Online}
	})
	writeJSON(w, http.StatusOK, rows)
}

type historyItem struct {
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.limiter, "too many requests") {
		return
	}
	peerID, err := strconv.ParseInt(r.PathValue("peer_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid peer id")
		return
	}
	history, err := s.app.Conversation(r.Context(), userID, peerID)
	if err != nil {
		if errors.Is(err, app.ErrInvalidPeer) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "load conversation failed", err)
		return
	}
	items := lo.Map(history, func(m domain.Message, _ int) historyItem {
		return historyItem{SenderID: m.SenderID, Content: m.Content, Timestamp: formatTimestamp(m.Timestamp)}
	})
	writeJSON(w, http.StatusOK, items)
}

type sendRequest struct {
	ReceiverID int64  `json:"receiver_id" validate:"gt=0"`
	Content    string `json:"content" validate:"required"`
}

type sendResponse struct {
	ID          int64  `json:"id"`
	SenderID    int64  `json:"sender_id"`
	ReceiverID  int64  `json:"receiver_id"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	UnreadCount int64  `json:"unread_count"`
	Delivered   bool   `json:"delivered"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.limiter, "too many requests") {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "receiver_id and content are required")
		return
	}
	d, err := s.app.SendMessage(r.Context(), userID, req.ReceiverID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrPeerNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidPeer), errors.Is(err, app.ErrContentRequired),
			errors.Is(err, app.ErrContentTooLong), errors.Is(err, realtime.ErrInvalidMessage):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.internalError(w, r, "send message failed", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, sendResponse{
		ID:          d.Message.ID,
		SenderID:    d.Message.SenderID,
		ReceiverID:  d.Message.ReceiverID,
		Content:     d.Message.Content,
		Timestamp:   formatTimestamp(d.Message.Timestamp),
		UnreadCount: d.UnreadCount,
		Delivered:   d.Delivered,
	})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request, _ int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"online": s.app.OnlineUsers()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if token, ok := s.requestToken(r); ok {
		if err := s.app.Logout(token); err != nil {
			s.audit(r, "logout", "revoke_failed", "err", err)
			s.internalError(w, r, "logout failed", err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   util.IsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
	s.audit(r, "logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

type userHandler func(http.ResponseWriter, *http.Request, int64)

func (s *Server) authenticated(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := s.requestToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.app.Authenticate(token)
		if err != nil {
			s.audit(r, "authenticate", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("user_id", userID)
		next(w, r.WithContext(util.ContextWithLogger(r.Context(), logger)), userID)
	})
}

// requestToken reads the access token from the Authorization header, falling
// back to the auth cookie whose value may carry a "Bearer " prefix.
func (s *Server) requestToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	c, err := r.Cookie(s.cookieName)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(strings.Trim(c.Value, `"`))
	if rest, found := strings.CutPrefix(value, "Bearer"); found {
		value = strings.TrimSpace(rest)
	}
	if value == "" || strings.ContainsRune(value, ' ') {
		return "", false
	}
	return value, true
}

func bearerToken(value string) (string, bool) {
	if !strings.HasPrefix(value, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
	return token, token != ""
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.proxies)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error(msg, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
