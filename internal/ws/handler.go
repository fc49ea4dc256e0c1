// Package ws exposes the live transport endpoint. A connection is resolved to
// a user identity during the HTTP handshake, registered for its lifetime, and
// unregistered on close. Unauthenticated connections are rejected before any
// registry entry exists.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/kumona/notify-core/internal/registry"
	"github.com/kumona/notify-core/internal/store"
)

// maxDecodeErrorsPerConn closes connections that keep sending garbage.
const maxDecodeErrorsPerConn = 5

const defaultListLimit = 50

// Authorizer resolves a handshake token to a user identity. Authentication
// itself lives outside this core.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type userIDContextKey struct{}

// NewHandler creates the websocket endpoint.
func NewHandler(authorizer Authorizer, reg *registry.Registry, repo store.Repo, log *zap.Logger) http.Handler {
	h := &handler{authorizer: authorizer, reg: reg, repo: repo, log: log}

	wsHandler := websocket.Handler(h.handleConn)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if h.authorizer == nil {
			http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
			return
		}

		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		userID, err := h.authorizer.Authenticate(r.Context(), token)
		if err != nil || strings.TrimSpace(userID) == "" {
			if err != nil {
				log.Warn("ws auth failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
			}
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey{}, strings.TrimSpace(userID))
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type handler struct {
	authorizer Authorizer
	reg        *registry.Registry
	repo       store.Repo
	log        *zap.Logger
}

func (h *handler) handleConn(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	userID := ""
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(userIDContextKey{}).(string); ok {
			userID = resolved
		}
	}

	p := newPeer(json.NewEncoder(conn))
	session, err := h.reg.Register(userID, p)
	if err != nil {
		h.log.Warn("ws register rejected", zap.Error(err))
		return
	}
	defer h.reg.Remove(session)
	h.log.Debug("ws session opened", zap.String("userID", userID))

	ctx := conn.Request().Context()
	h.sendUnreadSnapshot(ctx, p, userID)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				h.log.Debug("ws session closed", zap.String("userID", userID))
				return
			}
			decodeErrors++
			_ = p.Send("error", map[string]string{"message": "invalid frame payload"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0
		h.handleFrame(ctx, p, userID, frame)
	}
}

func (h *handler) handleFrame(ctx context.Context, p *peer, userID string, frame Frame) {
	switch frame.Type {
	case "notification.markRead":
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Payload, &req); err != nil || req.ID == "" {
			_ = p.Send("error", map[string]string{"message": "markRead needs an id"})
			return
		}
		if err := h.repo.MarkRead(ctx, req.ID, userID); err != nil {
			h.log.Warn("mark read failed", zap.Error(err), zap.String("userID", userID), zap.String("id", req.ID))
		}
		h.sendUnreadSnapshot(ctx, p, userID)

	case "notification.markAllRead":
		if _, err := h.repo.MarkAllRead(ctx, userID); err != nil {
			h.log.Warn("mark all read failed", zap.Error(err), zap.String("userID", userID))
		}
		h.sendUnreadSnapshot(ctx, p, userID)

	case "notification.list":
		var req struct {
			Limit int `json:"limit"`
		}
		_ = json.Unmarshal(frame.Payload, &req)
		if req.Limit <= 0 || req.Limit > 200 {
			req.Limit = defaultListLimit
		}
		entries, err := h.repo.ListRecent(ctx, userID, req.Limit)
		if err != nil {
			h.log.Warn("list recent failed", zap.Error(err), zap.String("userID", userID))
			_ = p.Send("error", map[string]string{"message": "could not load notifications"})
			return
		}
		_ = p.Send("notification.list", entries)

	default:
		_ = p.Send("error", map[string]string{"message": "unsupported frame type"})
	}
}

// sendUnreadSnapshot pushes the unread count so a reconnecting client knows it
// has store-and-forward entries waiting.
func (h *handler) sendUnreadSnapshot(ctx context.Context, p *peer, userID string) {
	n, err := h.repo.CountUnread(ctx, userID)
	if err != nil {
		h.log.Warn("count unread failed", zap.Error(err), zap.String("userID", userID))
		return
	}
	_ = p.Send("notification.unread", map[string]int64{"count": n})
}
