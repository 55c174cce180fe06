package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/tablecast/internal/identity"
	"github.com/christopherjohns/tablecast/internal/room"
	"github.com/christopherjohns/tablecast/internal/router"
)

const (
	msgTokenRequired = "Authentication token required"
	msgTokenInvalid  = "Invalid authentication token"
)

// Dispatcher is the part of the event router the transport drives.
type Dispatcher interface {
	Connect(ctx context.Context, c router.Conn, claims identity.Claims) ([]room.Name, error)
	HandleMessage(ctx context.Context, connID string, data []byte) error
	Disconnect(ctx context.Context, connID string) error
}

// Handler authenticates WebSocket upgrade requests and runs the read loop
// of each accepted connection.
type Handler struct {
	verifier  identity.Verifier
	router    Dispatcher
	conns     *ConnManager
	accept    websocket.AcceptOptions
	readLimit int64
	log       *slog.Logger
}

// HandlerOptions holds the transport settings taken from configuration.
type HandlerOptions struct {
	// AllowedOrigins are full origins ("https://pos.example.com") or "*".
	AllowedOrigins  []string
	MaxMessageBytes int64
}

// NewHandler creates a new WebSocket Handler.
func NewHandler(v identity.Verifier, d Dispatcher, conns *ConnManager, opts HandlerOptions, log *slog.Logger) *Handler {
	h := &Handler{
		verifier:  v,
		router:    d,
		conns:     conns,
		readLimit: opts.MaxMessageBytes,
		log:       log.With("component", "ws"),
	}
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			h.accept.InsecureSkipVerify = true
			break
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			h.accept.OriginPatterns = append(h.accept.OriginPatterns, u.Host)
		} else {
			h.accept.OriginPatterns = append(h.accept.OriginPatterns, o)
		}
	}
	return h
}

// ServeHTTP refuses unauthenticated requests before upgrading, then
// registers the connection with the router and reads frames until it
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(r.Context(), tokenFromRequest(r))
	if err != nil {
		msg := msgTokenInvalid
		if errors.Is(err, identity.ErrTokenRequired) {
			msg = msgTokenRequired
		}
		h.log.Info("handshake refused", "remote", r.RemoteAddr, "error", err)
		writeJSONError(w, http.StatusUnauthorized, msg)
		return
	}
	if h.conns.Full() {
		writeJSONError(w, http.StatusServiceUnavailable, ErrAtCapacity.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		h.log.Warn("accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	client := newClient(uuid.NewString(), conn, claims)
	connCtx, err := h.conns.Add(r.Context(), client)
	if err != nil {
		status := websocket.StatusTryAgainLater
		if errors.Is(err, ErrShuttingDown) {
			status = websocket.StatusGoingAway
		}
		conn.Close(status, err.Error())
		return
	}
	defer h.conns.Remove(client)

	if _, err := h.router.Connect(connCtx, client, claims); err != nil {
		h.log.Error("register connection", "conn", client.id, "error", err)
		conn.Close(websocket.StatusInternalError, "unavailable")
		return
	}
	defer func() {
		if err := h.router.Disconnect(context.Background(), client.id); err != nil {
			h.log.Debug("disconnect after router stop", "conn", client.id, "error", err)
		}
	}()

	h.readLoop(connCtx, client)
}

// readLoop forwards frames to the router until the connection closes or
// connCtx is cancelled.
func (h *Handler) readLoop(connCtx context.Context, client *Client) {
	for {
		_, data, err := client.conn.Read(connCtx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && connCtx.Err() == nil {
				h.log.Debug("read failed", "conn", client.id, "error", err)
			}
			return
		}

		h.conns.TouchActivity(client)

		if err := h.router.HandleMessage(connCtx, client.id, data); err != nil {
			return
		}
	}
}

// tokenFromRequest reads the credential from an Authorization: Bearer
// header, falling back to the token query parameter browsers must use.
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
