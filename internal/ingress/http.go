package ingress

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/christopherjohns/tablecast/internal/event"
)

// TokenHeader carries the shared ingress secret.
const TokenHeader = "X-Ingress-Token"

// Handler serves POST /api/emit.
type Handler struct {
	sink     Sink
	maxBytes int64
	log      *slog.Logger
}

// NewHandler creates the HTTP ingress handler. Bodies larger than maxBytes
// are rejected.
func NewHandler(sink Sink, maxBytes int64, log *slog.Logger) *Handler {
	return &Handler{sink: sink, maxBytes: maxBytes, log: log.With("component", "ingress")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, Response{Error: "request body too large"})
		return
	}

	resp, err := Dispatch(r.Context(), h.sink, body)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, event.ErrValidation) {
			status = http.StatusBadRequest
		}
		h.log.Warn("emit rejected", "room", resp.Room, "event", resp.Event, "status", status, "error", err)
		writeJSON(w, status, Response{Error: err.Error()})
		return
	}

	h.log.Debug("emitted", "room", resp.Room, "event", resp.Event, "delivered", resp.Delivered)
	writeJSON(w, http.StatusOK, resp)
}

// RequireToken rejects requests whose X-Ingress-Token does not match token.
// An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(TokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, Response{Error: "invalid ingress token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
