package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/christopherjohns/tablecast/internal/event"
	"github.com/christopherjohns/tablecast/internal/logger"
	"github.com/christopherjohns/tablecast/internal/room"
)

type emitted struct {
	room room.Name
	typ  event.Type
	data string
}

type fakeSink struct {
	mu     sync.Mutex
	calls  []emitted
	n      int
	err    error
	notify chan struct{}
}

func (s *fakeSink) Emit(_ context.Context, target room.Name, t event.Type, data json.RawMessage) (int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, emitted{room: target, typ: t, data: string(data)})
	s.mu.Unlock()
	if s.notify != nil {
		s.notify <- struct{}{}
	}
	return s.n, s.err
}

func (s *fakeSink) Calls() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitted(nil), s.calls...)
}

func TestDispatch(t *testing.T) {
	sink := &fakeSink{n: 3}
	resp, err := Dispatch(context.Background(), sink, []byte(`{"room":"tenant:R1:kitchen","event":"order_created","data":{"orderId":"o1"}}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !resp.Success || resp.Room != "tenant:R1:kitchen" || resp.Event != "order_created" || resp.Delivered != 3 {
		t.Errorf("response = %+v", resp)
	}
	calls := sink.Calls()
	if len(calls) != 1 || calls[0].room != "tenant:R1:kitchen" || calls[0].data != `{"orderId":"o1"}` {
		t.Errorf("calls = %+v", calls)
	}
}

func TestDispatchValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"room":`},
		{"not an object", `[1,2]`},
		{"missing room", `{"event":"x"}`},
		{"missing event", `{"room":"global"}`},
		{"string data", `{"room":"global","event":"x","data":"hi"}`},
		{"array data", `{"room":"global","event":"x","data":[1]}`},
		{"room and tenant", `{"room":"global","tenant":"R1","scope":"all","event":"x"}`},
		{"tenant without scope", `{"tenant":"R1","event":"x"}`},
		{"scope without tenant", `{"scope":"kitchen","event":"x"}`},
		{"scope and table", `{"tenant":"R1","scope":"all","table":"T1","event":"x"}`},
		{"unknown scope", `{"tenant":"R1","scope":"patio","event":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			_, err := Dispatch(context.Background(), sink, []byte(tt.body))
			if !errors.Is(err, event.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if len(sink.Calls()) != 0 {
				t.Error("invalid request reached the sink")
			}
		})
	}
}

func TestDispatchStructuralTarget(t *testing.T) {
	tests := []struct {
		name string
		body string
		want room.Name
	}{
		{"scope", `{"tenant":"R1","scope":"kitchen","event":"x"}`, room.Tenant("R1", room.ScopeKitchen)},
		{"numeric ids", `{"tenant":42,"table":7,"event":"x"}`, room.Table("42", "7")},
		{"escaped tenant", `{"tenant":"a:b","scope":"all","event":"x"}`, room.Tenant("a:b", room.ScopeAll)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{n: 1}
			resp, err := Dispatch(context.Background(), sink, []byte(tt.body))
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			calls := sink.Calls()
			if len(calls) != 1 || calls[0].room != tt.want {
				t.Fatalf("calls = %+v, want room %s", calls, tt.want)
			}
			if resp.Room != tt.want.String() {
				t.Errorf("response room = %q, want %q", resp.Room, tt.want)
			}
		})
	}
}

func TestDispatchAllowsMissingData(t *testing.T) {
	sink := &fakeSink{}
	if _, err := Dispatch(context.Background(), sink, []byte(`{"room":"global","event":"ping"}`)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sink.Calls()) != 1 {
		t.Error("expected one emit")
	}
}

func serveEmit(h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/emit", strings.NewReader(body))
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHTTPHandler(t *testing.T) {
	sink := &fakeSink{n: 2}
	h := NewHandler(sink, 1024, logger.Discard())

	w := serveEmit(h, `{"room":"tenant:R1:all","event":"menu_sync","data":{}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp Response
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || resp.Room != "tenant:R1:all" || resp.Event != "menu_sync" || resp.Delivered != 2 {
		t.Errorf("response = %+v", resp)
	}

	w = serveEmit(h, `{"event":"menu_sync"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing room: status = %d", w.Code)
	}
	var bad map[string]any
	json.NewDecoder(w.Body).Decode(&bad)
	if bad["error"] == "" || bad["error"] == nil {
		t.Errorf("400 body has no error: %v", bad)
	}

	w = serveEmit(h, `{"room":"global","event":"x","data":{"blob":"`+strings.Repeat("a", 2048)+`"}}`, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status = %d", w.Code)
	}
}

func TestHTTPHandlerSinkUnavailable(t *testing.T) {
	h := NewHandler(&fakeSink{err: errors.New("router stopped")}, 1024, logger.Discard())
	if w := serveEmit(h, `{"room":"global","event":"x"}`, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	open := RequireToken("")(ok)
	if w := serveEmit(open, "", nil); w.Code != http.StatusNoContent {
		t.Errorf("empty token should not guard: %d", w.Code)
	}

	guarded := RequireToken("s3cret")(ok)
	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", http.Header{TokenHeader: {"nope"}}, http.StatusUnauthorized},
		{"right", http.Header{TokenHeader: {"s3cret"}}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serveEmit(guarded, "", tt.header); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
