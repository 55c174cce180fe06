// Package router is the event router of the node. It owns every piece of
// shared state (sessions, room membership, the identity directory) and
// mutates it from a single dispatch goroutine, so none of it needs locks.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/christopherjohns/tablecast/internal/directory"
	"github.com/christopherjohns/tablecast/internal/event"
	"github.com/christopherjohns/tablecast/internal/identity"
	"github.com/christopherjohns/tablecast/internal/metrics"
	"github.com/christopherjohns/tablecast/internal/room"
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("router stopped")

const queueSize = 256

// Drop reasons, used as metric attributes and Stats keys.
const (
	DropMalformed    = "malformed"
	DropUnknownType  = "unknown_type"
	DropUnauthorized = "unauthorized"
	DropUntenanted   = "untenanted"
	DropCrossTenant  = "cross_tenant"
	DropNoRecipients = "no_recipients"
	DropBufferFull   = "buffer_full"
)

var dropReasons = []string{
	DropMalformed, DropUnknownType, DropUnauthorized, DropUntenanted,
	DropCrossTenant, DropNoRecipients, DropBufferFull,
}

// Conn is the router's view of a live connection.
type Conn interface {
	ID() string
	// Send queues a frame for the connection. It reports false when the
	// frame was dropped (closed connection or full buffer).
	Send(frame []byte) bool
}

type session struct {
	conn   Conn
	claims identity.Claims
}

// Router routes events between connections and from ingress.
type Router struct {
	cmds    chan func()
	stopped chan struct{}

	// Owned by the Run goroutine.
	sessions map[string]*session
	rooms    *room.Registry
	dir      *directory.Directory

	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   map[string]*atomic.Uint64
}

// New creates a Router. m may be nil.
func New(log *slog.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		cmds:     make(chan func(), queueSize),
		stopped:  make(chan struct{}),
		sessions: make(map[string]*session),
		rooms:    room.NewRegistry(),
		dir:      directory.New(),
		log:      log.With("component", "router"),
		metrics:  m,
		now:      time.Now,
		dropped:  make(map[string]*atomic.Uint64, len(dropReasons)),
	}
	for _, reason := range dropReasons {
		r.dropped[reason] = new(atomic.Uint64)
	}
	return r
}

// Run executes queued commands one at a time until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.stopped)
	r.log.Info("dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("dispatch loop stopped", "connections", len(r.sessions))
			return nil
		case fn := <-r.cmds:
			fn()
		}
	}
}

// do runs fn on the dispatch goroutine and waits for it to finish.
func (r *Router) do(ctx context.Context, fn func()) error {
	select {
	case <-r.stopped:
		return ErrStopped
	default:
	}
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		fn()
	}
	select {
	case r.cmds <- cmd:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// enqueue schedules fn without waiting for it.
func (r *Router) enqueue(ctx context.Context, fn func()) error {
	select {
	case <-r.stopped:
		return ErrStopped
	default:
	}
	select {
	case r.cmds <- fn:
		return nil
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers an authenticated connection, joins it to the rooms
// its claims resolve to, and sends it the connected frame.
func (r *Router) Connect(ctx context.Context, c Conn, claims identity.Claims) ([]room.Name, error) {
	var joined []room.Name
	err := r.do(ctx, func() {
		id := c.ID()
		r.sessions[id] = &session{conn: c, claims: claims}
		joined = room.Resolve(claims)
		names := make([]string, len(joined))
		for i, name := range joined {
			r.rooms.Join(name, id)
			names[i] = name.String()
		}
		r.dir.Register(claims.UserID, id)
		r.metrics.ConnectionOpened(context.Background())

		frame, err := event.Frame(event.TypeConnected, event.Connected{
			UserID:       claims.UserID,
			Email:        claims.Email,
			Role:         string(claims.Role),
			RestaurantID: claims.TenantID,
			Rooms:        names,
		})
		if err != nil {
			r.log.Error("encode connected frame", "conn", id, "error", err)
			return
		}
		r.deliver(id, frame)
		r.log.Info("connection registered",
			"conn", id, "user", claims.UserID, "role", claims.Role,
			"tenant", claims.TenantID, "rooms", len(joined))
	})
	return joined, err
}

// Disconnect removes the connection from every room and from the
// directory. Unknown ids are ignored.
func (r *Router) Disconnect(ctx context.Context, connID string) error {
	return r.do(ctx, func() {
		s, ok := r.sessions[connID]
		if !ok {
			return
		}
		left := r.rooms.LeaveAll(connID)
		r.dir.Remove(connID)
		delete(r.sessions, connID)
		r.metrics.ConnectionClosed(context.Background())
		r.log.Info("connection removed", "conn", connID, "user", s.claims.UserID, "rooms", len(left))
	})
}

// HandleMessage queues a frame received from connID. Frames from one
// connection are routed in the order they are queued.
func (r *Router) HandleMessage(ctx context.Context, connID string, data []byte) error {
	return r.enqueue(ctx, func() {
		s, ok := r.sessions[connID]
		if !ok {
			return
		}
		r.handle(s, data)
	})
}

// Emit publishes an opaque payload to target on behalf of a trusted
// internal caller. It skips topology and role checks and stamps a
// timestamp when data has none. It returns the number of frames queued.
func (r *Router) Emit(ctx context.Context, target room.Name, t event.Type, data json.RawMessage) (int, error) {
	if target == "" {
		return 0, &event.ValidationError{Type: t, Reason: "room is required"}
	}
	if t == "" {
		return 0, &event.ValidationError{Reason: "event is required"}
	}
	payload, err := event.StampObject(data, r.now())
	if err != nil {
		return 0, &event.ValidationError{Type: t, Reason: err.Error()}
	}
	frame, err := json.Marshal(event.Envelope{Type: t, Payload: payload})
	if err != nil {
		return 0, err
	}

	var n int
	err = r.do(ctx, func() {
		r.received.Add(1)
		r.metrics.EventReceived(context.Background(), "ingress", string(t))
		n = r.publish(t, frame, target)
	})
	return n, err
}

// Stats is a snapshot of router state and counters.
type Stats struct {
	Connections int               `json:"connections"`
	Users       int               `json:"users"`
	Rooms       int               `json:"rooms"`
	Received    uint64            `json:"received"`
	Delivered   uint64            `json:"delivered"`
	Dropped     map[string]uint64 `json:"dropped"`
}

// Stats returns a consistent snapshot taken on the dispatch goroutine.
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.do(ctx, func() {
		st = Stats{
			Connections: len(r.sessions),
			Users:       r.dir.Len(),
			Rooms:       r.rooms.Len(),
			Received:    r.received.Load(),
			Delivered:   r.delivered.Load(),
			Dropped:     make(map[string]uint64, len(r.dropped)),
		}
		for reason, c := range r.dropped {
			st.Dropped[reason] = c.Load()
		}
	})
	return st, err
}

func (r *Router) drop(reason string, args ...any) {
	r.dropped[reason].Add(1)
	r.metrics.EventDropped(context.Background(), reason)
	level := slog.LevelWarn
	if reason == DropNoRecipients {
		level = slog.LevelDebug
	}
	r.log.Log(context.Background(), level, "event dropped", append([]any{"reason", reason}, args...)...)
}
