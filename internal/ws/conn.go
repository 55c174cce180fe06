// Package ws is the WebSocket transport: handshake authentication,
// per-connection send buffers drained by write pumps, connection limits and
// idle reaping. Routing decisions are left to the event router.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/christopherjohns/tablecast/internal/identity"
)

const (
	defaultSendBuffer = 32

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second

	defaultReapInterval = 30 * time.Second
)

var (
	ErrShuttingDown = errors.New("server shutting down")
	ErrAtCapacity   = errors.New("server at capacity")
)

// Client is one authenticated WebSocket connection. It satisfies the
// router's Conn interface.
type Client struct {
	id     string
	conn   *websocket.Conn
	claims identity.Claims
	send   chan []byte
	mgr    *ConnManager

	// ctx is cancelled when the client is removed; nothing is ever sent on
	// send after that, and send itself is never closed.
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(id string, conn *websocket.Conn, claims identity.Claims) *Client {
	return &Client{id: id, conn: conn, claims: claims}
}

func (c *Client) ID() string { return c.id }

// Send queues frame on the client's buffer without blocking.
func (c *Client) Send(frame []byte) bool {
	if c.mgr == nil {
		return false
	}
	return c.mgr.Send(c, frame)
}

type connEntry struct {
	connectedAt time.Time
	lastActive  time.Time
}

// ConnStats holds point-in-time connection statistics.
type ConnStats struct {
	Active          int   `json:"active"`
	MaxConns        int   `json:"max_conns"`
	Rejected        int64 `json:"rejected"`
	DroppedMessages int64 `json:"dropped_messages"`
	IdleReaped      int64 `json:"idle_reaped"`
}

// ConnManager tracks all active WebSocket connections and provides
// lifecycle management including graceful shutdown, per-client
// buffered send channels, connection limits, and idle detection.
type ConnManager struct {
	mu       sync.Mutex
	clients  map[*Client]*connEntry
	closed   bool
	maxConns int
	idleTTL  time.Duration
	reapTick time.Duration
	bufSize  int
	stopIdle context.CancelFunc
	log      *slog.Logger

	rejected        atomic.Int64
	droppedMessages atomic.Int64
	idleReaped      atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns sets the maximum number of concurrent connections.
// A value of 0 means unlimited (default).
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) { cm.maxConns = n }
}

// WithIdleTimeout sets how long a connection may go without an inbound
// frame or a pong before it is closed. Clients are pinged every third of
// the timeout, so a peer that only listens stays alive. A value of 0
// disables both pings and reaping (default).
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) { cm.idleTTL = d }
}

// WithSendBuffer sets the per-client queue length.
func WithSendBuffer(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		if n > 0 {
			cm.bufSize = n
		}
	}
}

// WithReapInterval sets how often idle connections are checked for.
func WithReapInterval(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		if d > 0 {
			cm.reapTick = d
		}
	}
}

func WithLogger(l *slog.Logger) ConnManagerOption {
	return func(cm *ConnManager) { cm.log = l }
}

// NewConnManager creates a new connection manager with optional configuration.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		clients:  make(map[*Client]*connEntry),
		bufSize:  defaultSendBuffer,
		reapTick: defaultReapInterval,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(cm)
	}
	cm.log = cm.log.With("component", "ws")
	if cm.idleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopIdle = cancel
		go cm.idleReapLoop(ctx)
	}
	return cm
}

// Full reports whether a new connection would be rejected for capacity.
func (cm *ConnManager) Full() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.maxConns > 0 && len(cm.clients) >= cm.maxConns
}

// Add registers a client and starts its write pump. The returned context
// derives from parent and is cancelled when the client is removed, reaped,
// or the manager shuts down; the read loop should use it.
func (cm *ConnManager) Add(parent context.Context, c *Client) (context.Context, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil, ErrShuttingDown
	}
	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.rejected.Add(1)
		return nil, ErrAtCapacity
	}

	now := time.Now()
	c.mgr = cm
	c.send = make(chan []byte, cm.bufSize)
	c.ctx, c.cancel = context.WithCancel(parent)
	cm.clients[c] = &connEntry{connectedAt: now, lastActive: now}

	go cm.writePump(c)
	if cm.idleTTL > 0 {
		go cm.keepAlive(c, cm.idleTTL/3)
	}

	return c.ctx, nil
}

// Remove stops a client's write pump and forgets it. Frames sent to it
// afterwards are dropped.
func (cm *ConnManager) Remove(c *Client) {
	cm.mu.Lock()
	_, ok := cm.clients[c]
	delete(cm.clients, c)
	cm.mu.Unlock()

	if ok {
		c.cancel()
	}
}

// Send queues a message for delivery to the client. Returns false if the
// client's buffer is full (slow consumer) or the client has been removed.
func (cm *ConnManager) Send(c *Client, data []byte) bool {
	if c.ctx == nil || c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		cm.droppedMessages.Add(1)
		cm.log.Warn("send buffer full, dropping frame", "conn", c.id, "user", c.claims.UserID)
		return false
	}
}

// TouchActivity updates the last-active timestamp for a client.
func (cm *ConnManager) TouchActivity(c *Client) {
	cm.mu.Lock()
	if entry, ok := cm.clients[c]; ok {
		entry.lastActive = time.Now()
	}
	cm.mu.Unlock()
}

// Count returns the number of active connections.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns point-in-time connection statistics.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	maxConns := cm.maxConns
	cm.mu.Unlock()
	return ConnStats{
		Active:          active,
		MaxConns:        maxConns,
		Rejected:        cm.rejected.Load(),
		DroppedMessages: cm.droppedMessages.Load(),
		IdleReaped:      cm.idleReaped.Load(),
	}
}

// Shutdown closes every connection with StatusGoingAway and refuses new
// ones.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	clients := make([]*Client, 0, len(cm.clients))
	for c := range cm.clients {
		clients = append(clients, c)
	}
	cm.clients = make(map[*Client]*connEntry)
	cm.mu.Unlock()

	if cm.stopIdle != nil {
		cm.stopIdle()
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			c.cancel()
		}()
	}
	wg.Wait()
	cm.log.Info("connections closed", "count", len(clients))
}

func (cm *ConnManager) idleReapLoop(ctx context.Context) {
	ticker := time.NewTicker(cm.reapTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.reapIdle()
		}
	}
}

// reapIdle closes connections that have been idle longer than idleTTL.
func (cm *ConnManager) reapIdle() {
	cm.mu.Lock()
	now := time.Now()
	var stale []*Client
	for c, entry := range cm.clients {
		if now.Sub(entry.lastActive) > cm.idleTTL {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		delete(cm.clients, c)
	}
	cm.mu.Unlock()

	for _, c := range stale {
		cm.idleReaped.Add(1)
		c.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
		c.cancel()
		cm.log.Info("reaped idle connection", "conn", c.id, "user", c.claims.UserID)
	}
}

// keepAlive pings the client until it is removed. A pong counts as activity.
// Ping needs a concurrent reader on the connection; the handler's read loop
// is that reader.
func (cm *ConnManager) keepAlive(c *Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, every)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					cm.log.Debug("ping failed", "conn", c.id, "error", err)
				}
				continue
			}
			cm.TouchActivity(c)
		}
	}
}

// writePump drains the client's send channel until the client is removed.
// A failed write tears the client down so its read loop ends too.
func (cm *ConnManager) writePump(c *Client) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				cm.log.Debug("write failed", "conn", c.id, "error", err)
				c.cancel()
				return
			}
		}
	}
}
