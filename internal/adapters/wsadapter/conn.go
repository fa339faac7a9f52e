// Package wsadapter implements the WebSocket surface: per-connection
// state, channel subscriptions, message-rate enforcement, and heartbeat
// reaping.
package wsadapter

import (
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Connection is one live WebSocket client.
type Connection struct {
	ID          string
	TenantID    string
	UserID      string
	Roles       []string
	Permissions []string
	CreatedAt   time.Time

	mu            sync.Mutex
	subscriptions map[string]bool
	lastPing      time.Time

	sock *websocket.Conn
}

// Subscribe records a channel subscription.
func (c *Connection) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[channel] = true
}

// Unsubscribe removes a channel subscription.
func (c *Connection) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, channel)
}

// Subscribed reports whether the connection holds a subscription.
func (c *Connection) Subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[channel]
}

// TouchPing refreshes the liveness timestamp.
func (c *Connection) TouchPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPing = time.Now()
}

// LastPing returns the liveness timestamp.
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// HasPermission reports whether the connection carries a permission.
func (c *Connection) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// connTable is the concurrent connection registry, keyed by connection id.
type connTable struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[string]*Connection)}
}

func (t *connTable) add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID] = c
}

func (t *connTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

func (t *connTable) get(id string) *Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[id]
}

// countTenant counts live connections for a tenant.
func (t *connTable) countTenant(tenant string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.conns {
		if c.TenantID == tenant {
			n++
		}
	}
	return n
}

// snapshot returns the current connections; safe to iterate without the
// lock held.
func (t *connTable) snapshot() []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}
