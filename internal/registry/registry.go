// Package registry tracks live peer connections, keyed by user id. It is
// the single source of presence truth for the hub: the registry is read
// on every relay and written only on connect/disconnect.
package registry

import (
	"log/slog"
	"sync"
	"time"
)

// SendTimeout bounds how long a write to one peer's outbound queue may
// block before it is considered unresponsive and the message is dropped.
const SendTimeout = 50 * time.Millisecond

// Sender is the handle the registry uses to close one peer's socket when
// a newer connection supersedes it. In production it wraps the peer's
// *websocket.Conn; messages are delivered through Connection.Send, not
// through Sender. Tests can substitute anything that satisfies it.
type Sender interface {
	// Close terminates the underlying socket with the given status code.
	Close(statusCode int, reason string)
}

// Connection is exactly one per authenticated socket: the user it
// belongs to, a handle used to reach it, and when it connected.
type Connection struct {
	UserID      string
	Send        chan any
	Sender      Sender
	ConnectedAt time.Time
}

// Registry maps UserID to at most one live Connection. Second socket
// for the same UserID supersedes the first.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register installs conn as the live connection for UserID, closing and
// replacing any prior connection for the same user with status 1001
// (server-initiated supersession, per the external interface contract).
// Returns the prior connection if one existed (already closed).
func (r *Registry) Register(conn *Connection) *Connection {
	r.mu.Lock()
	prior := r.conns[conn.UserID]
	r.conns[conn.UserID] = conn
	r.mu.Unlock()

	if prior != nil {
		slog.Info("connection superseded", "user_id", conn.UserID)
		prior.Sender.Close(1001, "superseded by new connection")
	}
	return prior
}

// Unregister removes conn from the registry, but only if it is still the
// stored connection for its UserID — a stale unregister from a
// superseded socket must never evict its successor.
func (r *Registry) Unregister(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[conn.UserID]
	if !ok || cur != conn {
		return false
	}
	delete(r.conns, conn.UserID)
	return true
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// IsOnline reports whether userID currently has a live connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserIDs returns a snapshot of all currently connected user ids.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// SendTo enqueues msg on userID's outbound channel. It returns false if
// the user is not connected or the channel is full past SendTimeout —
// the hub never blocks the caller waiting on a slow peer.
func (r *Registry) SendTo(userID string, msg any) bool {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return trySend(conn.Send, msg)
}

func trySend(ch chan any, msg any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- msg:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("registry send timeout")
		return false
	}
}
