// Active connection registry.
//
// Registry tracks the server's active set: every accepted connection the
// accept loop has admitted, keyed by its cycling [10000,20000) identity.
// A sync.RWMutex guards the map itself: read-mostly lookups (MessageClient,
// snapshotting for broadcast) take the read lock, structural changes
// (Add/Remove) take the write lock.
package server

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/alxayo/tcpconn/internal/tcpconn/conn"
)

// Registry holds the server's active connections keyed by connection ID,
// generic over the same message shape as its owning Server.
type Registry[T any] struct {
	mu    sync.RWMutex
	conns map[uint32]*conn.Conn[T]
}

// NewRegistry creates an empty active-connection registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{conns: make(map[uint32]*conn.Conn[T])}
}

// Add admits a connection to the active set.
func (r *Registry[T]) Add(c *conn.Conn[T]) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()
}

// Remove prunes a connection from the active set by ID.
func (r *Registry[T]) Remove(id uint32) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Get returns the connection for id, or nil if it is not in the active set.
func (r *Registry[T]) Get(id uint32) *conn.Conn[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Count returns the number of connections currently in the active set.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns a stable copy of the active set for iteration (e.g.
// broadcast) without holding the registry lock across I/O.
func (r *Registry[T]) Snapshot() []*conn.Conn[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conn.Conn[T], 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// PruneDead removes every connection in the active set that is no longer
// connected and returns their IDs, so the caller can fire
// OnClientDisconnected for each in the same sweep it broadcasts in.
func (r *Registry[T]) PruneDead() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dead []uint32
	for id, c := range r.conns {
		if !c.IsConnected() {
			dead = append(dead, id)
			delete(r.conns, id)
		}
	}
	return dead
}

// CloseAll closes every connection currently in the active set and empties
// it, returning every non-nil Close error combined via multierr so Stop can
// report all of them instead of only the first. Used by Stop for graceful
// shutdown.
func (r *Registry[T]) CloseAll() error {
	r.mu.Lock()
	conns := make([]*conn.Conn[T], 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[uint32]*conn.Conn[T])
	r.mu.Unlock()

	var errs error
	for _, c := range conns {
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}

// idCycler cycles server connection identities through [10000,20000),
// wrapping without collision detection.
type idCycler struct {
	mu  sync.Mutex
	cur uint32
}

const (
	idRangeStart = 10000
	idRangeSize  = 10000
)

func (n *idCycler) next() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := idRangeStart + n.cur%idRangeSize
	n.cur++
	return id
}
