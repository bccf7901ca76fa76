package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of currently connected observers. All membership
// changes go through Register and Unregister under mu; readers iterate the
// copy returned by Snapshot.
type Registry struct {
	mu       sync.RWMutex
	conns    map[uuid.UUID]Conn
	maxConns int
	closed   bool
	onChange func(n int)
}

type RegistryOption func(*Registry)

// WithMembershipHook installs fn to be called with the new member count after
// every change. fn runs under the registry lock and must not call back into
// the registry.
func WithMembershipHook(fn func(n int)) RegistryOption {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry creates an empty registry. maxConns <= 0 means unlimited.
func NewRegistry(maxConns int, opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:    make(map[uuid.UUID]Conn),
		maxConns: maxConns,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds conn. It fails without side effects if conn is already a
// member, the registry is full, or the registry has been closed.
func (r *Registry) Register(conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.conns[conn.ID()]; ok {
		return ErrAlreadyRegistered
	}
	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return ErrTooManyConnections
	}

	r.conns[conn.ID()] = conn
	r.notifyLocked()
	return nil
}

// Unregister removes conn and reports whether it was a member. Removing an
// absent conn is a no-op.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; !ok {
		return false
	}
	delete(r.conns, conn.ID())
	r.notifyLocked()
	return true
}

// Snapshot returns a copy of the current membership in no particular order.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close empties the registry, refuses further registrations and returns the
// removed members so the caller can release them.
func (r *Registry) Close() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	conns := make([]Conn, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	r.notifyLocked()
	return conns
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(len(r.conns))
	}
}
