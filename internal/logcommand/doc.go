// Package logcommand models the command-dispatch interface the Cluster
// Coordinator's replicated-log entries are applied through. Real command
// handlers (the ones that turn a committed log entry into a replica delta)
// are external collaborators per spec.md §1; this package only supplies the
// open dispatch registry they plug into, per the "dynamic dispatch on an
// open set of store implementations" design note in §9.
package logcommand

import (
	"context"
	"fmt"
	"sync"
)

// Kind identifies a command type, e.g. "peer-born", "plan-job", "ack".
type Kind string

// Handler applies one committed command's payload. Handlers are expected to
// be idempotent where the underlying store operation is (mirroring the
// fact store's own idempotent mark-peer-born/ack/complete semantics).
type Handler func(ctx context.Context, payload any) error

// Registry is an open, concurrency-safe set of command handlers keyed by
// Kind. The zero value is ready to use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register installs handler for kind, replacing any previous registration.
func (r *Registry) Register(kind Kind, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[Kind]Handler)
	}
	r.handlers[kind] = handler
}

// Dispatch looks up the handler for kind and invokes it with payload. It
// returns an error if no handler is registered.
func (r *Registry) Dispatch(ctx context.Context, kind Kind, payload any) error {
	r.mu.RLock()
	handler, ok := r.handlers[kind]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("logcommand: no handler registered for %q", kind)
	}
	return handler(ctx, payload)
}
