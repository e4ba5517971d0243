// Package waiter implements the thread-safe msg_id -> completion-primitive
// registry that lets a caller inject a request frame and synchronously
// await the matching response.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/liqi-mitm/core/internal/codec"
)

// ErrDuplicateWaiter is returned by Register when a waiter already exists
// for the given msg_id.
var ErrDuplicateWaiter = errors.New("waiter: duplicate waiter")

// entry pairs a cross-thread-signalable completion primitive with a slot
// for the eventual response. done is closed exactly once by Resolve; it
// is the Go analogue of the spec's "completion_event" that both an async
// scheduler and a blocking OS thread can wait on.
type entry struct {
	done     chan struct{}
	response *codec.Frame
}

// Registry is a thread-safe map from msg_id to a waiter entry. The inbound
// hook path calls Resolve synchronously from the owning connection's
// goroutine; caller goroutines block on Wait with a bounded deadline. Both
// sides only ever touch entries through the locked map, so the same
// registry serves the "async" and "sync" callers the spec's original
// register_waiter_sync / async bridge distinguished.
type Registry struct {
	mu      sync.Mutex
	waiters map[uint16]*entry
}

// New returns an empty waiter registry.
func New() *Registry {
	return &Registry{waiters: make(map[uint16]*entry)}
}

// Register inserts a new waiter for msg_id. It must be called before the
// corresponding request is injected — injecting first risks the response
// racing back before a waiter exists to catch it, silently dropping a
// reply that Resolve would otherwise deliver.
func (r *Registry) Register(msgID uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waiters[msgID]; exists {
		return fmt.Errorf("%w: msg_id %d", ErrDuplicateWaiter, msgID)
	}
	r.waiters[msgID] = &entry{done: make(chan struct{})}
	return nil
}

// Resolve stores resp in the waiter's slot and signals completion. It is a
// no-op if no waiter is registered for msgID — late or unsolicited
// responses must never error the inbound path. Resolve is safe to call
// from the hook engine even when the frame is about to be dropped: the
// engine is expected to call Resolve before suppressing emission.
func (r *Registry) Resolve(msgID uint16, resp *codec.Frame) {
	r.mu.Lock()
	e, ok := r.waiters[msgID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.done:
		// already resolved (or discarded then resolved again); ignore.
	default:
		e.response = resp
		close(e.done)
	}
}

// Wait blocks until msgID's waiter resolves or ctx is done, whichever comes
// first. It does not consume the response slot; call PopResponse after a
// successful Wait to retrieve and remove it.
func (r *Registry) Wait(ctx context.Context, msgID uint16) error {
	r.mu.Lock()
	e, ok := r.waiters[msgID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("waiter: no such waiter: %d", msgID)
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PopResponse removes and returns the resolved response for msgID. It
// should only be called after Wait has returned successfully.
func (r *Registry) PopResponse(msgID uint16) (*codec.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.waiters[msgID]
	if !ok {
		return nil, false
	}
	delete(r.waiters, msgID)
	select {
	case <-e.done:
		return e.response, true
	default:
		return nil, false
	}
}

// Discard removes msgID's waiter without signaling it, used on timeout so
// a late Resolve finds nothing to complete.
func (r *Registry) Discard(msgID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, msgID)
}

// Len reports the number of outstanding waiters, mostly for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
