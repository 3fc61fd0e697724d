package lock

import (
	"context"
	"sync"
	"time"
)

// NoOp grants every acquisition without contacting the store. It exists
// as the baseline that exposes raw race behavior: callers believe they
// hold a lock, but nothing excludes anyone.
type NoOp struct {
	mu   sync.Mutex
	held map[string]bool // locally believed, never store-verified
}

// NewNoOp returns a new no-op strategy.
func NewNoOp() *NoOp {
	return &NoOp{held: make(map[string]bool)}
}

// Acquire always succeeds.
func (n *NoOp) Acquire(_ context.Context, resource string, _ time.Duration) (bool, error) {
	n.mu.Lock()
	n.held[resource] = true
	n.mu.Unlock()
	return true, nil
}

// Release always reports success.
func (n *NoOp) Release(_ context.Context, resource string) (bool, error) {
	n.mu.Lock()
	delete(n.held, resource)
	n.mu.Unlock()
	return true, nil
}

// Held reports the local belief flag only.
func (n *NoOp) Held(_ context.Context, resource string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.held[resource], nil
}

func (n *NoOp) Kind() Kind { return KindNoOp }
