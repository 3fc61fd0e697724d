package lock

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "arena:lock:"

// Kind selects one of the lock strategies.
type Kind string

const (
	// KindNoOp never contacts the store; the raw-race baseline.
	KindNoOp Kind = "none"
	// KindNaive acquires with a set-then-expire gap and releases without
	// an ownership check.
	KindNaive Kind = "naive"
	// KindSafe acquires atomically with a per-attempt token and releases
	// via an atomic compare-and-delete.
	KindSafe Kind = "safe"
)

// Strategy is the contract every lock variant implements over a named
// resource. Acquire and Release report contention outcomes as booleans;
// errors are reserved for store failures.
type Strategy interface {
	// Acquire tries to take the lock once. It returns false when the
	// resource is already locked.
	Acquire(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	// Release frees the lock. Whether ownership is verified depends on
	// the variant; see the implementations.
	Release(ctx context.Context, resource string) (bool, error)
	// Held reports whether this instance holds the lock. Only the safe
	// variant verifies against the store; the others report a local
	// belief flag.
	Held(ctx context.Context, resource string) (bool, error)
	Kind() Kind
}

// New builds the strategy named by kind. The client may be nil for
// KindNoOp.
func New(kind Kind, client *redis.Client) (Strategy, error) {
	switch kind {
	case KindNoOp:
		return NewNoOp(), nil
	case KindNaive:
		return NewNaive(client), nil
	case KindSafe:
		return NewSafe(client), nil
	default:
		return nil, fmt.Errorf("unknown lock strategy %q", kind)
	}
}

func lockKey(resource string) string {
	return keyPrefix + resource
}
