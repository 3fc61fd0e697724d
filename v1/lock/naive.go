package lock

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Naive is the textbook-broken Redis lock. Two defects are reproduced on
// purpose and must stay:
//
//   - Acquire issues SETNX and then a separate EXPIRE. A caller dying
//     between the two leaves a key with no expiry, a permanent lock.
//   - Release issues an unconditional DEL. Any caller can free a lock it
//     never held, so two workers can both believe they own it.
type Naive struct {
	client *redis.Client

	mu   sync.Mutex
	held map[string]bool // locally believed, never store-verified
}

// NewNaive returns a naive locker using the provided client.
func NewNaive(client *redis.Client) *Naive {
	return &Naive{client: client, held: make(map[string]bool)}
}

// Acquire takes the lock with a non-atomic SETNX + EXPIRE pair.
func (n *Naive) Acquire(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := lockKey(resource)
	ok, err := n.client.SetNX(ctx, key, "1", 0).Result()
	if err != nil {
		return false, storeErr(err)
	}
	if !ok {
		return false, nil
	}
	// The gap: a crash here leaves the key without an expiry.
	if err := n.client.Expire(ctx, key, ttl).Err(); err != nil {
		return false, storeErr(err)
	}
	n.mu.Lock()
	n.held[resource] = true
	n.mu.Unlock()
	return true, nil
}

// Release deletes the key with no ownership check. It reports true
// whenever a key was deleted, even for a caller that never acquired it.
func (n *Naive) Release(ctx context.Context, resource string) (bool, error) {
	deleted, err := n.client.Del(ctx, lockKey(resource)).Result()
	if err != nil {
		return false, storeErr(err)
	}
	n.mu.Lock()
	delete(n.held, resource)
	n.mu.Unlock()
	return deleted > 0, nil
}

// Held reports the local belief flag, not the store's state.
func (n *Naive) Held(_ context.Context, resource string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.held[resource], nil
}

func (n *Naive) Kind() Kind { return KindNaive }
