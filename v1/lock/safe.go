package lock

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	redis "github.com/redis/go-redis/v9"
)

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Safe implements the token-verified lock. Acquisition is a single
// SET NX PX so there is no set/expire gap, release is an atomic
// compare-and-delete so only the owner can free it, and the TTL bounds
// the damage of a crashed holder. The one residual risk is inherent: a
// critical section that outlives the TTL loses the lock mid-flight.
type Safe struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

// NewSafe returns a safe locker using the provided client.
func NewSafe(client *redis.Client) *Safe {
	return &Safe{client: client, tokens: make(map[string]string)}
}

// Acquire takes the lock with one atomic SET key token NX PX ttl. A
// fresh 128-bit token is generated per attempt and remembered so Release
// and Held can prove ownership.
func (s *Safe) Acquire(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	token, err := newToken()
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, lockKey(resource), token, ttl).Result()
	if err != nil {
		return false, storeErr(err)
	}
	if ok {
		s.mu.Lock()
		s.tokens[resource] = token
		s.mu.Unlock()
	}
	return ok, nil
}

// Release frees the lock only if the store still carries this instance's
// token, deleting and comparing in one server-side script. It returns
// true only when the delete actually happened.
func (s *Safe) Release(ctx context.Context, resource string) (bool, error) {
	s.mu.Lock()
	token, ok := s.tokens[resource]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	res, err := delScript.Run(ctx, s.client, []string{lockKey(resource)}, token).Result()
	if err == redis.Nil {
		err = nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	s.mu.Lock()
	delete(s.tokens, resource)
	s.mu.Unlock()
	deleted, _ := res.(int64)
	return deleted == 1, nil
}

// Held verifies ownership against the store: the stored value must match
// the locally remembered token byte for byte.
func (s *Safe) Held(ctx context.Context, resource string) (bool, error) {
	s.mu.Lock()
	token, ok := s.tokens[resource]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	val, err := s.client.Get(ctx, lockKey(resource)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return val == token, nil
}

func (s *Safe) Kind() Kind { return KindSafe }

func newToken() (string, error) {
	b, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
