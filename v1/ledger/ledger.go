// Package ledger gives read/write access to a named stock counter in
// Redis. It deliberately offers two decrement paths: an atomic
// server-side script, and a non-atomic read-modify-write whose race
// window can be widened with a simulated delay. Mutual exclusion is the
// lock's job, not the ledger's, so the unsafe path is the default one
// the order coordinator uses.
package ledger

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "arena:stock:"

var decrScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local qty = tonumber(ARGV[1])
if cur >= qty then
    redis.call("DECRBY", KEYS[1], qty)
    return 1
end
return 0
`)

// Ledger reads and writes stock counters through a Redis client.
type Ledger struct {
	client *redis.Client
}

// New returns a ledger using the provided client.
func New(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

// SetStock writes the counter to qty unconditionally. Calling it twice
// with the same quantity is a no-op the second time; it is the reset
// operation scenario setup relies on.
func (l *Ledger) SetStock(ctx context.Context, product string, qty int) error {
	if err := l.client.Set(ctx, stockKey(product), qty, 0).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// Stock returns the current counter value. A missing key reads as 0.
func (l *Ledger) Stock(ctx context.Context, product string) (int, error) {
	val, err := l.client.Get(ctx, stockKey(product)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr(err)
	}
	return val, nil
}

// IncrementStock adds qty back to the counter, for rollback paths.
func (l *Ledger) IncrementStock(ctx context.Context, product string, qty int) (int, error) {
	val, err := l.client.IncrBy(ctx, stockKey(product), int64(qty)).Result()
	if err != nil {
		return 0, storeErr(err)
	}
	return int(val), nil
}

// DecrementAtomic subtracts qty only if the counter covers it, in one
// server-side script with no observable intermediate state. It returns
// false when stock is insufficient.
func (l *Ledger) DecrementAtomic(ctx context.Context, product string, qty int) (bool, error) {
	res, err := decrScript.Run(ctx, l.client, []string{stockKey(product)}, qty).Result()
	if err != nil {
		return false, storeErr(err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// DecrementNonAtomic is the classic broken read-modify-write: read the
// counter, check it against qty, optionally hold for delay to widen the
// race window, then decrement with no re-check. Racing callers all read
// the same stale value, all pass the check, and all subtract, driving
// the counter negative. It returns the value it read.
func (l *Ledger) DecrementNonAtomic(ctx context.Context, product string, qty int, delay time.Duration) (bool, int, error) {
	cur, err := l.Stock(ctx, product)
	if err != nil {
		return false, 0, err
	}
	if cur < qty {
		return false, cur, nil
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, cur, ctx.Err()
		}
	}
	if err := l.client.DecrBy(ctx, stockKey(product), int64(qty)).Err(); err != nil {
		return false, cur, storeErr(err)
	}
	return true, cur, nil
}

func stockKey(product string) string {
	return keyPrefix + product
}
