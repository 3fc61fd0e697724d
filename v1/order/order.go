// Package order composes a lock strategy and the stock ledger into a
// single purchase operation: lock, check-and-decrement, release. The
// lock is released on every exit path, including panics inside the
// critical section.
package order

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lockarena/lockarena/v1/backoff"
	"github.com/lockarena/lockarena/v1/ledger"
	"github.com/lockarena/lockarena/v1/lock"
	"github.com/lockarena/lockarena/v1/metrics"
)

var tracer = otel.Tracer("github.com/lockarena/lockarena/v1/order")

// Result is the immutable record of one purchase attempt, the unit the
// harness collects.
type Result struct {
	WorkerID     string
	Success      bool
	LockAcquired bool
	StockBefore  int
	StockAfter   int
	Retries      int
	Duration     time.Duration
	Err          error
}

// Coordinator runs purchase attempts for one worker. Each worker owns
// its own coordinator, strategy and store connection; the store is the
// only shared state.
type Coordinator struct {
	workerID string
	locker   lock.Strategy
	ledger   *ledger.Ledger
	product  string
	quantity int
	ttl      time.Duration

	// processingDelay is injected between the ledger's read and write so
	// race windows open under controlled timing.
	processingDelay time.Duration
}

// NewCoordinator wires a worker's lock strategy and ledger handle into a
// purchase pipeline for one product. Quantity per purchase is 1.
func NewCoordinator(workerID string, locker lock.Strategy, led *ledger.Ledger, product string, ttl, processingDelay time.Duration) *Coordinator {
	return &Coordinator{
		workerID:        workerID,
		locker:          locker,
		ledger:          led,
		product:         product,
		quantity:        1,
		ttl:             ttl,
		processingDelay: processingDelay,
	}
}

// Purchase runs one attempt: acquire the lock, decrement stock through
// the non-atomic path, release. Contention and insufficient stock are
// reported in the Result, never as errors.
func (c *Coordinator) Purchase(ctx context.Context) Result {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Coordinator.Purchase", trace.WithAttributes(
		attribute.String("arena.worker", c.workerID),
		attribute.String("arena.strategy", string(c.locker.Kind())),
	))
	defer span.End()

	res := Result{WorkerID: c.workerID}
	c.attempt(ctx, &res)
	res.Duration = time.Since(start)
	return res
}

// PurchaseWithRetry wraps the acquire step in a bounded retry loop,
// waiting policy.Delay(attempt) after each contended try. A worker that
// exhausts maxAttempts reports a lock failure, not an error.
func (c *Coordinator) PurchaseWithRetry(ctx context.Context, policy backoff.Policy, maxAttempts int) Result {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Coordinator.PurchaseWithRetry", trace.WithAttributes(
		attribute.String("arena.worker", c.workerID),
		attribute.String("arena.policy", policy.String()),
	))
	defer span.End()

	res := Result{WorkerID: c.workerID}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.attempt(ctx, &res)
		if res.LockAcquired || res.Err != nil {
			break
		}
		res.Retries = attempt
		if attempt == maxAttempts {
			break
		}
		metrics.RetryCounter.WithLabelValues(policy.String()).Inc()
		select {
		case <-time.After(policy.Delay(attempt)):
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		}
	}
	res.Duration = time.Since(start)
	return res
}

// attempt runs the state machine once: LOCK_ACQUIRE, then
// STOCK_CHECK_AND_DECREMENT under the lock, with the release deferred so
// it runs on success, insufficient stock, store failure, and panic
// alike.
func (c *Coordinator) attempt(ctx context.Context, res *Result) {
	metrics.AcquireCounter.WithLabelValues(string(c.locker.Kind())).Inc()
	acquired, err := c.locker.Acquire(ctx, c.product, c.ttl)
	if err != nil {
		res.Err = err
		return
	}
	if !acquired {
		metrics.ContentionCounter.WithLabelValues(string(c.locker.Kind())).Inc()
		res.LockAcquired = false
		return
	}
	res.LockAcquired = true
	defer func() {
		// Release must not be skipped by cancellation of the attempt.
		_, rerr := c.locker.Release(context.WithoutCancel(ctx), c.product)
		if rerr != nil && res.Err == nil {
			res.Err = rerr
		}
		metrics.ReleaseCounter.WithLabelValues(string(c.locker.Kind())).Inc()
	}()

	ok, before, err := c.ledger.DecrementNonAtomic(ctx, c.product, c.quantity, c.processingDelay)
	res.StockBefore = before
	if err != nil {
		res.Err = err
		return
	}
	res.Success = ok
	after, err := c.ledger.Stock(ctx, c.product)
	if err != nil {
		res.Err = err
		return
	}
	res.StockAfter = after
}
