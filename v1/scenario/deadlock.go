package scenario

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lockarena/lockarena/v1/harness"
	"github.com/lockarena/lockarena/v1/lock"
)

// DeadlockStatus is the outcome of one worker in the deadlock dance.
type DeadlockStatus string

const (
	// StatusCompleted means the worker took both locks and finished.
	StatusCompleted DeadlockStatus = "completed"
	// StatusTimeout means the worker gave up on its second lock after
	// polling for slightly longer than the lock TTL, released its first
	// lock and backed out.
	StatusTimeout DeadlockStatus = "timeout"
	// StatusFailFast means the worker lost its first lock immediately;
	// only possible under the mitigated canonical ordering.
	StatusFailFast DeadlockStatus = "fail-fast"
	// StatusError means the store broke underneath the worker.
	StatusError DeadlockStatus = "error"
)

// DeadlockResult records one worker's path through the two resources.
type DeadlockResult struct {
	WorkerID string
	Order    []string
	Status   DeadlockStatus
	Duration time.Duration
	Err      error
}

// DeadlockReport is the finalized outcome of one deadlock run.
type DeadlockReport struct {
	Mitigated bool
	Workers   []DeadlockResult
	// Deadlocked is the safety verdict: both workers timed out holding
	// one resource while waiting on the other's.
	Deadlocked bool
	Elapsed    time.Duration
}

// Deadlock races exactly two workers over two named resources. In the
// unmitigated mode worker 0 locks [A,B] while worker 1 locks [B,A], the
// classic circular wait. In the mitigated mode both lock in canonical
// sorted order, so the loser fails fast on its first lock and no cycle
// can form.
func Deadlock(ctx context.Context, cfg Config, mitigated bool) (*DeadlockReport, error) {
	ctx, span := tracer.Start(ctx, "scenario.Deadlock", trace.WithAttributes(
		attribute.Bool("arena.mitigated", mitigated),
	))
	defer span.End()

	if err := Setup(ctx, cfg); err != nil {
		return nil, err
	}

	resourceA, resourceB := "warehouse-a", "warehouse-b"
	orders := [2][]string{
		{resourceA, resourceB},
		{resourceB, resourceA},
	}
	if mitigated {
		for i := range orders {
			sort.Strings(orders[i])
		}
	}

	joinTimeout := cfg.JoinTimeout
	if joinTimeout == 0 {
		// Both workers may legitimately block for the full TTL.
		joinTimeout = 2*cfg.LockTTL + time.Second
	}
	runner := &harness.Runner[DeadlockResult]{
		Workers:     2,
		Redis:       cfg.Redis,
		JoinTimeout: joinTimeout,
	}
	start := time.Now()
	results, err := runner.Run(ctx, func(ctx context.Context, w harness.Worker) DeadlockResult {
		return deadlockWorker(ctx, cfg, w, orders[w.Index])
	})
	if err != nil {
		return nil, err
	}

	report := &DeadlockReport{
		Mitigated: mitigated,
		Workers:   results,
		Elapsed:   time.Since(start),
	}
	report.Deadlocked = results[0].Status == StatusTimeout && results[1].Status == StatusTimeout
	return report, nil
}

// deadlockWorker takes its first resource, then polls for the second
// until success or a deadline slightly past the lock TTL. On timeout it
// releases the first resource so the run can drain.
func deadlockWorker(ctx context.Context, cfg Config, w harness.Worker, resources []string) DeadlockResult {
	res := DeadlockResult{WorkerID: w.ID, Order: resources}
	locker := lock.NewSafe(w.Client)
	start := time.Now()

	ok, err := locker.Acquire(ctx, resources[0], cfg.LockTTL)
	if err != nil {
		res.Status, res.Err = StatusError, err
		res.Duration = time.Since(start)
		return res
	}
	if !ok {
		// Under canonical ordering both workers contend on the same
		// first resource; the loser backs out immediately.
		res.Status = StatusFailFast
		res.Duration = time.Since(start)
		return res
	}

	// Poll for the second resource until just past the lock TTL. The
	// deadline check runs before each attempt so a worker times out
	// instead of sneaking in on the other side's just-expired lock.
	deadline := start.Add(cfg.LockTTL)
	for {
		if time.Now().After(deadline) {
			_, _ = locker.Release(context.WithoutCancel(ctx), resources[0])
			res.Status = StatusTimeout
			res.Duration = time.Since(start)
			return res
		}
		ok, err := locker.Acquire(ctx, resources[1], cfg.LockTTL)
		if err != nil {
			_, _ = locker.Release(context.WithoutCancel(ctx), resources[0])
			res.Status, res.Err = StatusError, err
			res.Duration = time.Since(start)
			return res
		}
		if ok {
			_, _ = locker.Release(ctx, resources[1])
			_, _ = locker.Release(ctx, resources[0])
			res.Status = StatusCompleted
			res.Duration = time.Since(start)
			return res
		}
		select {
		case <-time.After(cfg.PollInterval):
		case <-ctx.Done():
			_, _ = locker.Release(context.WithoutCancel(ctx), resources[0])
			res.Status, res.Err = StatusError, ctx.Err()
			res.Duration = time.Since(start)
			return res
		}
	}
}
