package scenario

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lockarena/lockarena/v1/harness"
	"github.com/lockarena/lockarena/v1/ledger"
	"github.com/lockarena/lockarena/v1/lock"
)

// CrashReport is the finalized outcome of the crash-recovery scenario:
// one worker dies holding the lock, a second one must get in only after
// the TTL expires it.
type CrashReport struct {
	CrasherAcquired bool
	// ImmediateAcquire is the recoverer's first try while the crasher
	// still holds the lock; expected false.
	ImmediateAcquire bool
	// RecoveredAt is when the recoverer finally acquired, measured from
	// run start. Expected at ≈TTL.
	RecoveredAt time.Duration
	// RecoveredAfterTTL is the liveness verdict: the lock self-expired,
	// nobody had to intervene.
	RecoveredAfterTTL bool
	// Recovered means the recoverer completed its critical section.
	Recovered  bool
	FinalStock int
	Elapsed    time.Duration
}

type crashResult struct {
	acquired   bool
	firstTry   bool
	acquiredAt time.Duration
	completed  bool
	err        error
}

// CrashRecovery has worker 0 acquire the lock and "die" without
// releasing. Worker 1 must fail immediately, then succeed once the TTL
// expires the orphaned lock, and complete its own decrement safely.
func CrashRecovery(ctx context.Context, cfg Config) (*CrashReport, error) {
	ctx, span := tracer.Start(ctx, "scenario.CrashRecovery", trace.WithAttributes(
		attribute.Int64("arena.ttl_ms", cfg.LockTTL.Milliseconds()),
	))
	defer span.End()

	if err := Setup(ctx, cfg); err != nil {
		return nil, err
	}

	joinTimeout := cfg.JoinTimeout
	if joinTimeout == 0 {
		joinTimeout = 2*cfg.LockTTL + time.Second
	}
	runner := &harness.Runner[crashResult]{Workers: 2, Redis: cfg.Redis, JoinTimeout: joinTimeout}
	start := time.Now()
	results, err := runner.Run(ctx, func(ctx context.Context, w harness.Worker) crashResult {
		locker := lock.NewSafe(w.Client)
		if w.Index == 0 {
			// Simulated death: acquire and never release. The TTL is
			// the only thing that frees the lock.
			ok, err := locker.Acquire(ctx, cfg.Product, cfg.LockTTL)
			return crashResult{acquired: ok, err: err}
		}

		// Give the crasher a head start before probing.
		time.Sleep(cfg.PollInterval)
		res := crashResult{}
		ok, err := locker.Acquire(ctx, cfg.Product, cfg.LockTTL)
		if err != nil {
			res.err = err
			return res
		}
		res.firstTry = ok
		deadline := start.Add(2 * cfg.LockTTL)
		for !ok {
			if time.Now().After(deadline) {
				return res
			}
			time.Sleep(cfg.PollInterval)
			ok, err = locker.Acquire(ctx, cfg.Product, cfg.LockTTL)
			if err != nil {
				res.err = err
				return res
			}
		}
		res.acquired = true
		res.acquiredAt = time.Since(start)
		led := ledger.New(w.Client)
		if done, _, err := led.DecrementNonAtomic(ctx, cfg.Product, 1, 0); err != nil {
			res.err = err
		} else {
			res.completed = done
		}
		_, _ = locker.Release(context.WithoutCancel(ctx), cfg.Product)
		return res
	})
	if err != nil {
		return nil, err
	}

	final, err := finalStock(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CrashReport{
		CrasherAcquired:   results[0].acquired,
		ImmediateAcquire:  results[1].firstTry,
		RecoveredAt:       results[1].acquiredAt,
		RecoveredAfterTTL: results[1].acquired && results[1].acquiredAt >= cfg.LockTTL-cfg.PollInterval,
		Recovered:         results[1].completed,
		FinalStock:        final,
		Elapsed:           time.Since(start),
	}, nil
}

// ExpiryReport is the finalized outcome of the TTL-shorter-than-work
// scenario. DualDecrement is the expected defect signal, not a bug to
// prevent: with ttl < work the holder's lock expires mid-operation, an
// intruder gets in, and both decrements land.
type ExpiryReport struct {
	TTL  time.Duration
	Work time.Duration

	HolderDecremented bool
	// HolderLostLock means the holder's release found someone else's
	// token (or none) when its work finally finished.
	HolderLostLock bool

	IntruderAcquiredAt  time.Duration
	IntruderDecremented bool
	// IntruderBeforeHolderDone is true when the intruder's decrement
	// completed strictly before the holder's work did.
	IntruderBeforeHolderDone bool

	DualDecrement bool
	FinalStock    int
	Elapsed       time.Duration
}

type expiryResult struct {
	acquired    bool
	acquiredAt  time.Duration
	decremented bool
	decrementAt time.Duration
	finishedAt  time.Duration
	releasedOwn bool
	err         error
}

// TTLExpiry runs the deliberate ttl < work misconfiguration. Worker 0
// acquires with cfg.LockTTL and pretends to work for cfg.WorkDuration;
// worker 1 polls, takes over the expired lock mid-operation, and
// decrements. Both decrements landing is the scenario's point.
func TTLExpiry(ctx context.Context, cfg Config) (*ExpiryReport, error) {
	ctx, span := tracer.Start(ctx, "scenario.TTLExpiry", trace.WithAttributes(
		attribute.Int64("arena.ttl_ms", cfg.LockTTL.Milliseconds()),
		attribute.Int64("arena.work_ms", cfg.WorkDuration.Milliseconds()),
	))
	defer span.End()

	// Both workers will decrement; the defect under study is the double
	// entry into the critical section, not an oversell.
	if cfg.InitialStock < 2 {
		cfg.InitialStock = 2
	}
	if err := Setup(ctx, cfg); err != nil {
		return nil, err
	}

	joinTimeout := cfg.JoinTimeout
	if joinTimeout == 0 {
		joinTimeout = cfg.WorkDuration + cfg.LockTTL + time.Second
	}
	runner := &harness.Runner[expiryResult]{Workers: 2, Redis: cfg.Redis, JoinTimeout: joinTimeout}
	start := time.Now()
	results, err := runner.Run(ctx, func(ctx context.Context, w harness.Worker) expiryResult {
		locker := lock.NewSafe(w.Client)
		led := ledger.New(w.Client)
		res := expiryResult{}

		if w.Index == 0 {
			ok, err := locker.Acquire(ctx, cfg.Product, cfg.LockTTL)
			if err != nil || !ok {
				res.err = err
				return res
			}
			res.acquired = true
			res.acquiredAt = time.Since(start)
			time.Sleep(cfg.WorkDuration) // the long operation the TTL does not cover
			done, _, err := led.DecrementNonAtomic(ctx, cfg.Product, 1, 0)
			if err != nil {
				res.err = err
				return res
			}
			res.decremented = done
			res.decrementAt = time.Since(start)
			res.finishedAt = time.Since(start)
			released, _ := locker.Release(ctx, cfg.Product)
			res.releasedOwn = released
			return res
		}

		time.Sleep(cfg.PollInterval)
		deadline := start.Add(cfg.WorkDuration)
		for {
			ok, err := locker.Acquire(ctx, cfg.Product, cfg.LockTTL)
			if err != nil {
				res.err = err
				return res
			}
			if ok {
				break
			}
			if time.Now().After(deadline) {
				return res
			}
			time.Sleep(cfg.PollInterval)
		}
		res.acquired = true
		res.acquiredAt = time.Since(start)
		done, _, err := led.DecrementNonAtomic(ctx, cfg.Product, 1, 0)
		if err != nil {
			res.err = err
			return res
		}
		res.decremented = done
		res.decrementAt = time.Since(start)
		released, _ := locker.Release(ctx, cfg.Product)
		res.releasedOwn = released
		res.finishedAt = time.Since(start)
		return res
	})
	if err != nil {
		return nil, err
	}

	final, err := finalStock(ctx, cfg)
	if err != nil {
		return nil, err
	}
	holder, intruder := results[0], results[1]
	return &ExpiryReport{
		TTL:                      cfg.LockTTL,
		Work:                     cfg.WorkDuration,
		HolderDecremented:        holder.decremented,
		HolderLostLock:           holder.acquired && !holder.releasedOwn,
		IntruderAcquiredAt:       intruder.acquiredAt,
		IntruderDecremented:      intruder.decremented,
		IntruderBeforeHolderDone: intruder.decremented && intruder.decrementAt < holder.finishedAt,
		DualDecrement:            holder.decremented && intruder.decremented,
		FinalStock:               final,
		Elapsed:                  time.Since(start),
	}, nil
}
