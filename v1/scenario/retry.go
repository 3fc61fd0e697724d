package scenario

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lockarena/lockarena/v1/backoff"
	"github.com/lockarena/lockarena/v1/harness"
	"github.com/lockarena/lockarena/v1/ledger"
	"github.com/lockarena/lockarena/v1/lock"
	"github.com/lockarena/lockarena/v1/order"
)

// RetryReport aggregates one policy's run: how long the whole herd
// took, how many got through, how hard they had to retry, and how
// spread out their completion times were. The stddev is the fairness
// metric; jitter is expected to shrink it.
type RetryReport struct {
	Policy       string
	Workers      int
	Successes    int
	LockFailures int
	MeanRetries  float64
	// CompletionStdDev is the standard deviation of per-worker
	// completion times.
	CompletionStdDev time.Duration
	Elapsed          time.Duration
}

// RetryComparison runs the identical contention setup once per delay
// policy (fixed, exponential, exponential+jitter), with every worker
// retrying the safe lock up to cfg.MaxAttempts times.
func RetryComparison(ctx context.Context, cfg Config) ([]RetryReport, error) {
	ctx, span := tracer.Start(ctx, "scenario.RetryComparison", trace.WithAttributes(
		attribute.Int("arena.workers", cfg.Workers),
		attribute.Int("arena.max_attempts", cfg.MaxAttempts),
	))
	defer span.End()

	policies := []backoff.Policy{
		backoff.Fixed{Base: cfg.RetryBase},
		backoff.Exponential{Base: cfg.RetryBase, Cap: cfg.RetryCap},
		backoff.NewJitter(cfg.RetryBase, cfg.RetryCap),
	}

	reports := make([]RetryReport, 0, len(policies))
	for _, policy := range policies {
		rep, err := retryRun(ctx, cfg, policy)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func retryRun(ctx context.Context, cfg Config, policy backoff.Policy) (RetryReport, error) {
	if err := Setup(ctx, cfg); err != nil {
		return RetryReport{}, err
	}

	runner := &harness.Runner[order.Result]{
		Workers:     cfg.Workers,
		Redis:       cfg.Redis,
		JoinTimeout: cfg.JoinTimeout,
	}
	start := time.Now()
	results, err := runner.Run(ctx, func(ctx context.Context, w harness.Worker) order.Result {
		coord := order.NewCoordinator(w.ID, lock.NewSafe(w.Client), ledger.New(w.Client), cfg.Product, cfg.LockTTL, cfg.ProcessingDelay)
		return coord.PurchaseWithRetry(ctx, policy, cfg.MaxAttempts)
	})
	if err != nil {
		return RetryReport{}, err
	}

	rep := RetryReport{
		Policy:  policy.String(),
		Workers: cfg.Workers,
		Elapsed: time.Since(start),
	}
	var retries int
	completions := make([]float64, 0, len(results))
	for _, res := range results {
		if res.Success {
			rep.Successes++
		} else if !res.LockAcquired && res.Err == nil {
			rep.LockFailures++
		}
		retries += res.Retries
		completions = append(completions, float64(res.Duration))
	}
	if len(results) > 0 {
		rep.MeanRetries = float64(retries) / float64(len(results))
	}
	rep.CompletionStdDev = time.Duration(stdDev(completions))
	return rep, nil
}

func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}
