// Package scenario contains the drivers that race real parallel workers
// against the shared store: oversell, deadlock, crash/TTL expiry, and
// retry-policy comparison. Every driver resets the store first and
// returns a finalized report with first-class safety verdicts.
package scenario

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lockarena/lockarena/v1/harness"
	"github.com/lockarena/lockarena/v1/ledger"
	"github.com/lockarena/lockarena/v1/lock"
	"github.com/lockarena/lockarena/v1/order"
)

var tracer = otel.Tracer("github.com/lockarena/lockarena/v1/scenario")

// Oversell races cfg.Workers workers, each buying one unit with the
// chosen lock strategy. With a unit of stock and an unsafe strategy the
// counter goes negative; the report's Oversold verdict says whether it
// did.
func Oversell(ctx context.Context, cfg Config, kind lock.Kind) (*harness.Report, error) {
	ctx, span := tracer.Start(ctx, "scenario.Oversell", trace.WithAttributes(
		attribute.String("arena.strategy", string(kind)),
		attribute.Int("arena.workers", cfg.Workers),
	))
	defer span.End()

	if err := Setup(ctx, cfg); err != nil {
		return nil, err
	}

	runner := &harness.Runner[order.Result]{
		Workers:     cfg.Workers,
		Redis:       cfg.Redis,
		JoinTimeout: cfg.JoinTimeout,
	}
	start := time.Now()
	results, err := runner.Run(ctx, func(ctx context.Context, w harness.Worker) order.Result {
		locker, err := lock.New(kind, w.Client)
		if err != nil {
			return order.Result{WorkerID: w.ID, Err: err}
		}
		coord := order.NewCoordinator(w.ID, locker, ledger.New(w.Client), cfg.Product, cfg.LockTTL, cfg.ProcessingDelay)
		return coord.Purchase(ctx)
	})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	report := harness.NewReport(string(kind), cfg.Workers, cfg.InitialStock)
	for _, res := range results {
		report.Add(res)
	}
	final, err := finalStock(ctx, cfg)
	if err != nil {
		return nil, err
	}
	report.Finalize(final, elapsed)
	return report, nil
}
