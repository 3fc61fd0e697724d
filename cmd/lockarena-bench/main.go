package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lockarena/lockarena/v1/lock"
	"github.com/lockarena/lockarena/v1/metrics"
	"github.com/lockarena/lockarena/v1/scenario"
)

var (
	addr        = flag.String("addr", "localhost:6379", "Redis address")
	scenarioArg = flag.String("scenario", "oversell", "Scenario: oversell|deadlock|deadlock-sorted|crash|ttl|retry")
	strategy    = flag.String("strategy", "safe", "Lock strategy: none|naive|safe")
	stock       = flag.Int("stock", 1, "Initial stock")
	workers     = flag.Int("workers", 10, "Number of parallel workers")
	delay       = flag.Duration("delay", 50*time.Millisecond, "Simulated processing delay")
	ttl         = flag.Duration("ttl", 2*time.Second, "Lock TTL")
	work        = flag.Duration("work", 3*time.Second, "Simulated work duration (ttl scenario)")
	retries     = flag.Int("retries", 5, "Max acquire attempts per worker (retry scenario)")
	metricsAddr = flag.String("metrics", "", "Serve /metrics on this address (empty = off)")
	traces      = flag.Bool("traces", false, "Print spans to stdout")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	if *traces {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatal(err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(ctx) }()
		otel.SetTracerProvider(tp)
	}

	if *metricsAddr != "" {
		reg := metrics.NewRegistry()
		metrics.RegisterCoreMetrics(reg)
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() { log.Fatal(http.ListenAndServe(*metricsAddr, nil)) }()
	}

	cfg := scenario.DefaultConfig(*addr)
	cfg.InitialStock = *stock
	cfg.Workers = *workers
	cfg.ProcessingDelay = *delay
	cfg.LockTTL = *ttl
	cfg.WorkDuration = *work
	cfg.MaxAttempts = *retries

	switch *scenarioArg {
	case "oversell":
		report, err := scenario.Oversell(ctx, cfg, lock.Kind(*strategy))
		if err != nil {
			log.Fatalf("oversell: %v", err)
		}
		log.Printf("strategy=%s workers=%d stock %d -> %d: %d ok, %d lock-failed, %d short, %d infra (%v)",
			report.Strategy, report.Workers, report.InitialStock, report.FinalStock,
			report.Successes, report.LockFailures, report.Failures, report.InfraFailures, report.Elapsed)
		if report.Oversold {
			log.Printf("VERDICT: OVERSOLD")
		}
	case "deadlock", "deadlock-sorted":
		report, err := scenario.Deadlock(ctx, cfg, *scenarioArg == "deadlock-sorted")
		if err != nil {
			log.Fatalf("deadlock: %v", err)
		}
		for _, w := range report.Workers {
			log.Printf("worker %s order=%v status=%s in %v", w.WorkerID[:8], w.Order, w.Status, w.Duration)
		}
		if report.Deadlocked {
			log.Printf("VERDICT: DEADLOCK (both timed out)")
		}
	case "crash":
		report, err := scenario.CrashRecovery(ctx, cfg)
		if err != nil {
			log.Fatalf("crash: %v", err)
		}
		log.Printf("immediate=%v recovered at %v (ttl %v) completed=%v stock=%d",
			report.ImmediateAcquire, report.RecoveredAt, cfg.LockTTL, report.Recovered, report.FinalStock)
	case "ttl":
		report, err := scenario.TTLExpiry(ctx, cfg)
		if err != nil {
			log.Fatalf("ttl: %v", err)
		}
		log.Printf("ttl=%v work=%v intruder in at %v, holder lost lock=%v",
			report.TTL, report.Work, report.IntruderAcquiredAt, report.HolderLostLock)
		if report.DualDecrement {
			log.Printf("VERDICT: DUAL DECREMENT (ttl < work)")
		}
	case "retry":
		reports, err := scenario.RetryComparison(ctx, cfg)
		if err != nil {
			log.Fatalf("retry: %v", err)
		}
		for _, rep := range reports {
			log.Printf("%-20s %d/%d ok, mean retries %.2f, stddev %v, total %v",
				rep.Policy, rep.Successes, rep.Workers, rep.MeanRetries, rep.CompletionStdDev, rep.Elapsed)
		}
	default:
		log.Fatalf("unknown scenario %q", *scenarioArg)
	}
}
