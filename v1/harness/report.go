package harness

import (
	"time"

	"github.com/lockarena/lockarena/v1/metrics"
	"github.com/lockarena/lockarena/v1/order"
)

// Report aggregates one scenario run. It is created at scenario start,
// populated from worker results after the join, and only then handed to
// callers; consumers never see partial state.
type Report struct {
	Strategy      string        `json:"strategy"`
	Workers       int           `json:"workers"`
	InitialStock  int           `json:"initial_stock"`
	FinalStock    int           `json:"final_stock"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	LockFailures  int           `json:"lock_failures"`
	InfraFailures int           `json:"infra_failures"`
	Oversold      bool          `json:"oversold"`
	Elapsed       time.Duration `json:"elapsed"`

	Results []order.Result `json:"-"`
}

// NewReport starts an empty report for one run.
func NewReport(strategy string, workers, initialStock int) *Report {
	return &Report{Strategy: strategy, Workers: workers, InitialStock: initialStock}
}

// Add folds one worker result into the counters. Lock contention and
// insufficient stock are normal outcomes; anything carrying an error is
// counted as infrastructure.
func (r *Report) Add(res order.Result) {
	r.Results = append(r.Results, res)
	switch {
	case res.Err != nil:
		r.InfraFailures++
	case res.Success:
		r.Successes++
	case !res.LockAcquired:
		r.LockFailures++
	default:
		r.Failures++
	}
}

// Finalize seals the report with the post-run stock and elapsed wall
// time and computes the oversell verdict.
func (r *Report) Finalize(finalStock int, elapsed time.Duration) {
	r.FinalStock = finalStock
	r.Elapsed = elapsed
	r.Oversold = finalStock < 0 || r.Successes > r.InitialStock
	if r.Oversold {
		metrics.OversoldRuns.Inc()
	}
}

// Infra reports whether any worker hit an infrastructure failure, as
// opposed to contention or insufficient stock.
func (r *Report) Infra() bool {
	return r.InfraFailures > 0
}
