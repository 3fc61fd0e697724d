package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks lock acquisition attempts across strategies.
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockarena_acquire_total",
		Help: "Total number of lock acquire attempts",
	}, []string{"strategy"})
	// ContentionCounter tracks acquire attempts refused because the lock
	// was already held.
	ContentionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockarena_acquire_contended_total",
		Help: "Total number of acquire attempts lost to contention",
	}, []string{"strategy"})
	// ReleaseCounter tracks lock releases.
	ReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockarena_release_total",
		Help: "Total number of lock releases",
	}, []string{"strategy"})
	// RetryCounter tracks backoff waits taken by retrying workers.
	RetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockarena_retry_total",
		Help: "Total number of backoff waits before re-acquiring",
	}, []string{"policy"})
	// OversoldRuns counts scenario runs that ended with an unsafe verdict.
	OversoldRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockarena_oversold_runs_total",
		Help: "Total number of scenario runs flagged as oversold",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers lockarena core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, ContentionCounter, ReleaseCounter, RetryCounter, OversoldRuns)
}
