package scenario

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/lockarena/lockarena/v1/ledger"
)

// Config is the scoped state for one scenario run. Every run begins
// with Setup, so nothing carries over between runs.
type Config struct {
	// Redis is handed to the harness; every worker dials its own
	// connection from it.
	Redis redis.Options

	Product      string
	InitialStock int
	Workers      int

	LockTTL time.Duration
	// ProcessingDelay widens the ledger's read-modify-write window.
	ProcessingDelay time.Duration
	// PollInterval is the sleep between acquire retries in the deadlock
	// and TTL drivers.
	PollInterval time.Duration
	// WorkDuration is how long the TTL-expiry scenario's first worker
	// pretends to work while holding the lock.
	WorkDuration time.Duration

	RetryBase   time.Duration
	RetryCap    time.Duration
	MaxAttempts int

	JoinTimeout time.Duration
}

// DefaultConfig returns a config suitable for a local store at addr.
func DefaultConfig(addr string) Config {
	return Config{
		Redis:           redis.Options{Addr: addr},
		Product:         "sneaker-42",
		InitialStock:    1,
		Workers:         10,
		LockTTL:         2 * time.Second,
		ProcessingDelay: 50 * time.Millisecond,
		PollInterval:    25 * time.Millisecond,
		WorkDuration:    3 * time.Second,
		RetryBase:       20 * time.Millisecond,
		RetryCap:        500 * time.Millisecond,
		MaxAttempts:     5,
	}
}

// Setup resets the shared store for a fresh run: all keys cleared, the
// stock counter seeded to InitialStock.
func Setup(ctx context.Context, cfg Config) error {
	client := redis.NewClient(&cfg.Redis)
	defer func() { _ = client.Close() }()
	if err := client.FlushAll(ctx).Err(); err != nil {
		return err
	}
	return ledger.New(client).SetStock(ctx, cfg.Product, cfg.InitialStock)
}

func finalStock(ctx context.Context, cfg Config) (int, error) {
	client := redis.NewClient(&cfg.Redis)
	defer func() { _ = client.Close() }()
	return ledger.New(client).Stock(ctx, cfg.Product)
}
