// Package harness spawns K truly parallel workers against the shared
// store and collects exactly K results after a join barrier. Each
// worker gets its own store connection and a fresh identity; the store
// is the only thing they share.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	arenaerrors "github.com/lockarena/lockarena/v1/errors"
)

const defaultJoinTimeout = time.Minute

// Worker identifies one unit of parallel execution. The client is owned
// by the worker and closed by the runner after the task returns.
type Worker struct {
	Index  int
	ID     string
	Client *redis.Client
}

// Task is one worker's job: a single purchase attempt, one retry loop,
// one deadlock dance. It produces exactly one result; store failures
// belong inside R, a panic is fatal to the whole run.
type Task[R any] func(ctx context.Context, w Worker) R

// Runner executes K copies of a task in parallel goroutines.
//
// R is the per-worker result type collected after the join.
type Runner[R any] struct {
	// Workers is K, the number of parallel units to spawn.
	Workers int
	// Redis is dialed once per worker; connections are never shared.
	Redis redis.Options
	// JoinTimeout guards the join barrier against a hung worker.
	// Zero means defaultJoinTimeout.
	JoinTimeout time.Duration
}

// Run spawns the workers, waits for all of them, and returns their
// results ordered by worker index. Results land in K fixed slots, each
// written exactly once by its worker and read only after the join, so
// no consumer ever sees partial state. A worker panic or a join timeout
// is fatal to the run.
func (r *Runner[R]) Run(ctx context.Context, task Task[R]) ([]R, error) {
	if r.Workers <= 0 {
		return nil, fmt.Errorf("harness: worker count %d", r.Workers)
	}

	slots := make([]R, r.Workers)
	var g errgroup.Group
	for i := 0; i < r.Workers; i++ {
		w := Worker{
			Index:  i,
			ID:     uuid.NewString(),
			Client: redis.NewClient(&r.Redis),
		}
		g.Go(func() (err error) {
			defer func() {
				_ = w.Client.Close()
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%w: worker %d: %v", arenaerrors.ErrWorkerPanic, w.Index, rec)
				}
			}()
			slots[w.Index] = task(ctx, w)
			return nil
		})
	}

	joinTimeout := r.JoinTimeout
	if joinTimeout == 0 {
		joinTimeout = defaultJoinTimeout
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-time.After(joinTimeout):
		return nil, arenaerrors.ErrHarnessTimeout
	}
	return slots, nil
}
