package lock

import (
	"context"
	stdErrors "errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	arenaerrors "github.com/lockarena/lockarena/v1/errors"
)

// storeErr maps go-redis failures onto the testbed's error kinds so the
// harness can tell infrastructure failures from contention.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return arenaerrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return arenaerrors.ErrConnectionClosed
	}
	return fmt.Errorf("%w: %v", arenaerrors.ErrStore, err)
}
