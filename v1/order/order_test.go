package order

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/lockarena/lockarena/v1/backoff"
	"github.com/lockarena/lockarena/v1/ledger"
	"github.com/lockarena/lockarena/v1/lock"
)

func newTestDeps(t *testing.T, stock int) (*miniredis.Miniredis, *redis.Client, *ledger.Ledger) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	led := ledger.New(client)
	if err := led.SetStock(context.Background(), "p", stock); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return mr, client, led
}

func TestPurchaseSuccess(t *testing.T) {
	mr, client, led := newTestDeps(t, 3)
	ctx := context.Background()
	c := NewCoordinator("w1", lock.NewSafe(client), led, "p", time.Second, 0)

	res := c.Purchase(ctx)
	if res.Err != nil {
		t.Fatalf("purchase: %v", res.Err)
	}
	if !res.LockAcquired || !res.Success {
		t.Fatalf("lock %v success %v, want both true", res.LockAcquired, res.Success)
	}
	if res.StockBefore != 3 || res.StockAfter != 2 {
		t.Fatalf("stock %d -> %d, want 3 -> 2", res.StockBefore, res.StockAfter)
	}
	if res.WorkerID != "w1" {
		t.Fatalf("worker id %q", res.WorkerID)
	}
	// Release ran: the lock key is gone.
	if mr.Exists("arena:lock:p") {
		t.Fatal("lock not released after purchase")
	}
}

func TestPurchaseLockContention(t *testing.T) {
	mr, client, led := newTestDeps(t, 3)
	ctx := context.Background()

	holder := lock.NewSafe(client)
	if ok, _ := holder.Acquire(ctx, "p", time.Minute); !ok {
		t.Fatal("pre-hold failed")
	}
	c := NewCoordinator("w1", lock.NewSafe(client), led, "p", time.Second, 0)
	res := c.Purchase(ctx)
	if res.Err != nil {
		t.Fatalf("purchase: %v", res.Err)
	}
	if res.LockAcquired || res.Success {
		t.Fatalf("lock %v success %v under contention, want both false", res.LockAcquired, res.Success)
	}
	// A contended attempt must not disturb the holder's lock.
	if !mr.Exists("arena:lock:p") {
		t.Fatal("holder's lock disappeared")
	}
	if qty, _ := led.Stock(ctx, "p"); qty != 3 {
		t.Fatalf("stock touched under contention: %d", qty)
	}
}

func TestPurchaseInsufficientStock(t *testing.T) {
	mr, client, led := newTestDeps(t, 0)
	ctx := context.Background()
	c := NewCoordinator("w1", lock.NewSafe(client), led, "p", time.Second, 0)

	res := c.Purchase(ctx)
	if res.Err != nil {
		t.Fatalf("purchase: %v", res.Err)
	}
	if !res.LockAcquired {
		t.Fatal("lock should have been acquired")
	}
	if res.Success {
		t.Fatal("purchase of empty stock reported success")
	}
	// Release runs on the insufficient-stock path too.
	if mr.Exists("arena:lock:p") {
		t.Fatal("lock leaked on insufficient stock")
	}
}

func TestPurchaseWithRetryWinsAfterRelease(t *testing.T) {
	_, client, led := newTestDeps(t, 1)
	ctx := context.Background()

	holder := lock.NewSafe(client)
	if ok, _ := holder.Acquire(ctx, "p", time.Minute); !ok {
		t.Fatal("pre-hold failed")
	}
	go func() {
		time.Sleep(60 * time.Millisecond)
		_, _ = holder.Release(context.Background(), "p")
	}()

	c := NewCoordinator("w1", lock.NewSafe(client), led, "p", time.Second, 0)
	res := c.PurchaseWithRetry(ctx, backoff.Fixed{Base: 20 * time.Millisecond}, 20)
	if res.Err != nil {
		t.Fatalf("purchase: %v", res.Err)
	}
	if !res.Success {
		t.Fatal("retry loop never got the lock")
	}
	if res.Retries == 0 {
		t.Fatal("expected at least one retry while the lock was held")
	}
}

func TestPurchaseWithRetryGivesUp(t *testing.T) {
	_, client, led := newTestDeps(t, 1)
	ctx := context.Background()

	holder := lock.NewSafe(client)
	if ok, _ := holder.Acquire(ctx, "p", time.Minute); !ok {
		t.Fatal("pre-hold failed")
	}
	c := NewCoordinator("w1", lock.NewSafe(client), led, "p", time.Second, 0)
	res := c.PurchaseWithRetry(ctx, backoff.Fixed{Base: 5 * time.Millisecond}, 3)
	if res.Err != nil {
		t.Fatalf("purchase: %v", res.Err)
	}
	if res.LockAcquired || res.Success {
		t.Fatal("exhausted retry loop should report a lock failure")
	}
	if res.Retries != 3 {
		t.Fatalf("retries = %d, want 3", res.Retries)
	}
}
