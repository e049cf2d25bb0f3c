package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestIdempotencyStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}
	store := NewIdempotencyStore(client, time.Hour, zap.NewNop())

	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestReserveFirstCallerWins(t *testing.T) {
	store, _, cleanup := setupTestIdempotencyStore(t)
	defer cleanup()

	created, id, err := store.Reserve(context.Background(), "order-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || id != "" {
		t.Errorf("Reserve = (%v, %q), want (true, \"\")", created, id)
	}
}

func TestReserveBeforeCommitReportsInProgress(t *testing.T) {
	store, _, cleanup := setupTestIdempotencyStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "order-42"); err != nil {
		t.Fatal(err)
	}

	_, _, err := store.Reserve(ctx, "order-42")
	if !errors.Is(err, ErrReservationInProgress) {
		t.Errorf("err = %v, want ErrReservationInProgress", err)
	}
}

func TestReserveAfterCommitReplaysID(t *testing.T) {
	store, _, cleanup := setupTestIdempotencyStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "order-42"); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, "order-42", "notif-1"); err != nil {
		t.Fatal(err)
	}

	created, id, err := store.Reserve(ctx, "order-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || id != "notif-1" {
		t.Errorf("Reserve = (%v, %q), want (false, notif-1)", created, id)
	}
}

func TestReleaseMakesKeyReservableAgain(t *testing.T) {
	store, _, cleanup := setupTestIdempotencyStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "order-42"); err != nil {
		t.Fatal(err)
	}
	if err := store.Release(ctx, "order-42"); err != nil {
		t.Fatal(err)
	}

	created, _, err := store.Reserve(ctx, "order-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("released key should be reservable again")
	}
}

func TestExpiredReservationIsReservable(t *testing.T) {
	store, mr, cleanup := setupTestIdempotencyStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "order-42"); err != nil {
		t.Fatal(err)
	}

	// The winner crashed: its uncommitted reservation times out.
	mr.FastForward(reserveTTL + time.Second)

	created, _, err := store.Reserve(ctx, "order-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expired reservation should be claimable")
	}
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	store, _, cleanup := setupTestIdempotencyStore(t)
	defer cleanup()
	ctx := context.Background()

	const goroutines = 20
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, _, err := store.Reserve(ctx, "order-42")
			if err != nil && !errors.Is(err, ErrReservationInProgress) {
				t.Errorf("unexpected error: %v", err)
			}
			if created {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", winners.Load())
	}
}

func TestKeysAreIndependent(t *testing.T) {
	store, _, cleanup := setupTestIdempotencyStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "order-1"); err != nil {
		t.Fatal(err)
	}
	created, _, err := store.Reserve(ctx, "order-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("distinct keys must not share a reservation")
	}
}
