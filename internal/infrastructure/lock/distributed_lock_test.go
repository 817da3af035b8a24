package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTryLockIsExclusive(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "test:lock", "holder-a", time.Minute)
	second := NewDistributedLock(client, "test:lock", "holder-b", time.Minute)

	ok, err := first.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryLock = (%v, %v), want acquired", ok, err)
	}

	ok, err = second.TryLock(ctx)
	if err != nil {
		t.Fatalf("second TryLock error = %v", err)
	}
	if ok {
		t.Fatalf("second holder acquired a held lock")
	}

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("Unlock error = %v", err)
	}

	ok, err = second.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("TryLock after release = (%v, %v), want acquired", ok, err)
	}
}

func TestUnlockOnlyReleasesOwnLock(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	owner := NewDistributedLock(client, "test:lock", "holder-a", time.Minute)
	impostor := NewDistributedLock(client, "test:lock", "holder-b", time.Minute)

	if ok, err := owner.TryLock(ctx); err != nil || !ok {
		t.Fatalf("TryLock = (%v, %v), want acquired", ok, err)
	}

	if err := impostor.Unlock(ctx); err != nil {
		t.Fatalf("impostor Unlock error = %v", err)
	}

	// the owner's lock must survive the impostor's release attempt
	if ok, err := impostor.TryLock(ctx); err != nil || ok {
		t.Fatalf("TryLock after foreign unlock = (%v, %v), want still held", ok, err)
	}
}

func TestLockRetriesThenGivesUp(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "test:lock", "holder-a", time.Minute)
	if ok, err := holder.TryLock(ctx); err != nil || !ok {
		t.Fatalf("TryLock = (%v, %v), want acquired", ok, err)
	}

	waiter := NewDistributedLock(client, "test:lock", "holder-b", time.Minute)
	err := waiter.Lock(ctx, time.Millisecond, 3)
	if !errors.Is(err, ErrLockFailed) {
		t.Fatalf("Lock error = %v, want ErrLockFailed", err)
	}

	if err := holder.Unlock(ctx); err != nil {
		t.Fatalf("Unlock error = %v", err)
	}
	if err := waiter.Lock(ctx, time.Millisecond, 3); err != nil {
		t.Fatalf("Lock after release error = %v", err)
	}
}
