package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockFailed = errors.New("failed to acquire distributed lock")

// DistributedLock is a Redis SET NX lock with an expiry and an owner value.
// The value identifies the holder so a late Unlock cannot release a lock that
// has already expired and been re-acquired by someone else.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock acquires the lock, retrying up to maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock. The check-then-delete runs as a Lua script so it
// is atomic and only removes the key while we still own it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewSpendLock serializes credit spends per user, so two concurrent spend
// requests from the same user cannot both pass the balance check.
func NewSpendLock(client *redis.Client, userID int64, holder string) *DistributedLock {
	key := fmt.Sprintf("credits:lock:user:%d", userID)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}

// NewSessionLock serializes terminal transitions on one analysis session
// (worker callback vs. stuck sweep, or two sweep instances).
func NewSessionLock(client *redis.Client, sessionNo, holder string) *DistributedLock {
	key := fmt.Sprintf("session:lock:%s", sessionNo)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}
