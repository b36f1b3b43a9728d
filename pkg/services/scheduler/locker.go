package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants a short-lived claim on a key so that only one process acts on it.
type Locker interface {
	// TryLock returns true when this caller now holds key for ttl.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type redisLocker struct {
	client *redis.Client
	owner  string
}

// NewRedisLocker returns a Locker backed by SET NX PX on client.
func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{client: client, owner: uuid.NewString()}
}

var _ Locker = (*redisLocker)(nil)

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// NoopLocker always grants the lock. It is used when only one process runs the scheduler.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

var _ Locker = NoopLocker{}

// firingKey names the lock for one schedule in one wall-clock minute.
func firingKey(scheduleID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("ekaya:schedule:%s:%d", scheduleID, at.Truncate(time.Minute).Unix())
}
