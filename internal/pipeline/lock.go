package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-roster-sync/internal/database"
)

// FullSyncLockKey guards RunFullSync.
const FullSyncLockKey = "sync:lock:full"

// Locker hands out a run lock. Acquire returns ErrRunInProgress when the
// key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds the lock as a token under key with a TTL so a crashed
// run cannot wedge future runs.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker returns a Redis-backed locker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire sets key only when absent. Release deletes it only while it
// still holds this caller's token.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("pipeline: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

// AdvisoryLocker uses a transaction-scoped Postgres advisory lock. The
// transaction stays open for the duration of the run and rolls back on
// release, which frees the lock.
type AdvisoryLocker struct {
	pool database.Pool
}

// NewAdvisoryLocker returns a Postgres-backed locker.
func NewAdvisoryLocker(pool database.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// Acquire implements Locker.
func (l *AdvisoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: acquire lock %s: %w", key, err)
	}
	rollback := func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}

	var ok bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, advisoryKey(key)).Scan(&ok); err != nil {
		rollback()
		return nil, fmt.Errorf("pipeline: acquire lock %s: %w", key, err)
	}
	if !ok {
		rollback()
		return nil, ErrRunInProgress
	}
	return rollback, nil
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// IsRunInProgress reports whether err came from a held run lock.
func IsRunInProgress(err error) bool {
	return errors.Is(err, ErrRunInProgress)
}
