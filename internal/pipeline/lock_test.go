package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExcludesSecondRun(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewRedisLocker(client, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, FullSyncLockKey)
	require.NoError(t, err)
	assert.True(t, mr.Exists(FullSyncLockKey))

	_, err = locker.Acquire(ctx, FullSyncLockKey)
	assert.ErrorIs(t, err, ErrRunInProgress)

	release()
	assert.False(t, mr.Exists(FullSyncLockKey))

	again, err := locker.Acquire(ctx, FullSyncLockKey)
	require.NoError(t, err)
	again()
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewRedisLocker(client, time.Minute)

	release, err := locker.Acquire(context.Background(), FullSyncLockKey)
	require.NoError(t, err)

	// Simulate expiry followed by another run taking the lock.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set(FullSyncLockKey, "other-run"))

	release()
	got, err := mr.Get(FullSyncLockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-run", got)
}

func TestAdvisoryLockerHeld(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(advisoryKey(FullSyncLockKey)).
		WillReturnRows(pgxmock.NewRows([]string{"ok"}).AddRow(false))
	mock.ExpectRollback()

	_, err = NewAdvisoryLocker(mock).Acquire(context.Background(), FullSyncLockKey)
	assert.ErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockerReleaseRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(advisoryKey(FullSyncLockKey)).
		WillReturnRows(pgxmock.NewRows([]string{"ok"}).AddRow(true))
	mock.ExpectRollback()

	release, err := NewAdvisoryLocker(mock).Acquire(context.Background(), FullSyncLockKey)
	require.NoError(t, err)
	release()
	require.NoError(t, mock.ExpectationsWereMet())
}
