package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Napageneral/memsync/internal/testutil"
)

func TestTrackSuccessAccumulates(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	require.NoError(t, Track(ctx, db, "slack", time.Hour, func(ctx context.Context) (int, error) {
		s, ok, err := GetStatus(ctx, db, "slack")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, StatusRunning, s.LastStatus)
		assert.True(t, s.IsRunning)
		assert.NotNil(t, s.StartedAt)
		return 5, nil
	}))
	require.NoError(t, Track(ctx, db, "slack", time.Hour, func(ctx context.Context) (int, error) {
		return 2, nil
	}))

	s, ok, err := GetStatus(ctx, db, "slack")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusOK, s.LastStatus)
	assert.False(t, s.IsRunning)
	assert.Nil(t, s.StartedAt)
	assert.Equal(t, int64(2), s.LastInserted)
	assert.Equal(t, int64(7), s.TotalSynced)
	assert.Nil(t, s.LastError)
	require.NotNil(t, s.LastSyncAt)
	require.NotNil(t, s.LastDurationMs)

	runs, err := Runs(ctx, db, "slack", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, StatusOK, r.Status)
		assert.NotNil(t, r.FinishedAt)
	}
}

func TestTrackFailureRecordsAndReturnsError(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	require.NoError(t, Track(ctx, db, "discord", time.Hour, func(context.Context) (int, error) { return 3, nil }))

	boom := errors.New("boom")
	err := Track(ctx, db, "discord", time.Hour, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	s, _, err := GetStatus(ctx, db, "discord")
	require.NoError(t, err)
	assert.Equal(t, StatusError, s.LastStatus)
	require.NotNil(t, s.LastError)
	assert.Equal(t, "boom", *s.LastError)
	assert.False(t, s.IsRunning)
	assert.Equal(t, int64(3), s.TotalSynced)

	// A later success clears the error.
	require.NoError(t, Track(ctx, db, "discord", time.Hour, func(context.Context) (int, error) { return 1, nil }))
	s, _, _ = GetStatus(ctx, db, "discord")
	assert.Nil(t, s.LastError)
	assert.Equal(t, int64(4), s.TotalSynced)
}

func TestTrackRecordsAfterDeadline(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)

	err := Track(ctx, db, "openai", time.Hour, func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	s, _, err := GetStatus(context.Background(), db, "openai")
	require.NoError(t, err)
	assert.Equal(t, StatusError, s.LastStatus)
	assert.False(t, s.IsRunning)
}

func TestBeginLeaseIsExclusive(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	run, err := Begin(ctx, db, "anthropic", time.Hour)
	require.NoError(t, err)

	_, err = Begin(ctx, db, "anthropic", time.Hour)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	err = Track(ctx, db, "anthropic", time.Hour, func(context.Context) (int, error) {
		t.Fatal("must not run while the lease is held")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Other services are unaffected.
	other, err := Begin(ctx, db, "slack", time.Hour)
	require.NoError(t, err)
	require.NoError(t, other.Done(ctx, 0))

	require.NoError(t, run.Done(ctx, 1))
	again, err := Begin(ctx, db, "anthropic", time.Hour)
	require.NoError(t, err)
	require.NoError(t, again.Done(ctx, 0))
}

func TestBeginTakesOverStaleLease(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	stale, err := Begin(ctx, db, "discord", time.Hour)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE sync_state SET started_at = ? WHERE service = 'discord'`, time.Now().Add(-3*time.Hour).UnixMilli())
	require.NoError(t, err)

	fresh, err := Begin(ctx, db, "discord", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, fresh.ID)

	// The abandoned run finishing late must not release the new lease.
	require.NoError(t, stale.Done(ctx, 100))
	s, _, _ := GetStatus(ctx, db, "discord")
	assert.True(t, s.IsRunning)
	assert.Equal(t, fresh.ID, s.RunID)
	assert.Equal(t, int64(0), s.TotalSynced)

	require.NoError(t, fresh.Done(ctx, 1))
}

func TestReconcileStale(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	_, err := Begin(ctx, db, "slack", time.Hour)
	require.NoError(t, err)
	_, err = Begin(ctx, db, "discord", time.Hour)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE sync_state SET started_at = ? WHERE service = 'slack'`, time.Now().Add(-3*time.Hour).UnixMilli())
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE sync_runs SET started_at = ? WHERE service = 'slack'`, time.Now().Add(-3*time.Hour).UnixMilli())
	require.NoError(t, err)

	n, err := ReconcileStale(ctx, db, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, _, _ := GetStatus(ctx, db, "slack")
	assert.False(t, s.IsRunning)
	assert.Equal(t, StatusError, s.LastStatus)
	require.NotNil(t, s.LastError)
	assert.Equal(t, InterruptedError, *s.LastError)

	d, _, _ := GetStatus(ctx, db, "discord")
	assert.True(t, d.IsRunning)

	runs, err := Runs(ctx, db, "slack", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusError, runs[0].Status)
}

func TestListOrdersBySyncTime(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	list, err := List(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, Track(ctx, db, "a", time.Hour, func(context.Context) (int, error) { return 0, nil }))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, Track(ctx, db, "b", time.Hour, func(context.Context) (int, error) { return 0, nil }))
	_, err = Begin(ctx, db, "never-finished", time.Hour)
	require.NoError(t, err)

	list, err = List(ctx, db)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b", list[0].Service)
	assert.Equal(t, "a", list[1].Service)
	assert.Equal(t, "never-finished", list[2].Service)

	_, ok, err := GetStatus(ctx, db, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
