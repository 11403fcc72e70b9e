package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Napageneral/memsync/internal/adapters"
	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/store"
	"github.com/Napageneral/memsync/internal/testutil"
)

type fakeAdapter struct {
	name string
	sync func(ctx context.Context, st *store.Store) (adapters.Result, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Sync(ctx context.Context, st *store.Store) (adapters.Result, error) {
	return f.sync(ctx, st)
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	db := testutil.OpenTestDB(t)
	r := NewRunner(db, config.Default())
	r.Logf = func(string, ...any) {}
	return r
}

func TestSyncOneRejectsUnknownService(t *testing.T) {
	r := newTestRunner(t)
	built := false
	r.Live = map[Service]LiveFactory{
		Discord: func(*config.Config, adapters.Logf) (adapters.Adapter, error) {
			built = true
			return nil, errors.New("unreachable")
		},
	}

	res, err := r.SyncOne(context.Background(), "myspace")
	require.ErrorIs(t, err, ErrUnknownService)
	assert.Contains(t, err.Error(), "Allowed: discord, slack, anthropic, openai")
	assert.False(t, res.Success)
	assert.False(t, built)

	all, err := state.List(context.Background(), r.DB)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSyncOneTracksRun(t *testing.T) {
	r := newTestRunner(t)
	r.Live = map[Service]LiveFactory{
		Slack: func(*config.Config, adapters.Logf) (adapters.Adapter, error) {
			return &fakeAdapter{name: "slack", sync: func(context.Context, *store.Store) (adapters.Result, error) {
				return adapters.Result{Inserted: 3, Duplicates: 1, Total: 4}, nil
			}}, nil
		},
	}
	ctx := context.Background()

	res, err := r.SyncOne(ctx, " Slack ")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "slack", res.Service)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)

	_, err = r.SyncOne(ctx, "slack")
	require.NoError(t, err)

	st, ok, err := state.GetStatus(ctx, r.DB, "slack")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.StatusOK, st.LastStatus)
	assert.Equal(t, int64(6), st.TotalSynced)
	assert.False(t, st.IsRunning)
}

func TestSyncOneRecordsConstructionError(t *testing.T) {
	r := newTestRunner(t)
	r.Live = map[Service]LiveFactory{
		Discord: func(*config.Config, adapters.Logf) (adapters.Adapter, error) {
			return nil, adapters.ErrMissingCredential
		},
	}
	ctx := context.Background()

	res, err := r.SyncOne(ctx, "discord")
	require.ErrorIs(t, err, adapters.ErrMissingCredential)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	st, ok, err := state.GetStatus(ctx, r.DB, "discord")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.StatusError, st.LastStatus)
	require.NotNil(t, st.LastError)
	assert.False(t, st.IsRunning)
}

func TestSyncOneDeadline(t *testing.T) {
	r := newTestRunner(t)
	r.Config.Sync.Timeout = 20 * time.Millisecond
	r.Live = map[Service]LiveFactory{
		OpenAI: func(*config.Config, adapters.Logf) (adapters.Adapter, error) {
			return &fakeAdapter{name: "openai", sync: func(ctx context.Context, _ *store.Store) (adapters.Result, error) {
				<-ctx.Done()
				return adapters.Result{}, nil
			}}, nil
		},
	}
	ctx := context.Background()

	_, err := r.SyncOne(ctx, "openai")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	st, ok, err := state.GetStatus(ctx, r.DB, "openai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.StatusError, st.LastStatus)
	assert.False(t, st.IsRunning)
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	r := newTestRunner(t)
	r.Config.Services = map[string]config.ServiceConfig{
		"discord":   {Enabled: true},
		"slack":     {Enabled: true},
		"anthropic": {Enabled: false},
	}
	r.Live = map[Service]LiveFactory{
		Discord: func(*config.Config, adapters.Logf) (adapters.Adapter, error) {
			return nil, errors.New("boom")
		},
		Slack: func(*config.Config, adapters.Logf) (adapters.Adapter, error) {
			return &fakeAdapter{name: "slack", sync: func(context.Context, *store.Store) (adapters.Result, error) {
				return adapters.Result{Inserted: 1}, nil
			}}, nil
		},
	}

	res := r.SyncAll(context.Background())
	assert.False(t, res.OK)
	require.Len(t, res.Services, 2)
	assert.Equal(t, "discord", res.Services[0].Service)
	assert.False(t, res.Services[0].Success)
	assert.Equal(t, "slack", res.Services[1].Service)
	assert.True(t, res.Services[1].Success)
}

func TestSyncAllNothingEnabled(t *testing.T) {
	r := newTestRunner(t)
	res := r.SyncAll(context.Background())
	assert.True(t, res.OK)
	assert.Equal(t, "No services enabled", res.Message)
}

func TestImportFileIsIdempotent(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"content": "hello", "sender": "a", "recipient": "b", "timestamp": "2024-01-01T00:00:00Z"},
		{"text": "again", "from": "b", "to": "a", "date": "2024-01-01T00:01:00Z"}
	]`), 0o644))

	first, err := r.ImportFile(ctx, "generic", path, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	second, err := r.ImportFile(ctx, "GENERIC", path, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Duplicates)

	st, ok, err := state.GetStatus(ctx, r.DB, "generic")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), st.TotalSynced)

	_, err = r.ImportFile(ctx, "telegram", path, FileOptions{})
	require.ErrorIs(t, err, ErrUnknownService)
}

func TestReconcileReleasesCrashedRuns(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	_, err := r.DB.Exec(`INSERT INTO sync_state (service, last_status, is_running, started_at, run_id) VALUES ('slack', 'running', 1, ?, 'old')`,
		time.Now().Add(-3*time.Hour).UnixMilli())
	require.NoError(t, err)

	n, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _, err := state.GetStatus(ctx, r.DB, "slack")
	require.NoError(t, err)
	assert.False(t, st.IsRunning)
	require.NotNil(t, st.LastError)
	assert.Equal(t, state.InterruptedError, *st.LastError)
}
