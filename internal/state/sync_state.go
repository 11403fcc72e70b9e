package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Napageneral/memsync/internal/metrics"
)

// ErrAlreadyRunning is returned by Begin while another run holds the lease.
var ErrAlreadyRunning = errors.New("sync already running")

// InterruptedError is recorded for runs reconciled after a crash.
const InterruptedError = "interrupted: process exited mid-run"

type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// SyncState is the per-service bookkeeping row.
type SyncState struct {
	Service        string     `json:"service"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastStatus     Status     `json:"last_status"`
	LastInserted   int64      `json:"last_inserted"`
	LastError      *string    `json:"last_error"`
	LastDurationMs *int64     `json:"last_duration_ms"`
	TotalSynced    int64      `json:"total_synced"`
	IsRunning      bool       `json:"is_running"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	RunID          string     `json:"run_id,omitempty"`
}

// RunRecord is one entry of the run history.
type RunRecord struct {
	ID         string     `json:"id"`
	Service    string     `json:"service"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Inserted   int64      `json:"inserted"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

// Run is a held lease on a service.
type Run struct {
	ID        string
	Service   string
	StartedAt time.Time

	db       *sql.DB
	finished bool
}

// Begin marks service running and takes its lease. A lease older than
// staleAfter is treated as abandoned and taken over; staleAfter <= 0 never
// takes over.
func Begin(ctx context.Context, db *sql.DB, service string, staleAfter time.Duration) (*Run, error) {
	now := time.Now()
	runID := uuid.NewString()

	cutoff := int64(-1)
	if staleAfter > 0 {
		cutoff = now.Add(-staleAfter).UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (service, last_status, is_running, started_at, run_id)
		VALUES (?, 'running', 1, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			last_status = 'running',
			is_running = 1,
			started_at = excluded.started_at,
			run_id = excluded.run_id
		WHERE sync_state.is_running = 0
			OR sync_state.started_at IS NULL
			OR sync_state.started_at < ?
	`, service, now.UnixMilli(), runID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to mark %s running: %w", service, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read lease result: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", service, ErrAlreadyRunning)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, service, status, started_at)
		VALUES (?, ?, 'running', ?)
	`, runID, service, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	metrics.SyncRunning.WithLabelValues(service).Set(1)
	return &Run{ID: runID, Service: service, StartedAt: now, db: db}, nil
}

// Done records a successful run and releases the lease.
func (r *Run) Done(ctx context.Context, inserted int) error {
	return r.finish(ctx, StatusOK, inserted, nil)
}

// Fail records a failed run and releases the lease.
func (r *Run) Fail(ctx context.Context, runErr error) error {
	return r.finish(ctx, StatusError, 0, runErr)
}

func (r *Run) finish(ctx context.Context, status Status, inserted int, runErr error) error {
	if r.finished {
		return nil
	}
	r.finished = true
	// Bookkeeping must land even when the run's own context has expired.
	ctx = context.WithoutCancel(ctx)

	now := time.Now()
	durationMs := now.Sub(r.StartedAt).Milliseconds()
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	var err error
	if status == StatusOK {
		_, err = r.db.ExecContext(ctx, `
			UPDATE sync_state SET
				last_sync_at = ?,
				last_status = 'ok',
				last_inserted = ?,
				last_error = NULL,
				last_duration_ms = ?,
				total_synced = total_synced + ?,
				is_running = 0
			WHERE service = ? AND run_id = ?
		`, now.UnixMilli(), inserted, durationMs, inserted, r.Service, r.ID)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE sync_state SET
				last_sync_at = ?,
				last_status = 'error',
				last_error = ?,
				last_duration_ms = ?,
				is_running = 0
			WHERE service = ? AND run_id = ?
		`, now.UnixMilli(), errMsg, durationMs, r.Service, r.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to record %s result: %w", r.Service, err)
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_at = ?, inserted = ?, duration_ms = ?, error = ?
		WHERE id = ?
	`, string(status), now.UnixMilli(), inserted, durationMs, errMsg, r.ID); err != nil {
		return fmt.Errorf("failed to record run history: %w", err)
	}

	metrics.SyncRunning.WithLabelValues(r.Service).Set(0)
	metrics.SyncRuns.WithLabelValues(r.Service, string(status)).Inc()
	metrics.SyncDuration.WithLabelValues(r.Service).Observe(now.Sub(r.StartedAt).Seconds())
	return nil
}

// Track wraps fn in a tracked run: Begin, then Done with fn's inserted count
// or Fail with fn's error. fn's error is returned unchanged.
func Track(ctx context.Context, db *sql.DB, service string, staleAfter time.Duration, fn func(ctx context.Context) (int, error)) error {
	run, err := Begin(ctx, db, service, staleAfter)
	if err != nil {
		return err
	}

	inserted, runErr := fn(ctx)
	if runErr != nil {
		if err := run.Fail(ctx, runErr); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	}
	return run.Done(ctx, inserted)
}

// ReconcileStale marks runs still flagged running after staleAfter as
// failed. It returns the number of services released.
func ReconcileStale(ctx context.Context, db *sql.DB, staleAfter time.Duration) (int, error) {
	now := time.Now()
	cutoff := now.Add(-staleAfter).UnixMilli()

	res, err := db.ExecContext(ctx, `
		UPDATE sync_state SET
			last_status = 'error',
			last_error = ?,
			is_running = 0,
			last_sync_at = ?
		WHERE is_running = 1 AND (started_at IS NULL OR started_at < ?)
	`, InterruptedError, now.UnixMilli(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE sync_runs SET status = 'error', error = ?, finished_at = ?
		WHERE status = 'running' AND started_at < ?
	`, InterruptedError, now.UnixMilli(), cutoff); err != nil {
		return 0, fmt.Errorf("failed to reconcile run history: %w", err)
	}
	return int(n), nil
}

const syncStateColumns = `service, last_sync_at, last_status, last_inserted, last_error,
	last_duration_ms, total_synced, is_running, started_at, run_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncState(row rowScanner) (SyncState, error) {
	var (
		s          SyncState
		lastSyncAt sql.NullInt64
		lastErr    sql.NullString
		duration   sql.NullInt64
		running    int64
		startedAt  sql.NullInt64
		runID      sql.NullString
		status     string
	)
	if err := row.Scan(&s.Service, &lastSyncAt, &status, &s.LastInserted, &lastErr,
		&duration, &s.TotalSynced, &running, &startedAt, &runID); err != nil {
		return s, err
	}
	s.LastStatus = Status(status)
	s.IsRunning = running != 0
	s.RunID = runID.String
	if lastSyncAt.Valid {
		t := time.UnixMilli(lastSyncAt.Int64).UTC()
		s.LastSyncAt = &t
	}
	if lastErr.Valid {
		v := lastErr.String
		s.LastError = &v
	}
	if duration.Valid {
		v := duration.Int64
		s.LastDurationMs = &v
	}
	if startedAt.Valid && s.IsRunning {
		t := time.UnixMilli(startedAt.Int64).UTC()
		s.StartedAt = &t
	}
	return s, nil
}

// GetStatus returns the state row for service; ok is false if it never ran.
func GetStatus(ctx context.Context, db *sql.DB, service string) (SyncState, bool, error) {
	row := db.QueryRowContext(ctx, `SELECT `+syncStateColumns+` FROM sync_state WHERE service = ?`, service)
	s, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("failed to read sync state: %w", err)
	}
	return s, true, nil
}

// List returns every state row, most recently synced first.
func List(ctx context.Context, db *sql.DB) ([]SyncState, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+syncStateColumns+` FROM sync_state ORDER BY last_sync_at DESC NULLS LAST, service`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync state: %w", err)
	}
	defer rows.Close()

	out := []SyncState{}
	for rows.Next() {
		s, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Runs returns the newest run records, optionally for one service.
func Runs(ctx context.Context, db *sql.DB, service string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, service, status, started_at, finished_at, inserted, duration_ms, error FROM sync_runs`
	var args []any
	if service != "" {
		query += ` WHERE service = ?`
		args = append(args, service)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	out := []RunRecord{}
	for rows.Next() {
		var (
			r          RunRecord
			status     string
			startedAt  int64
			finishedAt sql.NullInt64
			duration   sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Service, &status, &startedAt, &finishedAt, &r.Inserted, &duration, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		r.Status = Status(status)
		r.StartedAt = time.UnixMilli(startedAt).UTC()
		if finishedAt.Valid {
			t := time.UnixMilli(finishedAt.Int64).UTC()
			r.FinishedAt = &t
		}
		if duration.Valid {
			v := duration.Int64
			r.DurationMs = &v
		}
		if errMsg.Valid {
			v := errMsg.String
			r.Error = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
