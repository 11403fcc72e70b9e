package live

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/Napageneral/memsync/internal/state"
)

const (
	statusRunning = "running"
	statusStopped = "stopped"
	statusError   = "error"

	keyStatus        = "watch_status"
	keyLastHeartbeat = "watch_last_heartbeat"
	keyLastError     = "watch_last_error"
	keyRestarts      = "watch_restarts"
	keyProcessed     = "watch_processed"
)

// Watcher bookkeeping is best effort; a failed write never stops a watcher.

func owner(name string) string {
	return "watch:" + name
}

func setWatcherStatus(db *sql.DB, name string, status string) {
	_ = state.Set(db, owner(name), keyStatus, status)
}

func setWatcherHeartbeat(db *sql.DB, name string, t time.Time) {
	_ = state.SetInt(db, owner(name), keyLastHeartbeat, t.Unix())
}

func setWatcherError(db *sql.DB, name string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = state.Set(db, owner(name), keyLastError, msg)
}

func incrementWatcherRestarts(db *sql.DB, name string) {
	_ = state.Increment(db, owner(name), keyRestarts)
}

func readWatcherStatus(db *sql.DB, name string) WatcherStatus {
	ws := WatcherStatus{Name: name}
	if v, ok, _ := state.Get(db, owner(name), keyStatus); ok {
		ws.Status = v
	}
	if v, ok, _ := state.Get(db, owner(name), keyLastHeartbeat); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			ws.LastHeartbeat = &n
		}
	}
	if v, ok, _ := state.Get(db, owner(name), keyLastError); ok {
		ws.LastError = v
	}
	if n, err := state.GetInt(db, owner(name), keyRestarts); err == nil {
		ws.Restarts = n
	}
	if n, err := state.GetInt(db, owner(name), keyProcessed); err == nil {
		ws.Processed = n
	}
	return ws
}
