package live

import (
	"database/sql"
	"fmt"

	"github.com/Napageneral/memsync/internal/config"
)

type WatcherStatus struct {
	Name          string `json:"name"`
	Enabled       bool   `json:"enabled"`
	Status        string `json:"status,omitempty"`
	LastHeartbeat *int64 `json:"last_heartbeat,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	Restarts      int64  `json:"restarts,omitempty"`
	Processed     int64  `json:"processed,omitempty"`
}

// GetStatuses reports both watchers, enabled or not.
func GetStatuses(db *sql.DB, cfg *config.Config) ([]WatcherStatus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	inbox := readWatcherStatus(db, InboxWatcherName)
	inbox.Enabled = cfg.Watch.Enabled
	chatDB := readWatcherStatus(db, ChatDBWatcherName)
	chatDB.Enabled = cfg.Watch.IMessage
	return []WatcherStatus{inbox, chatDB}, nil
}
