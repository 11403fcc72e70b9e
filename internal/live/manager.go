// Package live runs long-lived watchers that feed files into tracked
// imports: the inbox watcher and the optional chat.db watcher.
package live

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/sync"
)

// Importer runs one tracked file import. *sync.Runner satisfies it.
type Importer interface {
	ImportFile(ctx context.Context, kind string, path string, opts sync.FileOptions) (sync.ServiceResult, error)
}

type WatcherSpec struct {
	Name string
	Run  func(ctx context.Context, beat func()) error
}

type Manager struct {
	DB                *sql.DB
	Config            *config.Config
	Importer          Importer
	HeartbeatInterval time.Duration
	RestartBackoff    time.Duration
	MaxBackoff        time.Duration
	Logf              func(format string, args ...any)
}

func NewManager(db *sql.DB, cfg *config.Config, importer Importer) *Manager {
	return &Manager{
		DB:                db,
		Config:            cfg,
		Importer:          importer,
		HeartbeatInterval: 10 * time.Second,
		RestartBackoff:    3 * time.Second,
		MaxBackoff:        30 * time.Second,
		Logf:              logging.Logf,
	}
}

// Run starts every configured watcher and blocks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	specs, err := m.BuildSpecs()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("no watchers enabled (set watch.enabled or watch.imessage)")
	}
	m.RunSpecs(ctx, specs)
	return nil
}

// RunSpecs supervises specs until ctx is done.
func (m *Manager) RunSpecs(ctx context.Context, specs []WatcherSpec) {
	done := make(chan struct{}, len(specs))
	for _, spec := range specs {
		go func(spec WatcherSpec) {
			m.runWatcher(ctx, spec)
			done <- struct{}{}
		}(spec)
	}
	for range specs {
		<-done
	}
}

func (m *Manager) runWatcher(ctx context.Context, spec WatcherSpec) {
	backoff := m.RestartBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	maxBackoff := m.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	for {
		if ctx.Err() != nil {
			setWatcherStatus(m.DB, spec.Name, statusStopped)
			return
		}

		setWatcherStatus(m.DB, spec.Name, statusRunning)
		setWatcherError(m.DB, spec.Name, nil)
		setWatcherHeartbeat(m.DB, spec.Name, time.Now())

		err := spec.Run(ctx, func() { setWatcherHeartbeat(m.DB, spec.Name, time.Now()) })
		if ctx.Err() != nil {
			setWatcherStatus(m.DB, spec.Name, statusStopped)
			return
		}

		setWatcherStatus(m.DB, spec.Name, statusError)
		setWatcherError(m.DB, spec.Name, err)
		incrementWatcherRestarts(m.DB, spec.Name)
		if err != nil {
			m.Logf("watcher %s stopped: %v (restarting in %s)", spec.Name, err, backoff)
		} else {
			m.Logf("watcher %s stopped (restarting in %s)", spec.Name, backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			setWatcherStatus(m.DB, spec.Name, statusStopped)
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// BuildSpecs returns the watchers enabled in config.
func (m *Manager) BuildSpecs() ([]WatcherSpec, error) {
	if m.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if m.Importer == nil {
		return nil, fmt.Errorf("importer is required")
	}

	var specs []WatcherSpec
	if m.Config.Watch.Enabled {
		inbox, err := m.Config.ResolveInbox()
		if err != nil {
			return nil, err
		}
		specs = append(specs, NewInboxWatcher(m.DB, inbox, m.Importer, m.Config.Watch.Debounce, m.HeartbeatInterval, m.Logf))
	}
	if m.Config.Watch.IMessage {
		specs = append(specs, NewChatDBWatcher(m.DB, m.Config.Watch.ChatDB, m.Importer, m.Config.Watch.Debounce, m.HeartbeatInterval, m.Logf))
	}
	return specs, nil
}
