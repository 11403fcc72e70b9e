package live

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Napageneral/memsync/internal/adapters"
	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/sync"
)

const ChatDBWatcherName = "imessage"

// NewChatDBWatcher re-imports chat.db after it settles. Writes land in the
// -wal and -shm siblings, so the whole directory is watched.
func NewChatDBWatcher(db *sql.DB, chatDBPath string, importer Importer, debounce time.Duration, heartbeatInterval time.Duration, logf func(format string, args ...any)) WatcherSpec {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	return WatcherSpec{
		Name: ChatDBWatcherName,
		Run: func(ctx context.Context, beat func()) error {
			path := chatDBPath
			if path == "" {
				path = adapters.DefaultChatDBPath()
			}
			dir := filepath.Dir(path)
			base := filepath.Base(path)

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			logf("Watching for iMessage changes in %s (debounce: %s)", dir, debounce)

			stopHeartbeat := startHeartbeat(ctx, heartbeatInterval, beat)
			defer stopHeartbeat()

			runImport := func() {
				beat()
				res, err := importer.ImportFile(ctx, string(sync.KindIMessage), path, sync.FileOptions{})
				switch {
				case errors.Is(err, state.ErrAlreadyRunning):
				case err != nil:
					logf("watch import error (imessage): %v", err)
				case res.Inserted > 0:
					logf("[imessage] %d new message(s)", res.Inserted)
					_ = state.Increment(db, owner(ChatDBWatcherName), keyProcessed)
				}
			}

			logf("[imessage] running initial import")
			runImport()

			// The timer fires on its own goroutine; the import is handed back
			// here so imports never overlap.
			fire := make(chan struct{}, 1)
			timer := time.AfterFunc(time.Hour, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
			timer.Stop()
			defer timer.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-fire:
					runImport()
				case event, ok := <-watcher.Events:
					if !ok {
						return errors.New("watcher closed")
					}
					if strings.HasPrefix(filepath.Base(event.Name), base) {
						timer.Reset(debounce)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return errors.New("watcher closed")
					}
					logf("watch error (imessage): %v", err)
				}
			}
		},
	}
}
