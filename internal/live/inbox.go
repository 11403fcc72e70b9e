package live

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/sync"
)

const (
	InboxWatcherName = "inbox"

	processedDir = "processed"
	failedDir    = "failed"
)

// NewInboxWatcher imports files dropped into <inbox>/<kind>/. Imported files
// move to <inbox>/processed/<kind>/, files that fail to import move to
// <inbox>/failed/<kind>/. Files already present at start are picked up too.
func NewInboxWatcher(db *sql.DB, inbox string, importer Importer, debounce time.Duration, heartbeatInterval time.Duration, logf func(format string, args ...any)) WatcherSpec {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	w := &inboxWatcher{db: db, inbox: inbox, importer: importer, debounce: debounce, logf: logf}

	return WatcherSpec{
		Name: InboxWatcherName,
		Run: func(ctx context.Context, beat func()) error {
			stopHeartbeat := startHeartbeat(ctx, heartbeatInterval, beat)
			defer stopHeartbeat()
			return w.run(ctx)
		},
	}
}

type inboxWatcher struct {
	db       *sql.DB
	inbox    string
	importer Importer
	debounce time.Duration
	logf     func(format string, args ...any)
}

func (w *inboxWatcher) run(ctx context.Context) error {
	if err := w.ensureLayout(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, kind := range sync.FileKinds {
		dir := filepath.Join(w.inbox, string(kind))
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.logf("Watching inbox %s (debounce: %s)", w.inbox, w.debounce)

	// pending is only touched from this goroutine; timers hand paths back
	// through ready once a file has been quiet for the debounce delay.
	ready := make(chan string)
	pending := map[string]*time.Timer{}
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	schedule := func(path string) {
		if t, ok := pending[path]; ok {
			t.Reset(w.debounce)
			return
		}
		pending[path] = time.AfterFunc(w.debounce, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for _, path := range w.scan() {
		schedule(path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-ready:
			delete(pending, path)
			w.process(ctx, path)
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, ok := kindFor(w.inbox, event.Name); ok {
				schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			w.logf("watch error (inbox): %v", err)
		}
	}
}

func (w *inboxWatcher) ensureLayout() error {
	for _, kind := range sync.FileKinds {
		for _, dir := range []string{
			filepath.Join(w.inbox, string(kind)),
			filepath.Join(w.inbox, processedDir, string(kind)),
			filepath.Join(w.inbox, failedDir, string(kind)),
		} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create inbox dir: %w", err)
			}
		}
	}
	return nil
}

// scan lists files already waiting in the inbox.
func (w *inboxWatcher) scan() []string {
	var out []string
	for _, kind := range sync.FileKinds {
		entries, err := os.ReadDir(filepath.Join(w.inbox, string(kind)))
		if err != nil {
			continue
		}
		for _, e := range entries {
			path := filepath.Join(w.inbox, string(kind), e.Name())
			if _, ok := kindFor(w.inbox, path); ok && e.Type().IsRegular() {
				out = append(out, path)
			}
		}
	}
	return out
}

func (w *inboxWatcher) process(ctx context.Context, path string) {
	kind, ok := kindFor(w.inbox, path)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	opts := sync.FileOptions{}
	if kind == sync.KindWhatsApp {
		opts.ChatName = chatNameFromFile(path)
	}

	res, err := w.importer.ImportFile(ctx, string(kind), path, opts)
	if errors.Is(err, state.ErrAlreadyRunning) {
		// Left in place; the next event or restart scan retries it.
		w.logf("[inbox] %s busy, leaving %s for later", kind, filepath.Base(path))
		return
	}
	if err != nil {
		w.logf("[inbox] import %s failed: %v", filepath.Base(path), err)
		w.move(path, failedDir, kind)
		return
	}

	w.logf("[inbox] %s: %d new, %d duplicate(s)", filepath.Base(path), res.Inserted, res.Duplicates)
	w.move(path, processedDir, kind)
	_ = state.Increment(w.db, owner(InboxWatcherName), keyProcessed)
}

func (w *inboxWatcher) move(path string, bucket string, kind sync.FileKind) {
	dest := filepath.Join(w.inbox, bucket, string(kind),
		fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		w.logf("[inbox] move %s: %v", filepath.Base(path), err)
	}
}

// kindFor maps a path directly under <inbox>/<kind>/ to its kind. Hidden
// files and partial downloads are ignored.
func kindFor(inbox string, path string) (sync.FileKind, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".crdownload") {
		return "", false
	}
	rel, err := filepath.Rel(inbox, filepath.Dir(path))
	if err != nil || strings.Contains(rel, string(filepath.Separator)) {
		return "", false
	}
	kind, err := sync.ParseFileKind(rel)
	if err != nil {
		return "", false
	}
	return kind, true
}

// chatNameFromFile recovers the chat name WhatsApp puts in export file
// names ("WhatsApp Chat with Alice.txt").
func chatNameFromFile(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, prefix := range []string{"WhatsApp Chat with ", "WhatsApp Chat - "} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(name, prefix))
		}
	}
	return ""
}
