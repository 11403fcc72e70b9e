package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/metrics"
	"github.com/Napageneral/memsync/internal/store"
)

// ErrMissingCredential is returned when a live adapter has no token or key.
var ErrMissingCredential = errors.New("missing credential")

// Adapter pulls history from a provider API into the store.
type Adapter interface {
	// Name returns the service key (e.g., "discord", "slack")
	Name() string

	// Sync pages through the provider and inserts every new message.
	Sync(ctx context.Context, st *store.Store) (Result, error)
}

// FileAdapter imports one exported file.
type FileAdapter interface {
	// Name returns the tracking key (e.g., "imessage", "openai-export")
	Name() string

	// Import parses path and inserts every well-formed message.
	Import(ctx context.Context, st *store.Store, path string) (Result, error)
}

// Result contains statistics about an adapter run
type Result struct {
	Inserted      int `json:"inserted"`
	Duplicates    int `json:"duplicates"`
	Failed        int `json:"failed,omitempty"`
	Skipped       int `json:"skipped,omitempty"`
	Total         int `json:"total,omitempty"`
	Conversations int `json:"conversations,omitempty"`
	Lines         int `json:"lines,omitempty"`
	// FailedItems counts conversations or channels whose fetch failed and
	// were skipped.
	FailedItems int           `json:"failed_items,omitempty"`
	Duration    time.Duration `json:"-"`
}

// Logf is the printf-style hook adapters log through.
type Logf func(format string, args ...any)

func orDefault(l Logf) Logf {
	if l == nil {
		return logging.Logf
	}
	return l
}

// finish copies the sink counters into r.
func finish(r *Result, sink *ingest.Sink, start time.Time) {
	c := sink.Counts()
	r.Inserted = c.Inserted
	r.Duplicates = c.Duplicates
	r.Failed = c.Failed
	r.Duration = time.Since(start)
}

func skip(source, reason string) {
	metrics.RecordsSkipped.WithLabelValues(source, reason).Inc()
}
