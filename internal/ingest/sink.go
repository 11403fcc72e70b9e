// Package ingest is the dedup sink every adapter writes through.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Napageneral/memsync/internal/metrics"
	"github.com/Napageneral/memsync/internal/store"
)

// Candidate is one well-formed message produced by an adapter.
type Candidate struct {
	Content   string
	Sender    string
	Recipient string
	Timestamp time.Time
	Metadata  map[string]any
}

// Counts summarises what a sink did.
type Counts struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Sink resolves its source lazily on the first Put and inserts candidates
// idempotently. It is safe for concurrent use.
type Sink struct {
	store  *store.Store
	source string
	Logf   func(format string, args ...any)

	mu       sync.Mutex
	sourceID int64
	counts   Counts
}

func NewSink(s *store.Store, source string, logf func(format string, args ...any)) *Sink {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Sink{store: s, source: source, Logf: logf}
}

func (k *Sink) Source() string {
	return k.source
}

// Store exposes the underlying store for resume-bound queries.
func (k *Sink) Store() *store.Store {
	return k.store
}

func (k *Sink) resolve(ctx context.Context) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.sourceID != 0 {
		return k.sourceID, nil
	}
	id, err := k.store.GetSourceID(ctx, k.source)
	if err != nil {
		return 0, err
	}
	k.sourceID = id
	return id, nil
}

// Put inserts c and reports whether a new row was written. Duplicates and
// write failures both return false; failures are logged and counted apart
// from duplicates (see Counts and PutDetailed).
func (k *Sink) Put(ctx context.Context, c Candidate) bool {
	outcome, err := k.PutDetailed(ctx, c)
	return err == nil && outcome == store.Inserted
}

// PutDetailed is Put with the outcome and error kept distinct.
func (k *Sink) PutDetailed(ctx context.Context, c Candidate) (store.InsertOutcome, error) {
	if err := ctx.Err(); err != nil {
		k.record(store.Duplicate, err)
		return store.Duplicate, err
	}
	sourceID, err := k.resolve(ctx)
	if err != nil {
		err = fmt.Errorf("resolve source %s: %w", k.source, err)
		k.record(store.Duplicate, err)
		return store.Duplicate, err
	}
	outcome, err := k.store.InsertMessage(ctx, store.Message{
		SourceID:  sourceID,
		Content:   c.Content,
		Sender:    strings.TrimSpace(c.Sender),
		Recipient: strings.TrimSpace(c.Recipient),
		Timestamp: c.Timestamp,
		Metadata:  c.Metadata,
	})
	k.record(outcome, err)
	return outcome, err
}

func (k *Sink) record(outcome store.InsertOutcome, err error) {
	k.mu.Lock()
	switch {
	case err != nil:
		k.counts.Failed++
	case outcome == store.Inserted:
		k.counts.Inserted++
	default:
		k.counts.Duplicates++
	}
	k.mu.Unlock()

	switch {
	case err != nil:
		metrics.MessagesIngested.WithLabelValues(k.source, "failed").Inc()
		k.Logf("[%s] insert error: %v", k.source, err)
	case outcome == store.Inserted:
		metrics.MessagesIngested.WithLabelValues(k.source, "inserted").Inc()
	default:
		metrics.MessagesIngested.WithLabelValues(k.source, "duplicate").Inc()
	}
}

// Counts returns a snapshot of the running totals.
func (k *Sink) Counts() Counts {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.counts
}
