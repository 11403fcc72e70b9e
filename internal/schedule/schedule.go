// Package schedule runs live syncs on their configured cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adhocore/gronx"

	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/sync"
)

// Syncer runs one tracked live sync. *sync.Runner satisfies it.
type Syncer interface {
	SyncOne(ctx context.Context, service string) (sync.ServiceResult, error)
}

// Entry is one scheduled service.
type Entry struct {
	Service string `json:"service"`
	Cron    string `json:"cron"`
}

type Scheduler struct {
	Syncer Syncer
	Logf   func(format string, args ...any)

	entries []Entry
	// after is time.After; tests swap it to avoid waiting on the wall clock.
	after func(d time.Duration) <-chan time.Time
}

// New collects the enabled services that carry a schedule. Unknown service
// names and invalid expressions are rejected.
func New(cfg *config.Config, syncer Syncer) (*Scheduler, error) {
	s := &Scheduler{Syncer: syncer, Logf: logging.Logf, after: time.After}
	for name, svc := range cfg.Services {
		if !svc.Enabled || svc.Schedule == "" {
			continue
		}
		parsed, err := sync.ParseService(name)
		if err != nil {
			return nil, fmt.Errorf("services.%s: %w", name, err)
		}
		if !gronx.IsValid(svc.Schedule) {
			return nil, fmt.Errorf("services.%s.schedule: invalid cron expression %q", name, svc.Schedule)
		}
		s.entries = append(s.entries, Entry{Service: string(parsed), Cron: svc.Schedule})
	}
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].Service < s.entries[j].Service })
	return s, nil
}

func (s *Scheduler) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Run blocks until ctx is done. Each service has its own loop, so a slow
// sync delays only its own next tick.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, len(s.entries))
	for _, e := range s.entries {
		s.Logf("[schedule] %s on %q", e.Service, e.Cron)
		go func(e Entry) {
			s.loop(ctx, e)
			done <- struct{}{}
		}(e)
	}
	for range s.entries {
		<-done
	}
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	for {
		if ctx.Err() != nil {
			return
		}

		next, err := gronx.NextTickAfter(e.Cron, time.Now(), false)
		if err != nil {
			s.Logf("[schedule] %s: next tick: %v", e.Service, err)
			select {
			case <-s.after(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-s.after(time.Until(next)):
		case <-ctx.Done():
			return
		}
		s.fire(ctx, e)
	}
}

func (s *Scheduler) fire(ctx context.Context, e Entry) {
	res, err := s.Syncer.SyncOne(ctx, e.Service)
	switch {
	case errors.Is(err, state.ErrAlreadyRunning):
		s.Logf("[schedule] %s still running, skipping this tick", e.Service)
	case err != nil:
		s.Logf("[schedule] %s failed: %v", e.Service, err)
	default:
		s.Logf("[schedule] %s: %d new, %d duplicate(s) in %s", e.Service, res.Inserted, res.Duplicates, res.Duration)
	}
}
