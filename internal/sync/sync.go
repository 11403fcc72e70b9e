package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Napageneral/memsync/internal/adapters"
	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/store"
)

// ServiceResult contains the result of one tracked run
type ServiceResult struct {
	Service string `json:"service"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	adapters.Result
	Duration string `json:"duration"`
}

// SyncResult contains the results of syncing every enabled service
type SyncResult struct {
	OK       bool            `json:"ok"`
	Message  string          `json:"message,omitempty"`
	Services []ServiceResult `json:"services,omitempty"`
}

// Runner resolves adapters from the closed registries and runs them under
// the sync state tracker with a deadline.
type Runner struct {
	DB     *sql.DB
	Store  *store.Store
	Config *config.Config
	Logf   adapters.Logf

	// Live and Files default to the built-in registries.
	Live  map[Service]LiveFactory
	Files map[FileKind]FileFactory
}

func NewRunner(db *sql.DB, cfg *config.Config) *Runner {
	return &Runner{DB: db, Store: store.New(db), Config: cfg, Logf: logging.Logf}
}

func (r *Runner) liveFactory(svc Service) (LiveFactory, bool) {
	reg := r.Live
	if reg == nil {
		reg = liveRegistry
	}
	f, ok := reg[svc]
	return f, ok
}

func (r *Runner) fileFactory(kind FileKind) (FileFactory, bool) {
	reg := r.Files
	if reg == nil {
		reg = fileRegistry
	}
	f, ok := reg[kind]
	return f, ok
}

func (r *Runner) logf() adapters.Logf {
	if r.Logf == nil {
		return logging.Logf
	}
	return r.Logf
}

func (r *Runner) timeout() time.Duration {
	if r.Config == nil || r.Config.Sync.Timeout <= 0 {
		return config.DefaultTimeout
	}
	return r.Config.Sync.Timeout
}

func (r *Runner) staleAfter() time.Duration {
	if r.Config == nil || r.Config.Sync.StaleAfter <= 0 {
		return config.DefaultStaleAfter
	}
	return r.Config.Sync.StaleAfter
}

// track runs fn under the tracker for key with the configured deadline.
func (r *Runner) track(ctx context.Context, key string, fn func(ctx context.Context) (adapters.Result, error)) (ServiceResult, error) {
	out := ServiceResult{Service: key}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	err := state.Track(ctx, r.DB, key, r.staleAfter(), func(ctx context.Context) (int, error) {
		res, err := fn(ctx)
		out.Result = res
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s exceeded its %s deadline: %w", key, r.timeout(), err)
		}
		return res.Inserted, err
	})
	out.Duration = time.Since(start).String()
	if err != nil {
		out.Error = err.Error()
		r.logf()("[%s] sync failed: %v", key, err)
		return out, err
	}
	out.Success = true
	return out, nil
}

// SyncOne runs one live service. Unknown services are rejected before any
// adapter is built or any state is written.
func (r *Runner) SyncOne(ctx context.Context, service string) (ServiceResult, error) {
	svc, err := ParseService(service)
	if err != nil {
		return ServiceResult{Service: service, Error: err.Error()}, err
	}
	factory, ok := r.liveFactory(svc)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownService, service)
		return ServiceResult{Service: service, Error: err.Error()}, err
	}

	return r.track(ctx, string(svc), func(ctx context.Context) (adapters.Result, error) {
		adapter, err := factory(r.Config, r.logf())
		if err != nil {
			return adapters.Result{}, err
		}
		return adapter.Sync(ctx, r.Store)
	})
}

// SyncAll runs every enabled live service in turn. One failing service
// doesn't stop the others, but the overall result is not OK.
func (r *Runner) SyncAll(ctx context.Context) SyncResult {
	result := SyncResult{OK: true}

	var enabled []string
	for name, svc := range r.Config.Services {
		if svc.Enabled {
			enabled = append(enabled, name)
		}
	}
	if len(enabled) == 0 {
		result.Message = "No services enabled"
		return result
	}
	sort.Strings(enabled)

	for _, name := range enabled {
		if err := ctx.Err(); err != nil {
			result.OK = false
			result.Message = err.Error()
			break
		}
		res, err := r.SyncOne(ctx, name)
		result.Services = append(result.Services, res)
		if err != nil {
			result.OK = false
		}
	}
	return result
}

// ImportFile runs one file adapter over path under its tracking key.
func (r *Runner) ImportFile(ctx context.Context, kind string, path string, opts FileOptions) (ServiceResult, error) {
	k, err := ParseFileKind(kind)
	if err != nil {
		return ServiceResult{Service: kind, Error: err.Error()}, err
	}
	factory, ok := r.fileFactory(k)
	if !ok {
		err := fmt.Errorf("%w: import kind %s", ErrUnknownService, kind)
		return ServiceResult{Service: kind, Error: err.Error()}, err
	}

	adapter := factory(opts, r.logf())
	return r.track(ctx, adapter.Name(), func(ctx context.Context) (adapters.Result, error) {
		return adapter.Import(ctx, r.Store, path)
	})
}

// Status returns the tracked state of every service that has run.
func (r *Runner) Status(ctx context.Context) ([]state.SyncState, error) {
	return state.List(ctx, r.DB)
}

// Reconcile releases leases left behind by a crashed process.
func (r *Runner) Reconcile(ctx context.Context) (int, error) {
	n, err := state.ReconcileStale(ctx, r.DB, r.staleAfter())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logf()("Reconciled %d interrupted sync run(s)", n)
	}
	return n, nil
}
