// Package collector ingests artifacts from the external sources: tasks,
// calendar, email, the project tracker, accounting, and local seed
// files. Each collector owns its source-tagged rows and upserts them
// idempotently by prefixed external ID; derived fields are never
// written here.
//
// The Runner fans out due collectors concurrently during the COLLECT
// phase. A collector failure is classified, recorded in sync_state, and
// never fails the cycle.
package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agencyos/internal/agencyerr"
	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// Collector pulls one source's artifacts into the store.
type Collector interface {
	// Source names the collector and tags its rows.
	Source() domain.Source
	// Interval is the minimum gap between runs.
	Interval() time.Duration
	// Collect fetches a bounded batch and upserts it, returning the
	// number of items synced. Errors are classified with agencyerr.
	Collect(ctx context.Context, now time.Time) (int, error)
}

// Runner schedules collectors and keeps their sync_state current.
type Runner struct {
	store      *store.Store
	collectors []Collector
	timeout    time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[domain.Source]bool
}

// NewRunner builds a runner over the enabled collectors.
func NewRunner(st *store.Store, collectors []Collector, timeout time.Duration, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{
		store:      st,
		collectors: collectors,
		timeout:    timeout,
		logger:     logging.OrNop(logger).Named("collector"),
		inflight:   make(map[domain.Source]bool),
	}
}

// RunDue runs every collector whose interval has elapsed, concurrently,
// and waits for all of them. Per-collector failures are recorded, not
// returned; only a sync_state bookkeeping failure propagates.
func (r *Runner) RunDue(ctx context.Context, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range r.collectors {
		c := c
		due, err := r.isDue(ctx, c, now)
		if err != nil {
			return err
		}
		if !due {
			continue
		}
		if !r.tryAcquire(c.Source()) {
			// The previous run is still executing; skip this tick.
			r.logger.Debug("collector still running, tick skipped",
				zap.String("source", string(c.Source())))
			continue
		}
		g.Go(func() error {
			defer r.release(c.Source())
			r.runOne(gctx, c, now)
			return nil
		})
	}
	return g.Wait()
}

// RunAll forces every collector to run regardless of interval. Used by
// the one-shot CLI command.
func (r *Runner) RunAll(ctx context.Context, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range r.collectors {
		c := c
		if !r.tryAcquire(c.Source()) {
			continue
		}
		g.Go(func() error {
			defer r.release(c.Source())
			r.runOne(gctx, c, now)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) isDue(ctx context.Context, c Collector, now time.Time) (bool, error) {
	state, err := r.store.GetSyncState(ctx, c.Source())
	if err != nil {
		return false, err
	}
	if state == nil {
		return true, nil
	}
	return state.Due(now, c.Interval()), nil
}

func (r *Runner) tryAcquire(source domain.Source) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[source] {
		return false
	}
	r.inflight[source] = true
	return true
}

func (r *Runner) release(source domain.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, source)
}

// runOne executes a single collector run under the per-run timeout and
// records the outcome.
func (r *Runner) runOne(ctx context.Context, c Collector, now time.Time) {
	source := c.Source()
	log := r.logger.Named(string(source))

	if err := r.store.MarkSyncStarted(ctx, source, now); err != nil {
		log.Error("sync bookkeeping failed", zap.Error(err))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	items, err := c.Collect(runCtx, now)
	elapsed := time.Since(start)

	if err != nil {
		class := agencyerr.Classify(err)
		log.Warn("collection failed",
			zap.String("class", string(class)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		msg := string(class) + ": " + err.Error()
		if err := r.store.MarkSyncFailure(ctx, source, msg, time.Now()); err != nil {
			log.Error("sync bookkeeping failed", zap.Error(err))
		}
		return
	}

	log.Info("collection complete", zap.Int("items", items), zap.Duration("elapsed", elapsed))
	if err := r.store.MarkSyncSuccess(ctx, source, items, time.Now()); err != nil {
		log.Error("sync bookkeeping failed", zap.Error(err))
	}
}
