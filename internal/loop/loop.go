// Package loop drives the control cycle: collect, normalize, gates,
// resolution, snapshot, moves, in that order, one cycle at a time. A
// phase failure stops the cycle; the next tick starts clean from the
// store.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/collector"
	"agencyos/internal/gates"
	"agencyos/internal/logging"
	"agencyos/internal/moves"
	"agencyos/internal/normalize"
	"agencyos/internal/notify"
	"agencyos/internal/queue"
	"agencyos/internal/snapshot"
	"agencyos/internal/store"
)

// Phase names, in execution order.
const (
	PhaseCollect    = "collect"
	PhaseNormalize  = "normalize"
	PhaseGates      = "gates"
	PhaseResolution = "resolution"
	PhaseSnapshot   = "snapshot"
	PhaseMoves      = "moves"
)

// Result summarizes one finished cycle.
type Result struct {
	CycleNumber int64
	Success     bool
	FailedPhase string
	Err         error
	Durations   map[string]time.Duration
	Snapshot    *snapshot.Document
}

// Loop owns the cycle cadence. Cycles never overlap: a tick that
// arrives while a cycle runs is skipped.
type Loop struct {
	store      *store.Store
	runner     *collector.Runner
	normalizer *normalize.Normalizer
	gates      *gates.Engine
	queue      *queue.Engine
	builder    *snapshot.Builder
	writer     *snapshot.Writer
	moves      *moves.Engine
	notifier   notify.Notifier
	metrics    *Metrics
	logger     *zap.Logger

	interval     time.Duration
	cycleTimeout time.Duration

	onSnapshot func(*snapshot.Document)

	running sync.Mutex
}

// Options wires the loop's collaborators.
type Options struct {
	Store      *store.Store
	Runner     *collector.Runner
	Normalizer *normalize.Normalizer
	Gates      *gates.Engine
	Queue      *queue.Engine
	Builder    *snapshot.Builder
	Writer     *snapshot.Writer
	Moves      *moves.Engine
	Notifier   notify.Notifier
	Metrics    *Metrics
	Logger     *zap.Logger

	Interval     time.Duration
	CycleTimeout time.Duration

	// OnSnapshot runs after a successful cycle with the fresh document
	// (cache invalidation, UI refresh). Optional.
	OnSnapshot func(*snapshot.Document)
}

// New builds a loop.
func New(opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 4 * time.Minute
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Loop{
		store:        opts.Store,
		runner:       opts.Runner,
		normalizer:   opts.Normalizer,
		gates:        opts.Gates,
		queue:        opts.Queue,
		builder:      opts.Builder,
		writer:       opts.Writer,
		moves:        opts.Moves,
		notifier:     notifier,
		metrics:      opts.Metrics,
		logger:       logging.OrNop(opts.Logger).Named("loop"),
		interval:     opts.Interval,
		cycleTimeout: opts.CycleTimeout,
		onSnapshot:   opts.OnSnapshot,
	}
}

// Run cycles until the context ends. The first cycle starts
// immediately.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one cycle unless one is already in flight.
func (l *Loop) tick(ctx context.Context) {
	if !l.running.TryLock() {
		l.logger.Warn("cycle still running, tick skipped")
		return
	}
	defer l.running.Unlock()

	if _, err := l.runCycle(ctx); err != nil && ctx.Err() == nil {
		l.logger.Error("cycle bookkeeping failed", zap.Error(err))
	}
}

// RunOnce executes a single cycle for the CLI. The returned Result
// carries the outcome; the error covers bookkeeping failures only.
func (l *Loop) RunOnce(ctx context.Context) (*Result, error) {
	l.running.Lock()
	defer l.running.Unlock()
	return l.runCycle(ctx)
}

func (l *Loop) runCycle(parent context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, l.cycleTimeout)
	defer cancel()

	now := time.Now().UTC()
	cycleNumber, err := l.store.NextCycleNumber(ctx)
	if err != nil {
		return nil, err
	}
	logID, err := l.store.StartCycle(ctx, cycleNumber, now)
	if err != nil {
		return nil, err
	}
	l.logger.Info("cycle started", zap.Int64("cycle", cycleNumber))

	result := &Result{
		CycleNumber: cycleNumber,
		Durations:   make(map[string]time.Duration, 6),
	}

	var report *gates.Report
	var doc *snapshot.Document

	phases := []struct {
		name string
		fn   func(context.Context, time.Time) error
	}{
		{PhaseCollect, func(ctx context.Context, now time.Time) error {
			return l.runner.RunDue(ctx, now)
		}},
		{PhaseNormalize, func(ctx context.Context, now time.Time) error {
			return l.normalizer.Run(ctx, now)
		}},
		{PhaseGates, func(ctx context.Context, now time.Time) error {
			var err error
			if report, err = l.gates.Evaluate(ctx); err != nil {
				return err
			}
			reportJSON, err := report.JSON()
			if err != nil {
				return err
			}
			return l.store.SaveGateReport(ctx, cycleNumber, reportJSON, now)
		}},
		{PhaseResolution, func(ctx context.Context, now time.Time) error {
			return l.queue.Detect(ctx, report, now)
		}},
		{PhaseSnapshot, func(ctx context.Context, now time.Time) error {
			prev, err := l.writer.ReadCurrent()
			if err != nil {
				l.logger.Warn("previous snapshot unreadable, deltas reset", zap.Error(err))
			}
			if doc, err = l.builder.Build(ctx, cycleNumber, report, prev, now); err != nil {
				return err
			}
			return l.writer.Write(doc)
		}},
		{PhaseMoves, func(ctx context.Context, now time.Time) error {
			created, err := l.moves.Propose(ctx, report, now)
			if err != nil {
				return err
			}
			if created > 0 {
				l.notify(parent, notify.Event{
					Kind:        "moves_proposed",
					CycleNumber: cycleNumber,
					Message:     fmt.Sprintf("%d new moves proposed", created),
				})
			}
			return nil
		}},
	}

	for _, phase := range phases {
		started := time.Now()
		err := phase.fn(ctx, time.Now().UTC())
		result.Durations[phase.name] = time.Since(started)

		if err != nil {
			l.metrics.ObservePhase(phase.name, "error", result.Durations[phase.name])
			result.FailedPhase = phase.name
			result.Err = err
			break
		}
		l.metrics.ObservePhase(phase.name, "ok", result.Durations[phase.name])
	}
	result.Success = result.Err == nil
	result.Snapshot = doc

	finishedAt := time.Now().UTC()
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	durations := make(map[string]int64, len(result.Durations))
	for name, d := range result.Durations {
		durations[name] = d.Milliseconds()
	}
	durationsJSON, _ := json.Marshal(durations)

	// Bookkeeping runs on the parent context; the cycle deadline must
	// not strand an unfinished cycle_logs row.
	if err := l.store.FinishCycle(parent, logID, result.Success, result.FailedPhase,
		errMsg, string(durationsJSON), finishedAt); err != nil {
		return result, err
	}
	l.metrics.CycleFinished(result.FailedPhase)

	if result.Success {
		l.logger.Info("cycle finished",
			zap.Int64("cycle", cycleNumber),
			zap.Duration("took", finishedAt.Sub(now)))
		l.afterSuccess(parent, cycleNumber, doc)
	} else {
		l.logger.Error("cycle failed",
			zap.Int64("cycle", cycleNumber),
			zap.String("phase", result.FailedPhase),
			zap.Error(result.Err))
		l.notify(parent, notify.Event{
			Kind:        "cycle_failed",
			CycleNumber: cycleNumber,
			Message:     fmt.Sprintf("cycle failed in %s: %s", result.FailedPhase, errMsg),
		})
	}
	return result, nil
}

// afterSuccess updates gauges, fires gate-flip notifications, and runs
// the snapshot hook.
func (l *Loop) afterSuccess(ctx context.Context, cycleNumber int64, doc *snapshot.Document) {
	if doc == nil {
		return
	}
	failing := 0
	for _, res := range doc.Gates {
		if !res.Pass {
			failing++
		}
	}
	l.metrics.SetState(doc.Inbox.Open, len(doc.Moves), failing)

	for _, flip := range doc.Deltas.GateFlips {
		direction := "now failing"
		if flip.To {
			direction = "recovered"
		}
		l.notify(ctx, notify.Event{
			Kind:        "gate_flip",
			CycleNumber: cycleNumber,
			Message:     fmt.Sprintf("gate %s %s", flip.Gate, direction),
			Detail:      flip,
		})
	}

	if l.onSnapshot != nil {
		l.onSnapshot(doc)
	}
}

// notify delivers best-effort; a dead webhook never affects a cycle.
func (l *Loop) notify(ctx context.Context, ev notify.Event) {
	nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := l.notifier.Notify(nctx, ev); err != nil {
		l.logger.Warn("notification failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}
