package loop_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"agencyos/internal/collector"
	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/loop"
	"agencyos/internal/moves"
	"agencyos/internal/normalize"
	"agencyos/internal/notify"
	"agencyos/internal/queue"
	"agencyos/internal/snapshot"
	"agencyos/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder captures notifications.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	loop     *loop.Loop
	store    *store.Store
	writer   *snapshot.Writer
	notifier *recorder
	docs     []*snapshot.Document
}

func newFixture(t *testing.T, snapshotDir string) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if snapshotDir == "" {
		snapshotDir = filepath.Join(t.TempDir(), "snapshots")
	}
	f := &fixture{
		store:    st,
		writer:   snapshot.NewWriter(snapshotDir, 2, nil),
		notifier: &recorder{},
	}
	f.loop = loop.New(loop.Options{
		Store:      st,
		Runner:     collector.NewRunner(st, nil, 0, nil),
		Normalizer: normalize.New(st, nil, nil),
		Gates:      gates.NewEngine(st, gates.DefaultThresholds(), nil),
		Queue:      queue.NewEngine(st, queue.DefaultConfig(), nil),
		Builder:    snapshot.NewBuilder(st, domain.ModeOpsHead, nil),
		Writer:     f.writer,
		Moves:      moves.NewEngine(st, moves.DefaultConfig(), nil),
		Notifier:   f.notifier,
		OnSnapshot: func(doc *snapshot.Document) { f.docs = append(f.docs, doc) },
	})
	return f
}

func TestRunOnceHappyPath(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	require.NoError(t, f.store.UpsertCapacityLane(ctx, &domain.CapacityLane{
		ID: "l1", Name: "Design", WeeklyHours: 40,
	}, time.Now().UTC()))
	blockedSince := time.Now().UTC().AddDate(0, 0, -5)
	require.NoError(t, f.store.UpsertTask(ctx, &domain.Task{
		ID: "t1", Source: domain.SourceAsana, SourceID: "1", Title: "Waiting on legal",
		Status: domain.TaskBlocked, BlockedSince: &blockedSince,
	}, time.Now().UTC()))

	result, err := f.loop.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, result.Success, "failed phase %s: %v", result.FailedPhase, result.Err)
	assert.Equal(t, int64(1), result.CycleNumber)
	for _, phase := range []string{
		loop.PhaseCollect, loop.PhaseNormalize, loop.PhaseGates,
		loop.PhaseResolution, loop.PhaseSnapshot, loop.PhaseMoves,
	} {
		assert.Contains(t, result.Durations, phase)
	}

	// The snapshot landed on disk and reached the hook.
	doc, err := f.writer.ReadCurrent()
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(1), doc.CycleNumber)
	require.Len(t, f.docs, 1)

	// Resolution picked up the blocked task.
	assert.Positive(t, doc.Inbox.Open)

	// Cycle bookkeeping is complete.
	latest, err := f.store.LatestCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Success)

	report, cycle, err := f.store.LatestGateReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cycle)
	assert.NotEmpty(t, report)

	// A second run advances the cycle number.
	result, err = f.loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.CycleNumber)
}

func TestRunOnceFailureStopsPipeline(t *testing.T) {
	// A plain file where the snapshot directory should be makes the
	// snapshot phase fail deterministically.
	base := t.TempDir()
	blocked := filepath.Join(base, "snapshots")
	require.NoError(t, os.WriteFile(blocked, []byte("in the way"), 0o644))

	f := newFixture(t, blocked)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertCapacityLane(ctx, &domain.CapacityLane{
		ID: "l1", Name: "Design", WeeklyHours: 40,
	}, time.Now().UTC()))

	result, err := f.loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, loop.PhaseSnapshot, result.FailedPhase)
	require.Error(t, result.Err)

	// Earlier phases ran; moves never did.
	assert.Contains(t, result.Durations, loop.PhaseGates)
	assert.NotContains(t, result.Durations, loop.PhaseMoves)
	assert.Empty(t, f.docs)

	latest, err := f.store.LatestCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.Success)
	assert.Equal(t, loop.PhaseSnapshot, latest.FailedPhase)

	assert.Contains(t, f.notifier.kinds(), "cycle_failed")

	// The next cycle starts clean and succeeds once the path is usable.
	require.NoError(t, os.Remove(blocked))
	result, err = f.loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(2), result.CycleNumber)
}

func TestGateFlipNotification(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	// First cycle: no lanes, capacity_baseline fails. Second cycle: a
	// budgeted lane appears and the gate recovers, which is a flip.
	result, err := f.loop.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)

	require.NoError(t, f.store.UpsertCapacityLane(ctx, &domain.CapacityLane{
		ID: "l1", Name: "Design", WeeklyHours: 40,
	}, time.Now().UTC()))

	result, err = f.loop.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.Snapshot)
	require.Len(t, result.Snapshot.Deltas.GateFlips, 1)
	assert.Equal(t, gates.GateCapacityBaseline, result.Snapshot.Deltas.GateFlips[0].Gate)
	assert.True(t, result.Snapshot.Deltas.GateFlips[0].To)

	assert.Contains(t, f.notifier.kinds(), "gate_flip")
}
