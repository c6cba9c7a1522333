package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyos/internal/domain"
)

func TestCycleLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.NextCycleNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	id, err := s.StartCycle(ctx, n, t0)
	require.NoError(t, err)

	durations := `{"collect":1200,"normalize":300}`
	require.NoError(t, s.FinishCycle(ctx, id, true, "", "", durations, t0.Add(2*time.Second)))

	latest, err := s.LatestCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(1), latest.CycleNumber)
	assert.True(t, latest.Success)
	assert.Equal(t, durations, latest.PhaseDurations)
	require.NotNil(t, latest.FinishedAt)

	n, err = s.NextCycleNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCycleFailureBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartCycle(ctx, 1, t0)
	require.NoError(t, err)
	require.NoError(t, s.FinishCycle(ctx, id, false, "gates", "gate battery: disk full", "", t0.Add(time.Second)))

	latest, err := s.LatestCycle(ctx)
	require.NoError(t, err)
	assert.False(t, latest.Success)
	assert.Equal(t, "gates", latest.FailedPhase)
	assert.Equal(t, "cycle 1 failed at gates", latest.Summary())
}

func TestLatestCycleEmpty(t *testing.T) {
	s := newTestStore(t)
	latest, err := s.LatestCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestGateReportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	report, cycle, err := s.LatestGateReport(ctx)
	require.NoError(t, err)
	assert.Empty(t, report)
	assert.Zero(t, cycle)

	require.NoError(t, s.SaveGateReport(ctx, 1, `{"gates":{}}`, t0))
	require.NoError(t, s.SaveGateReport(ctx, 2, `{"gates":{"data_integrity":{"pass":true}}}`, t0.Add(time.Minute)))
	// Re-running a cycle overwrites its report rather than duplicating.
	require.NoError(t, s.SaveGateReport(ctx, 2, `{"gates":{"data_integrity":{"pass":false}}}`, t0.Add(2*time.Minute)))

	report, cycle, err = s.LatestGateReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cycle)
	assert.Contains(t, report, `"pass":false`)
}

func TestSyncStateLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetSyncState(ctx, domain.SourceGmail)
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.MarkSyncStarted(ctx, domain.SourceGmail, t0))
	require.NoError(t, s.MarkSyncSuccess(ctx, domain.SourceGmail, 42, t0.Add(time.Second)))

	st, err = s.GetSyncState(ctx, domain.SourceGmail)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 42, st.ItemsSynced)
	assert.Empty(t, st.LastError)
	require.NotNil(t, st.LastSuccess)

	// A later failure keeps last_success intact.
	require.NoError(t, s.MarkSyncStarted(ctx, domain.SourceGmail, t0.Add(time.Hour)))
	require.NoError(t, s.MarkSyncFailure(ctx, domain.SourceGmail, "transient: 503", t0.Add(time.Hour)))

	st, err = s.GetSyncState(ctx, domain.SourceGmail)
	require.NoError(t, err)
	assert.Equal(t, "transient: 503", st.LastError)
	require.NotNil(t, st.LastSuccess)
	assert.True(t, st.LastSuccess.Equal(t0.Add(time.Second)))

	states, err := s.ListSyncStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, domain.SourceGmail, states[0].Source)
}
