package moves_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/moves"
	"agencyos/internal/store"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*moves.Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return moves.NewEngine(st, moves.DefaultConfig(), nil), st
}

// reliableReport passes every domain so no rule is suppressed.
func reliableReport() *gates.Report {
	conf := make(map[domain.Domain]domain.ConfidenceState)
	for _, d := range domain.Domains() {
		conf[d] = domain.ConfidenceReliable
	}
	return &gates.Report{Confidence: conf}
}

// seedDebtor creates a client with serious overdue receivables.
func seedDebtor(t *testing.T, st *store.Store, id string, bucket domain.AgingBucket) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertClient(ctx, &domain.Client{
		ID: id, Name: "Acme " + id, Status: domain.ClientActive,
	}, now))
	require.NoError(t, st.SetClientDerived(ctx, id, 55, domain.HealthYellow,
		domain.TrendSteady, 6200, bucket, &now, now))
}

func pendingByType(t *testing.T, st *store.Store, mt domain.MoveType) []*domain.PendingAction {
	t.Helper()
	actions, err := st.ListActions(context.Background(),
		store.ActionFilter{Status: domain.ActionPending, MoveType: mt})
	require.NoError(t, err)
	return actions
}

func TestCollectionCallProposedOnce(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedDebtor(t, st, "c1", domain.Aging61to90)

	created, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// The same situation next cycle refreshes, never stacks.
	created, err = e.Propose(ctx, reliableReport(), now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, created)

	actions := pendingByType(t, st, domain.MoveCollectionCall)
	require.Len(t, actions, 1)
	assert.Equal(t, "collection_call:c1:61-90", actions[0].IdempotencyKey)
	assert.Equal(t, domain.RiskMedium, actions[0].Risk)
	assert.Equal(t, domain.ApprovalHuman, actions[0].Approval)
}

func TestCollectionCallThresholds(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	// Under the amount threshold.
	require.NoError(t, st.UpsertClient(ctx, &domain.Client{ID: "c-small", Name: "Small", Status: domain.ClientActive}, now))
	require.NoError(t, st.SetClientDerived(ctx, "c-small", 80, domain.HealthGreen,
		domain.TrendSteady, 900, domain.Aging90Plus, &now, now))
	// Over the amount but not aged enough.
	require.NoError(t, st.UpsertClient(ctx, &domain.Client{ID: "c-fresh", Name: "Fresh", Status: domain.ClientActive}, now))
	require.NoError(t, st.SetClientDerived(ctx, "c-fresh", 80, domain.HealthGreen,
		domain.TrendSteady, 9000, domain.Aging1to30, &now, now))

	created, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestCollectionCallNewBucketNewProposal(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedDebtor(t, st, "c1", domain.Aging31to60)

	_, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)

	// The debt ages into the next bucket: a distinct key, a new proposal.
	require.NoError(t, st.SetClientDerived(ctx, "c1", 50, domain.HealthYellow,
		domain.TrendDeclining, 6200, domain.Aging61to90, &now, now))
	created, err := e.Propose(ctx, reliableReport(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	actions := pendingByType(t, st, domain.MoveCollectionCall)
	assert.Len(t, actions, 2)
}

func TestBlockedDomainSuppressesRule(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedDebtor(t, st, "c1", domain.Aging61to90)

	report := reliableReport()
	report.Confidence[domain.DomainCash] = domain.ConfidenceBlocked

	created, err := e.Propose(ctx, report, now)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, pendingByType(t, st, domain.MoveCollectionCall))

	// Degraded domains still act.
	report.Confidence[domain.DomainCash] = domain.ConfidenceDegraded
	created, err = e.Propose(ctx, report, now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestEscalateBlockerHorizon(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	oldBlock := now.AddDate(0, 0, -5)
	freshBlock := now.AddDate(0, 0, -1)
	require.NoError(t, st.UpsertTask(ctx, &domain.Task{
		ID: "t-old", Source: domain.SourceAsana, SourceID: "1", Title: "Waiting on legal",
		Status: domain.TaskBlocked, BlockedSince: &oldBlock,
	}, now))
	require.NoError(t, st.UpsertTask(ctx, &domain.Task{
		ID: "t-fresh", Source: domain.SourceAsana, SourceID: "2", Title: "Waiting on assets",
		Status: domain.TaskBlocked, BlockedSince: &freshBlock,
	}, now))

	created, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	actions := pendingByType(t, st, domain.MoveEscalateBlocker)
	require.Len(t, actions, 1)
	assert.Equal(t, "t-old", actions[0].EntityID)
	assert.Contains(t, actions[0].Rationale, "5 days")
}

func TestReassignOverload(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertCapacityLane(ctx, &domain.CapacityLane{
		ID: "lane-design", Name: "Design", WeeklyHours: 40,
	}, now))
	require.NoError(t, st.UpsertCapacityLane(ctx, &domain.CapacityLane{
		ID: "lane-dev", Name: "Dev", WeeklyHours: 40,
	}, now))
	require.NoError(t, st.SetLaneCommitted(ctx, "lane-design", 48, now))
	require.NoError(t, st.SetLaneCommitted(ctx, "lane-dev", 30, now))

	created, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	actions := pendingByType(t, st, domain.MoveReassignOverload)
	require.Len(t, actions, 1)
	assert.Equal(t, "lane-design", actions[0].EntityID)
}

func TestScheduleMeetingTierA(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	recent := now.AddDate(0, 0, -3)
	stale := now.AddDate(0, 0, -30)
	clients := []struct {
		id      string
		tier    domain.ClientTier
		status  domain.ClientStatus
		contact *time.Time
	}{
		{"c-silent", domain.TierA, domain.ClientActive, &stale},
		{"c-never", domain.TierA, domain.ClientActive, nil},
		{"c-recent", domain.TierA, domain.ClientActive, &recent},
		{"c-tierb", domain.TierB, domain.ClientActive, &stale},
		{"c-paused", domain.TierA, domain.ClientPaused, &stale},
	}
	for _, c := range clients {
		require.NoError(t, st.UpsertClient(ctx, &domain.Client{
			ID: c.id, Name: c.id, Tier: c.tier, Status: c.status,
		}, now))
		require.NoError(t, st.SetClientDerived(ctx, c.id, 70, domain.HealthGreen,
			domain.TrendSteady, 0, domain.AgingCurrent, c.contact, now))
	}

	created, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	var ids []string
	for _, a := range pendingByType(t, st, domain.MoveScheduleMeeting) {
		ids = append(ids, a.EntityID)
	}
	assert.ElementsMatch(t, []string{"c-silent", "c-never"}, ids)
}

func TestFollowUpOnSilentThread(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	quiet := now.AddDate(0, 0, -10)
	lively := now.AddDate(0, 0, -1)
	comms := []*domain.Communication{
		{ID: "gmail_1", Source: domain.SourceGmail, SourceID: "1", ThreadID: "th-quiet",
			Sender: "pat@acme.example", Subject: "Launch assets", ContentHash: "h1", ReceivedAt: quiet},
		{ID: "gmail_2", Source: domain.SourceGmail, SourceID: "2", ThreadID: "th-lively",
			Sender: "pat@acme.example", Subject: "Re: contract", ContentHash: "h2", ReceivedAt: quiet},
		{ID: "gmail_3", Source: domain.SourceGmail, SourceID: "3", ThreadID: "th-lively",
			Sender: "sam@agency.example", Subject: "Re: contract", ContentHash: "h3", ReceivedAt: lively},
	}
	for _, c := range comms {
		require.NoError(t, st.UpsertCommunication(ctx, c, now))
	}
	require.NoError(t, st.InsertCommitment(ctx, &domain.Commitment{
		ID: "cm-quiet", CommunicationID: "gmail_1", Kind: domain.CommitmentPromise,
		Description: "Send the launch assets",
	}, now))
	require.NoError(t, st.InsertCommitment(ctx, &domain.Commitment{
		ID: "cm-lively", CommunicationID: "gmail_2", Kind: domain.CommitmentRequest,
		Description: "Countersign the contract",
	}, now))

	created, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	actions := pendingByType(t, st, domain.MoveFollowUpEmail)
	require.Len(t, actions, 1)
	// The lively thread's newer reply suppresses its follow-up.
	assert.Equal(t, "cm-quiet", actions[0].EntityID)
}

func TestResolveLinkAfterHorizon(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	oldDetect := now.AddDate(0, 0, -10)
	require.NoError(t, st.UpsertQueueItem(ctx, &domain.QueueItem{
		EntityType: domain.EntityTask, EntityID: "t1",
		IssueType: domain.IssueMissingProject, Priority: 2,
	}, oldDetect))
	require.NoError(t, st.UpsertQueueItem(ctx, &domain.QueueItem{
		EntityType: domain.EntityInvoice, EntityID: "xero_9",
		IssueType: domain.IssueInvoiceMissingClient, Priority: 1,
	}, now.Add(-time.Hour)))

	created, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	actions := pendingByType(t, st, domain.MoveResolveLink)
	require.Len(t, actions, 1)
	assert.Equal(t, "resolve_link:task:t1", actions[0].IdempotencyKey)
}

func TestProposeExpiresStaleActionsFirst(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedDebtor(t, st, "c1", domain.Aging61to90)

	_, err := e.Propose(ctx, reliableReport(), now)
	require.NoError(t, err)

	// Past the expiry horizon the old proposal retires and, with the
	// condition still true, a fresh one takes its place.
	later := now.AddDate(0, 0, 8)
	created, err := e.Propose(ctx, reliableReport(), later)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	expired, err := st.ListActions(ctx, store.ActionFilter{Status: domain.ActionExpired})
	require.NoError(t, err)
	assert.Len(t, expired, 1)
	assert.Len(t, pendingByType(t, st, domain.MoveCollectionCall), 1)
}
