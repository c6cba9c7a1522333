package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/store"
)

var buildTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newBuilderStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func reliableReport() *gates.Report {
	confidence := make(map[domain.Domain]domain.ConfidenceState)
	for _, d := range domain.Domains() {
		confidence[d] = domain.ConfidenceReliable
	}
	return &gates.Report{
		Gates:      map[string]gates.Result{gates.GateDataIntegrity: {Pass: true}},
		Confidence: confidence,
	}
}

func TestBuildEmptyStore(t *testing.T) {
	st := newBuilderStore(t)
	b := NewBuilder(st, domain.ModeOpsHead, nil)

	doc, err := b.Build(context.Background(), 1, reliableReport(), nil, buildTime)
	require.NoError(t, err)

	assert.Equal(t, int64(1), doc.CycleNumber)
	assert.True(t, doc.GeneratedAt.Equal(buildTime))
	assert.Equal(t, domain.ConfidenceReliable, doc.Delivery.Confidence)
	// Sections are present and empty, never nil, so the JSON shape is
	// stable for consumers.
	assert.NotNil(t, doc.Delivery.Projects)
	assert.NotNil(t, doc.Clients.Clients)
	assert.NotNil(t, doc.Cash.Invoices)
	assert.NotNil(t, doc.Capacity.Lanes)
	assert.Len(t, doc.Cash.ARAging, 5)
	assert.Zero(t, doc.Inbox.Open)
	assert.Equal(t, Deltas{}, doc.Deltas)
}

func TestBuildSections(t *testing.T) {
	st := newBuilderStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertClient(ctx, &domain.Client{
		ID: "c1", Name: "Acme", Status: domain.ClientActive, Tier: domain.TierA,
	}, buildTime))
	require.NoError(t, st.UpsertClient(ctx, &domain.Client{
		ID: "c-gone", Name: "Former", Status: domain.ClientArchived,
	}, buildTime))
	require.NoError(t, st.UpsertProject(ctx, &domain.Project{
		ID: "p1", Name: "Relaunch", Status: domain.ProjectActive, ClientID: "c1", Source: domain.SourceSeed,
	}, buildTime))
	require.NoError(t, st.UpsertProject(ctx, &domain.Project{
		ID: "p-done", Name: "Shipped", Status: domain.ProjectArchived, Source: domain.SourceSeed,
	}, buildTime))

	due := buildTime.AddDate(0, 0, -40)
	require.NoError(t, st.UpsertInvoice(ctx, &domain.Invoice{
		ID: "xero_1", Source: domain.SourceXero, SourceID: "1", ClientID: "c1", Number: "INV-1",
		Amount: 1800, Currency: "EUR", Status: domain.InvoiceSent, DueDate: &due,
		AgingBucket: domain.Aging31to60,
	}, buildTime))

	require.NoError(t, st.UpsertCapacityLane(ctx, &domain.CapacityLane{
		ID: "l1", Name: "Design", WeeklyHours: 40,
	}, buildTime))
	require.NoError(t, st.UpsertQueueItem(ctx, &domain.QueueItem{
		EntityType: domain.EntityTask, EntityID: "t1",
		IssueType: domain.IssueOverdue, Priority: 1,
	}, buildTime))

	b := NewBuilder(st, domain.ModeOpsHead, nil)
	doc, err := b.Build(ctx, 2, reliableReport(), nil, buildTime)
	require.NoError(t, err)

	// Archived clients and inactive projects stay out of the snapshot.
	require.Len(t, doc.Clients.Clients, 1)
	assert.Equal(t, "c1", doc.Clients.Clients[0].ID)
	require.Len(t, doc.Delivery.Projects, 1)
	assert.Equal(t, "p1", doc.Delivery.Projects[0].ID)

	assert.InDelta(t, 1800, doc.Cash.OutstandingTotal, 1e-9)
	assert.InDelta(t, 1800, doc.Cash.ARAging[string(domain.Aging31to60)], 1e-9)
	assert.Equal(t, "EUR", doc.Cash.Currency)

	require.Len(t, doc.Capacity.Lanes, 1)
	assert.Equal(t, 1, doc.Inbox.Open)
	assert.Equal(t, map[int]int{1: 1}, doc.Inbox.ByPriority)
}

func TestBuildIssueDeltas(t *testing.T) {
	st := newBuilderStore(t)
	ctx := context.Background()
	b := NewBuilder(st, domain.ModeOpsHead, nil)

	// One issue existed before the previous snapshot and gets resolved
	// after it; another appears after it.
	before := buildTime.AddDate(0, 0, -2)
	require.NoError(t, st.UpsertQueueItem(ctx, &domain.QueueItem{
		EntityType: domain.EntityTask, EntityID: "t-old",
		IssueType: domain.IssueBlocked, Priority: 2,
	}, before))

	prev, err := b.Build(ctx, 1, reliableReport(), nil, buildTime.AddDate(0, 0, -1))
	require.NoError(t, err)

	items, err := st.ListQueueItems(ctx, store.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, st.ResolveQueueItem(ctx, items[0].ID, "operator", "accepted", buildTime.Add(-time.Hour)))
	require.NoError(t, st.UpsertQueueItem(ctx, &domain.QueueItem{
		EntityType: domain.EntityTask, EntityID: "t-new",
		IssueType: domain.IssueOverdue, Priority: 1,
	}, buildTime.Add(-30*time.Minute)))

	doc, err := b.Build(ctx, 2, reliableReport(), prev, buildTime)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Deltas.NewIssues)
	assert.Equal(t, 1, doc.Deltas.ResolvedIssues)
}

func TestBuildMovesSection(t *testing.T) {
	st := newBuilderStore(t)
	ctx := context.Background()

	expires := buildTime.AddDate(0, 0, 7)
	_, err := st.ProposeAction(ctx, &domain.PendingAction{
		ID: "a1", MoveType: domain.MoveCollectionCall, Domain: domain.DomainCash,
		EntityType: domain.EntityClient, EntityID: "c1",
		Title: "Call Acme about INV-1", IdempotencyKey: "collection_call:c1:31-60",
		Status: domain.ActionPending, Risk: domain.RiskMedium, Approval: domain.ApprovalHuman,
		ProposedAt: buildTime, ExpiresAt: &expires,
	}, buildTime)
	require.NoError(t, err)

	b := NewBuilder(st, domain.ModeOpsHead, nil)
	doc, err := b.Build(ctx, 1, reliableReport(), nil, buildTime)
	require.NoError(t, err)

	require.Len(t, doc.Moves, 1)
	assert.Equal(t, domain.MoveCollectionCall, doc.Moves[0].MoveType)
	assert.Equal(t, "c1", doc.Moves[0].EntityID)
	assert.Greater(t, doc.Moves[0].Score, 0.0)
	assert.NotEmpty(t, doc.Moves[0].Horizon)
}

func proposeMove(t *testing.T, st *store.Store, id string, mt domain.MoveType, d domain.Domain, key string) {
	t.Helper()
	_, err := st.ProposeAction(context.Background(), &domain.PendingAction{
		ID: id, MoveType: mt, Domain: d,
		EntityType: domain.EntityClient, EntityID: "c1",
		Title: id, IdempotencyKey: key,
		Status: domain.ActionPending, Risk: domain.RiskMedium, Approval: domain.ApprovalHuman,
		ProposedAt: buildTime,
	}, buildTime)
	require.NoError(t, err)
}

func TestBuildMovesRankedByMode(t *testing.T) {
	st := newBuilderStore(t)
	ctx := context.Background()

	proposeMove(t, st, "a-cash", domain.MoveCollectionCall, domain.DomainCash, "collection_call:c1:31-60")
	proposeMove(t, st, "a-delivery", domain.MoveEscalateBlocker, domain.DomainDelivery, "escalate_blocker:t1")

	moveIDs := func(mode domain.Mode) []string {
		doc, err := NewBuilder(st, mode, nil).Build(ctx, 1, reliableReport(), nil, buildTime)
		require.NoError(t, err)
		var ids []string
		for _, m := range doc.Moves {
			ids = append(ids, m.ID)
		}
		return ids
	}

	// ops_head weighs delivery over cash; co_founder the reverse. The
	// same two proposals come back in opposite orders.
	assert.Equal(t, []string{"a-delivery", "a-cash"}, moveIDs(domain.ModeOpsHead))
	assert.Equal(t, []string{"a-cash", "a-delivery"}, moveIDs(domain.ModeCoFounder))

	doc, err := NewBuilder(st, domain.ModeOpsHead, nil).Build(ctx, 1, reliableReport(), nil, buildTime)
	require.NoError(t, err)
	require.Len(t, doc.Moves, 2)
	assert.Greater(t, doc.Moves[0].Score, doc.Moves[1].Score)
}

func TestBuildMovesTruncated(t *testing.T) {
	st := newBuilderStore(t)
	ctx := context.Background()

	for i := 0; i < maxMoves+2; i++ {
		id := string(rune('a' + i))
		proposeMove(t, st, "act-"+id, domain.MoveFollowUpEmail, domain.DomainComms, "follow_up_email:"+id)
	}

	b := NewBuilder(st, domain.ModeOpsHead, nil)
	doc, err := b.Build(ctx, 1, reliableReport(), nil, buildTime)
	require.NoError(t, err)
	assert.Len(t, doc.Moves, maxMoves)
}
