package gates_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/store"
)

var now = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*gates.Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return gates.NewEngine(st, gates.DefaultThresholds(), nil), st
}

// seedBaseline gives every lane-dependent gate something to pass with.
func seedBaseline(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.UpsertCapacityLane(context.Background(), &domain.CapacityLane{
		ID: "lane-1", Name: "Design", WeeklyHours: 40,
	}, now))
}

func TestEmptyDatabaseReport(t *testing.T) {
	e, st := newEngine(t)
	seedBaseline(t, st)

	report, err := e.Evaluate(context.Background())
	require.NoError(t, err)

	// Every gate has a result and, with no data, the ratio gates pass
	// vacuously and the count gates pass with zero violations.
	for _, name := range gates.GateNames() {
		res, ok := report.Gates[name]
		require.True(t, ok, "missing gate %s", name)
		assert.True(t, res.Pass, "gate %s failed on empty db: %s", name, res.Message)
	}
	assert.Nil(t, report.Gates[gates.GateClientCoverage].Value)

	for _, d := range domain.Domains() {
		assert.Equal(t, domain.ConfidenceReliable, report.Confidence[d], string(d))
	}
}

func TestCapacityBaselineRequiresLanes(t *testing.T) {
	e, _ := newEngine(t)
	report, err := e.Evaluate(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Pass(gates.GateCapacityBaseline))
	assert.Equal(t, domain.ConfidenceBlocked, report.Confidence[domain.DomainCapacity])
	// Other domains are untouched by a capacity failure.
	assert.Equal(t, domain.ConfidenceReliable, report.Confidence[domain.DomainDelivery])
}

func TestCapacityBaselineRequiresBudgets(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertCapacityLane(ctx, &domain.CapacityLane{ID: "l1", Name: "Design", WeeklyHours: 40}, now))
	require.NoError(t, st.UpsertCapacityLane(ctx, &domain.CapacityLane{ID: "l2", Name: "Dev"}, now))

	report, err := e.Evaluate(ctx)
	require.NoError(t, err)
	res := report.Gates[gates.GateCapacityBaseline]
	assert.False(t, res.Pass)
	require.NotNil(t, res.Value)
	assert.Equal(t, 1.0, *res.Value)
}

func TestBrandGatesOnProjects(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedBaseline(t, st)

	require.NoError(t, st.UpsertClient(ctx, &domain.Client{ID: "c1", Name: "Acme", Status: domain.ClientActive}, now))
	require.NoError(t, st.UpsertBrand(ctx, &domain.Brand{ID: "b1", ClientID: "c1", Name: "Acme Retail"}, now))
	// External project with no brand and no client.
	require.NoError(t, st.UpsertProject(ctx, &domain.Project{
		ID: "p-bare", Name: "Bare", Status: domain.ProjectActive, Source: domain.SourceSeed,
	}, now))
	// Fully linked external project.
	require.NoError(t, st.UpsertProject(ctx, &domain.Project{
		ID: "p-good", Name: "Good", Status: domain.ProjectActive, Source: domain.SourceSeed,
	}, now))
	require.NoError(t, st.SetProjectLinks(ctx, "p-good", "b1", "c1", now))
	// Internal project wrongly carrying a client.
	require.NoError(t, st.UpsertProject(ctx, &domain.Project{
		ID: "p-int", Name: "Internal", Status: domain.ProjectActive, IsInternal: true, Source: domain.SourceSeed,
	}, now))
	require.NoError(t, st.SetProjectLinks(ctx, "p-int", "", "c1", now))

	report, err := e.Evaluate(ctx)
	require.NoError(t, err)

	assert.False(t, report.Pass(gates.GateProjectBrandRequired))
	assert.False(t, report.Pass(gates.GateProjectClientPopulated))
	assert.False(t, report.Pass(gates.GateInternalClientNull))
	assert.False(t, report.Pass(gates.GateDataIntegrity))
	assert.Equal(t, domain.ConfidenceBlocked, report.Confidence[domain.DomainDelivery])
}

func TestBrandConsistency(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedBaseline(t, st)

	require.NoError(t, st.UpsertClient(ctx, &domain.Client{ID: "c1", Name: "Acme", Status: domain.ClientActive}, now))
	require.NoError(t, st.UpsertClient(ctx, &domain.Client{ID: "c2", Name: "Globex", Status: domain.ClientActive}, now))
	require.NoError(t, st.UpsertBrand(ctx, &domain.Brand{ID: "b1", ClientID: "c1", Name: "Acme Retail"}, now))
	require.NoError(t, st.UpsertProject(ctx, &domain.Project{
		ID: "p1", Name: "Crossed wires", Status: domain.ProjectActive, Source: domain.SourceSeed,
	}, now))
	// Project claims brand b1 (client c1) but client c2.
	require.NoError(t, st.SetProjectLinks(ctx, "p1", "b1", "c2", now))

	report, err := e.Evaluate(ctx)
	require.NoError(t, err)
	assert.False(t, report.Pass(gates.GateProjectBrandConsistent))
	assert.Equal(t, domain.ConfidenceDegraded, report.Confidence[domain.DomainDelivery])
}

func TestClientCoverageRatio(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedBaseline(t, st)

	// 3 of 4 applicable tasks linked: 75%, under the 80% floor.
	for i, linked := range []bool{true, true, true, false} {
		id := string(rune('a' + i))
		require.NoError(t, st.UpsertTask(ctx, &domain.Task{
			ID: "t-" + id, Source: domain.SourceAsana, SourceID: id, Title: "T" + id,
			Status: domain.TaskOpen,
		}, now))
		link := domain.LinkUnlinked
		if linked {
			link = domain.LinkLinked
		}
		require.NoError(t, st.SetTaskLinkage(ctx, "t-"+id, domain.LinkUnlinked, link, "", "", now))
	}

	report, err := e.Evaluate(ctx)
	require.NoError(t, err)
	res := report.Gates[gates.GateClientCoverage]
	assert.False(t, res.Pass)
	require.NotNil(t, res.Value)
	assert.InDelta(t, 0.75, *res.Value, 1e-9)
	assert.Equal(t, domain.ConfidenceDegraded, report.Confidence[domain.DomainClients])
}

func TestFinanceGates(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedBaseline(t, st)

	due := now.AddDate(0, 0, 10)
	require.NoError(t, st.UpsertClient(ctx, &domain.Client{ID: "c1", Name: "Acme", Status: domain.ClientActive}, now))
	require.NoError(t, st.UpsertInvoice(ctx, &domain.Invoice{
		ID: "xero_1", Source: domain.SourceXero, SourceID: "1", ClientID: "c1", Number: "INV-1",
		Amount: 100, Currency: "EUR", Status: domain.InvoiceSent, DueDate: &due,
	}, now))
	require.NoError(t, st.UpsertInvoice(ctx, &domain.Invoice{
		ID: "xero_2", Source: domain.SourceXero, SourceID: "2", Number: "INV-2",
		Amount: 100, Currency: "EUR", Status: domain.InvoiceSent,
	}, now))

	report, err := e.Evaluate(ctx)
	require.NoError(t, err)

	// 1 of 2 unpaid invoices covered: under the 95% floor, so cash is
	// blocked outright.
	assert.False(t, report.Pass(gates.GateFinanceARCoverage))
	assert.False(t, report.Pass(gates.GateFinanceARClean))
	assert.Equal(t, domain.ConfidenceBlocked, report.Confidence[domain.DomainCash])
}

func TestCashBlockedByDirtyInvoice(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	seedBaseline(t, st)

	due := now.AddDate(0, 0, 10)
	require.NoError(t, st.UpsertClient(ctx, &domain.Client{ID: "c1", Name: "Acme", Status: domain.ClientActive}, now))
	for i := 0; i < 20; i++ {
		require.NoError(t, st.UpsertInvoice(ctx, &domain.Invoice{
			ID: fmt.Sprintf("xero_c%d", i), Source: domain.SourceXero, SourceID: fmt.Sprintf("c%d", i),
			ClientID: "c1", Number: fmt.Sprintf("INV-%d", i), Amount: 100, Currency: "EUR",
			Status: domain.InvoiceSent, DueDate: &due,
		}, now))
	}
	require.NoError(t, st.UpsertInvoice(ctx, &domain.Invoice{
		ID: "xero_dirty", Source: domain.SourceXero, SourceID: "dirty", Number: "INV-X",
		Amount: 100, Currency: "EUR", Status: domain.InvoiceSent,
	}, now))

	report, err := e.Evaluate(ctx)
	require.NoError(t, err)

	// 20 of 21 covered keeps coverage above its floor, so the single
	// dirty invoice is what blocks cash: ar_clean is a blocking gate,
	// coverage only a quality one.
	assert.True(t, report.Pass(gates.GateFinanceARCoverage))
	assert.False(t, report.Pass(gates.GateFinanceARClean))
	assert.Equal(t, domain.ConfidenceBlocked, report.Confidence[domain.DomainCash])
}

func TestReportJSONRoundTrip(t *testing.T) {
	e, st := newEngine(t)
	seedBaseline(t, st)

	report, err := e.Evaluate(context.Background())
	require.NoError(t, err)

	raw, err := report.JSON()
	require.NoError(t, err)

	var parsed gates.Report
	require.NoError(t, json.Unmarshal([]byte(raw), &parsed))
	assert.Equal(t, report.Confidence, parsed.Confidence)
	assert.Len(t, parsed.Gates, len(gates.GateNames()))
}

func TestUnknownGateCountsAsFailed(t *testing.T) {
	r := &gates.Report{Gates: map[string]gates.Result{"known": {Pass: true}}}
	assert.True(t, r.Pass("known"))
	assert.False(t, r.Pass("typo"))
}
