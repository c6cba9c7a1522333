package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyos/internal/domain"
	"agencyos/internal/queue"
	"agencyos/internal/server"
	"agencyos/internal/snapshot"
	"agencyos/internal/store"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	srv    *server.Server
	store  *store.Store
	writer *snapshot.Writer
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "agency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	w := snapshot.NewWriter(filepath.Join(dir, "snapshots"), 0, nil)
	srv := server.New(server.Options{
		IntelligenceToken: token,
		Store:             st,
		Queue:             queue.NewEngine(st, queue.DefaultConfig(), nil),
		Writer:            w,
		Version:           "test",
	})
	return &fixture{srv: srv, store: st, writer: w}
}

func (f *fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedQueueItem(t *testing.T, st *store.Store) int64 {
	t.Helper()
	require.NoError(t, st.UpsertQueueItem(context.Background(), &domain.QueueItem{
		EntityType: domain.EntityTask, EntityID: "t1",
		IssueType: domain.IssueBlocked, Priority: 2, Context: "waiting on legal",
	}, now))
	items, err := st.ListQueueItems(context.Background(), store.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0].ID
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])

	// A failed latest cycle degrades the health status.
	ctx := context.Background()
	id, err := f.store.StartCycle(ctx, 1, now)
	require.NoError(t, err)
	require.NoError(t, f.store.FinishCycle(ctx, id, false, "collect", "gmail: 503", "", now.Add(time.Second)))

	rec = f.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestInboxList(t *testing.T) {
	f := newFixture(t, "")
	seedQueueItem(t, f.store)

	rec := f.do(http.MethodGet, "/api/v2/inbox", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])

	rec = f.do(http.MethodGet, "/api/v2/inbox?entity_type=invoice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["count"])
}

func TestInboxAction(t *testing.T) {
	f := newFixture(t, "")
	id := seedQueueItem(t, f.store)

	rec := f.do(http.MethodPost, "/api/v2/inbox/not-a-number/action", `{"action":"accept"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v2/inbox/999/action", `{"action":"accept"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v2/inbox/1/action", `{"action":"shred"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v2/inbox/1/action", `{"action":"accept","by":"pat"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	it, err := f.store.GetQueueItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "pat", it.ResolvedBy)

	// Acting twice conflicts.
	rec = f.do(http.MethodPost, "/api/v2/inbox/1/action", `{"action":"dismiss"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClientEndpoints(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.store.UpsertClient(ctx, &domain.Client{
		ID: "c1", Name: "Acme", Status: domain.ClientActive, Tier: domain.TierA,
	}, now))

	rec := f.do(http.MethodGet, "/api/v2/clients", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = f.do(http.MethodGet, "/api/v2/clients/c1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	client := body["client"].(map[string]any)
	assert.Equal(t, "Acme", client["name"])

	rec = f.do(http.MethodGet, "/api/v2/clients/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMoveDecision(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	expires := now.AddDate(0, 0, 7)
	action := &domain.PendingAction{
		ID: "a1", MoveType: domain.MoveCollectionCall, Domain: domain.DomainCash,
		Title: "Call Acme", IdempotencyKey: "collection_call:c1:61-90",
		Status: domain.ActionPending, Risk: domain.RiskMedium,
		Approval: domain.ApprovalHuman, ProposedAt: now, ExpiresAt: &expires,
	}
	_, err := f.store.ProposeAction(ctx, action, now)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/v2/moves/a1/decision", `{"decision":"maybe"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v2/moves/missing/decision", `{"decision":"approve"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v2/moves/a1/decision", `{"decision":"approve"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v2/moves/a1/decision", `{"decision":"dismiss"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIntelligenceAuth(t *testing.T) {
	f := newFixture(t, "s3cret")

	rec := f.do(http.MethodGet, "/api/v2/intelligence/moves", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v2/intelligence/moves", "",
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v2/intelligence/moves", "",
		map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["count"])

	// The inbox surface stays open; the token guards intelligence only.
	rec = f.do(http.MethodGet, "/api/v2/inbox", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIntelligenceSnapshot(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/v2/intelligence/snapshot", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.writer.Write(&snapshot.Document{GeneratedAt: now, CycleNumber: 3}))
	rec = f.do(http.MethodGet, "/api/v2/intelligence/snapshot", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["cycle_number"])

	// Cached: a newer snapshot on disk is invisible until invalidation.
	require.NoError(t, f.writer.Write(&snapshot.Document{GeneratedAt: now, CycleNumber: 4}))
	rec = f.do(http.MethodGet, "/api/v2/intelligence/snapshot", "", nil)
	assert.EqualValues(t, 3, decode(t, rec)["cycle_number"])

	f.srv.InvalidateCache(nil)
	rec = f.do(http.MethodGet, "/api/v2/intelligence/snapshot", "", nil)
	assert.EqualValues(t, 4, decode(t, rec)["cycle_number"])
}

func TestIntelligenceGates(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/v2/intelligence/gates", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.store.SaveGateReport(context.Background(), 2,
		`{"gates":{"data_integrity":{"pass":true}}}`, now))
	rec = f.do(http.MethodGet, "/api/v2/intelligence/gates", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["cycle_number"])
	require.Contains(t, body, "report")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
