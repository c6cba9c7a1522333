package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyos/internal/agencyerr"
	"agencyos/internal/domain"
	"agencyos/internal/store"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// jsonServer serves fixed JSON bodies by path; unknown paths get 404.
func jsonServer(t *testing.T, routes map[string]string) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewFetcher(srv.URL, "test-token")
}

func TestGTasksCollect(t *testing.T) {
	st := newTestStore(t)
	fetcher := jsonServer(t, map[string]string{
		"/tasks": `{"items":[
			{"id":"1","title":"Send brief","notes":"see doc","status":"needsAction","due":"2026-03-01T00:00:00Z"},
			{"id":"2","title":"Old chore","status":"completed"},
			{"title":"no id, skipped","status":"needsAction"},
			{"id":"4","title":"bad due","status":"needsAction","due":"yesterday"}
		]}`,
	})
	c := NewGTasks(st, fetcher, time.Hour, nil)

	ctx := context.Background()
	synced, err := c.Collect(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	task, err := st.GetTask(ctx, domain.SourceGTasks.ExternalID("1"))
	require.NoError(t, err)
	assert.Equal(t, "Send brief", task.Title)
	assert.Equal(t, domain.TaskOpen, task.Status)
	require.NotNil(t, task.DueDate)
	// Overdue task with notes scores the full urgency bonus.
	assert.Equal(t, 95, task.Priority)

	task, err = st.GetTask(ctx, domain.SourceGTasks.ExternalID("2"))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, task.Status)

	// Re-collection is an upsert, not a duplicate.
	synced, err = c.Collect(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	tasks, err := st.ListTasks(ctx, store.TaskFilter{Source: domain.SourceGTasks})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestCalendarCollect(t *testing.T) {
	st := newTestStore(t)
	fetcher := jsonServer(t, map[string]string{
		"/events": `{"items":[
			{"id":"e1","title":"Client pitch","location":"12 Main St","start":"2026-03-04T10:00:00Z","end":"2026-03-04T11:00:00Z","attendees":["pat@acme.example"]},
			{"id":"e2","title":"Standup call","location":"https://meet.google.com/xyz","start":"2026-03-03T09:00:00Z"},
			{"id":"e3","title":"broken","start":"not-a-time"}
		]}`,
	})
	c := NewCalendar(st, fetcher, time.Hour, nil)

	ctx := context.Background()
	synced, err := c.Collect(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	events, err := st.ListEvents(ctx, now, now.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 2)

	byID := map[string]*domain.Event{}
	for _, ev := range events {
		byID[ev.SourceID] = ev
	}
	// Pitch at a physical address: doubled prep plus travel.
	assert.Equal(t, 45, byID["e1"].PrepMinutes)
	assert.Contains(t, byID["e1"].PrepNotes, "Travel to location")
	// Virtual call stays at baseline.
	assert.Equal(t, 15, byID["e2"].PrepMinutes)
	assert.Contains(t, byID["e2"].PrepNotes, "Join link ready")
}

func TestGmailCollectBodyLadder(t *testing.T) {
	st := newTestStore(t)
	fetcher := jsonServer(t, map[string]string{
		"/threads": `{"threads":[
			{"id":"t1","from":"jane@acme.example","subject":"Kickoff","snippet":"snip1","date":"2026-03-01T12:00:00Z"},
			{"id":"t2","from":"pat@acme.example","subject":"Assets","snippet":"snip2","date":"2026-03-01T13:00:00Z"},
			{"id":"t3","from":"sam@acme.example","subject":"Invoice","snippet":"snip3","date":"2026-03-01T14:00:00Z"}
		]}`,
		"/threads/t1": `{"html":"<p>Hello from the <b>client</b></p>","plain":"ignored"}`,
		"/threads/t2": `{"plain":"plain text body"}`,
		// t3 has no body route: the fetch 404s and the snippet stands in.
	})
	c := NewGmail(st, fetcher, time.Hour, nil)

	ctx := context.Background()
	synced, err := c.Collect(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, synced)

	comm, err := st.GetCommunication(ctx, domain.SourceGmail.ExternalID("t1"))
	require.NoError(t, err)
	assert.Equal(t, domain.BodyHTMLStripped, comm.BodyMethod)
	assert.Equal(t, "Hello from the client", comm.BodyText)

	comm, err = st.GetCommunication(ctx, domain.SourceGmail.ExternalID("t2"))
	require.NoError(t, err)
	assert.Equal(t, domain.BodyPlain, comm.BodyMethod)
	assert.Equal(t, "plain text body", comm.BodyText)

	comm, err = st.GetCommunication(ctx, domain.SourceGmail.ExternalID("t3"))
	require.NoError(t, err)
	assert.Equal(t, domain.BodySnippetFallback, comm.BodyMethod)
	assert.Equal(t, "snip3", comm.BodyText)
}

func TestAsanaCollect(t *testing.T) {
	st := newTestStore(t)
	fetcher := jsonServer(t, map[string]string{
		"/projects": `{"projects":[
			{"gid":"p1","name":"Relaunch","due_on":"2026-04-01"},
			{"gid":"p2","name":"Old work","archived":true}
		]}`,
		"/tasks": `{"tasks":[
			{"gid":"t1","name":"Wireframes","project_gid":"p1","tags":["blocked"],"assignee_gid":"u1","assignee_name":"Sam"},
			{"gid":"t2","name":"Copy review","project_gid":"p1","tags":["in_progress"],"due_on":"2026-03-05"},
			{"gid":"t3","name":"Shipped","completed":true}
		]}`,
	})
	c := NewAsana(st, fetcher, time.Hour, nil)

	ctx := context.Background()
	synced, err := c.Collect(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 5, synced)

	p, err := st.GetProject(ctx, domain.SourceAsana.ExternalID("p2"))
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectArchived, p.Status)

	task, err := st.GetTask(ctx, domain.SourceAsana.ExternalID("t1"))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskBlocked, task.Status)
	assert.Equal(t, domain.SourceAsana.ExternalID("p1"), task.ProjectID)
	assert.Equal(t, "asana_user_u1", task.AssigneeID)
	require.NotNil(t, task.BlockedSince)
	assert.True(t, task.BlockedSince.Equal(now))

	members, err := st.ListTeamMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Sam", members[0].Name)

	// A rerun with the task still blocked keeps the original stamp.
	_, err = c.Collect(ctx, now.AddDate(0, 0, 2))
	require.NoError(t, err)
	task, err = st.GetTask(ctx, domain.SourceAsana.ExternalID("t1"))
	require.NoError(t, err)
	require.NotNil(t, task.BlockedSince)
	assert.True(t, task.BlockedSince.Equal(now))
}

func TestXeroCollect(t *testing.T) {
	st := newTestStore(t)
	fetcher := jsonServer(t, map[string]string{
		"/contacts": `{"contacts":[
			{"contact_id":"ct1","name":"Acme Corp","email":"Billing@Acme.Example"}
		]}`,
		"/invoices": `{"invoices":[
			{"invoice_id":"i1","contact_id":"ct1","number":"INV-1","type":"ACCREC","status":"AUTHORISED","amount_due":2400,"currency":"EUR","date":"2026-01-01","due_date":"2026-01-16"},
			{"invoice_id":"i2","contact_id":"ct1","number":"BILL-1","type":"ACCPAY","status":"AUTHORISED","amount_due":100,"currency":"EUR"},
			{"invoice_id":"i3","contact_id":"ct1","number":"INV-3","type":"ACCREC","status":"SUBMITTED","amount_due":100,"currency":"EUR"}
		]}`,
	})
	c := NewXero(st, fetcher, time.Hour, nil)

	ctx := context.Background()
	synced, err := c.Collect(ctx, now)
	require.NoError(t, err)
	// One contact plus one receivable; payables and unknown statuses skip.
	assert.Equal(t, 2, synced)

	clientID := domain.SourceXero.ExternalID("ct1")
	client, err := st.GetClient(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", client.Name)
	assert.Equal(t, "billing@acme.example", client.ContactEmail)
	assert.Equal(t, "acme.example", client.ContactDomain)

	inv, err := st.GetInvoice(ctx, domain.SourceXero.ExternalID("i1"))
	require.NoError(t, err)
	assert.Equal(t, clientID, inv.ClientID)
	assert.Equal(t, domain.InvoiceSent, inv.Status)
	// Due 45 days before the collection run.
	assert.Equal(t, domain.Aging31to60, inv.AgingBucket)
}

func TestFetcherClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			w.WriteHeader(http.StatusUnauthorized)
		case "/flaky":
			w.WriteHeader(http.StatusBadGateway)
		case "/garbage":
			w.Write([]byte("not json"))
		}
	}))
	t.Cleanup(srv.Close)
	f := NewFetcher(srv.URL, "")

	var out struct{}
	ctx := context.Background()
	assert.Equal(t, agencyerr.ClassAuth, agencyerr.Classify(f.GetJSON(ctx, "/auth", nil, &out)))
	assert.Equal(t, agencyerr.ClassTransient, agencyerr.Classify(f.GetJSON(ctx, "/flaky", nil, &out)))
	assert.Equal(t, agencyerr.ClassParse, agencyerr.Classify(f.GetJSON(ctx, "/garbage", nil, &out)))

	unconfigured := NewFetcher("", "")
	assert.Equal(t, agencyerr.ClassAuth, agencyerr.Classify(unconfigured.GetJSON(ctx, "/x", nil, &out)))
}

// fakeCollector counts runs and optionally fails.
type fakeCollector struct {
	source   domain.Source
	interval time.Duration
	runs     int
	err      error
}

func (f *fakeCollector) Source() domain.Source   { return f.source }
func (f *fakeCollector) Interval() time.Duration { return f.interval }
func (f *fakeCollector) Collect(context.Context, time.Time) (int, error) {
	f.runs++
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

func TestRunnerIntervalGating(t *testing.T) {
	st := newTestStore(t)
	fake := &fakeCollector{source: domain.SourceGTasks, interval: time.Hour}
	r := NewRunner(st, []Collector{fake}, 0, nil)

	ctx := context.Background()
	require.NoError(t, r.RunDue(ctx, now))
	assert.Equal(t, 1, fake.runs)

	state, err := st.GetSyncState(ctx, domain.SourceGTasks)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 7, state.ItemsSynced)

	// Within the interval nothing runs; past it the collector fires again.
	require.NoError(t, r.RunDue(ctx, now.Add(10*time.Minute)))
	assert.Equal(t, 1, fake.runs)
	require.NoError(t, r.RunDue(ctx, now.Add(2*time.Hour)))
	assert.Equal(t, 2, fake.runs)
}

func TestRunnerRecordsFailureWithoutFailingCycle(t *testing.T) {
	st := newTestStore(t)
	fake := &fakeCollector{
		source:   domain.SourceXero,
		interval: time.Hour,
		err:      agencyerr.Transient("xero.fetch", errors.New("connection reset")),
	}
	r := NewRunner(st, []Collector{fake}, 0, nil)

	ctx := context.Background()
	require.NoError(t, r.RunDue(ctx, now))

	state, err := st.GetSyncState(ctx, domain.SourceXero)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Contains(t, state.LastError, "transient")
	assert.Nil(t, state.LastSuccess)
}

func TestRunAllIgnoresIntervals(t *testing.T) {
	st := newTestStore(t)
	a := &fakeCollector{source: domain.SourceGTasks, interval: 24 * time.Hour}
	b := &fakeCollector{source: domain.SourceCalendar, interval: 24 * time.Hour}
	r := NewRunner(st, []Collector{a, b}, 0, nil)

	ctx := context.Background()
	require.NoError(t, r.RunDue(ctx, now))
	require.NoError(t, r.RunAll(ctx, now.Add(time.Minute)))
	assert.Equal(t, 2, a.runs)
	assert.Equal(t, 2, b.runs)
}
