// Package normalize derives every cross-entity field: task linkage
// through the project -> brand -> client chain, communication identity
// resolution, invoice aging, and the per-project and per-client rollups.
// It is the only writer of derived columns.
//
// The pass is deterministic for a fixed store state and a fixed "today":
// no wall-clock reads happen inside derivation code, and every store
// write is guarded so an identical derivation leaves rows untouched.
// Running the pass twice in a row changes nothing.
package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/scoring"
	"agencyos/internal/store"
)

// Extractor turns communication bodies into commitment rows. Injected so
// the normalizer never depends on the extraction backend; a nil
// extractor skips step 4.
type Extractor interface {
	ExtractPending(ctx context.Context, today time.Time) error
}

// Normalizer runs the derivation pass.
type Normalizer struct {
	store     *store.Store
	extractor Extractor
	logger    *zap.Logger
}

// New builds a normalizer. extractor may be nil.
func New(st *store.Store, extractor Extractor, logger *zap.Logger) *Normalizer {
	return &Normalizer{store: st, extractor: extractor, logger: logging.OrNop(logger).Named("normalize")}
}

// chain is the in-memory resolution index built once per pass.
type chain struct {
	clients  map[string]*domain.Client
	brands   map[string]*domain.Brand
	projects map[string]*domain.Project
}

// Run executes the full pass against the store as of today.
func (n *Normalizer) Run(ctx context.Context, today time.Time) error {
	today = today.UTC()

	ch, err := n.loadChain(ctx)
	if err != nil {
		return fmt.Errorf("load chain: %w", err)
	}

	if err := n.deriveProjectLinkage(ctx, ch, today); err != nil {
		return fmt.Errorf("project linkage: %w", err)
	}

	tasks, err := n.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}
	if err := n.deriveTaskLinkage(ctx, ch, tasks, today); err != nil {
		return fmt.Errorf("task linkage: %w", err)
	}

	if err := n.deriveCommLinkage(ctx, today); err != nil {
		return fmt.Errorf("comm linkage: %w", err)
	}

	if n.extractor != nil {
		if err := n.extractor.ExtractPending(ctx, today); err != nil {
			// Extraction is best-effort; a failing backend must not
			// block linkage and rollups.
			n.logger.Warn("commitment extraction failed", zap.Error(err))
		}
	}

	if err := n.deriveInvoiceAging(ctx, today); err != nil {
		return fmt.Errorf("invoice aging: %w", err)
	}

	if err := n.deriveProjectRollups(ctx, ch, tasks, today); err != nil {
		return fmt.Errorf("project rollups: %w", err)
	}

	if err := n.deriveLaneCommitments(ctx, tasks, today); err != nil {
		return fmt.Errorf("lane commitments: %w", err)
	}

	if err := n.deriveClientRollups(ctx, ch, today); err != nil {
		return fmt.Errorf("client rollups: %w", err)
	}

	if err := n.linkEvents(ctx, today); err != nil {
		return fmt.Errorf("event links: %w", err)
	}

	return nil
}

func (n *Normalizer) loadChain(ctx context.Context) (*chain, error) {
	ch := &chain{
		clients:  make(map[string]*domain.Client),
		brands:   make(map[string]*domain.Brand),
		projects: make(map[string]*domain.Project),
	}
	clients, err := n.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		ch.clients[c.ID] = c
	}
	brands, err := n.store.ListBrands(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range brands {
		ch.brands[b.ID] = b
	}
	projects, err := n.store.ListProjects(ctx, store.ProjectFilter{})
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		ch.projects[p.ID] = p
	}
	return ch, nil
}

// resolve walks the chain for one task and returns its derived linkage.
func (ch *chain) resolve(projectID string) (projectLink, clientLink domain.LinkStatus, brandID, clientID string) {
	if projectID == "" {
		return domain.LinkUnlinked, domain.LinkUnlinked, "", ""
	}
	p, ok := ch.projects[projectID]
	if !ok {
		// The project reference dangles; the chain is broken at its
		// first hop.
		return domain.LinkPartial, domain.LinkUnlinked, "", ""
	}
	if p.IsInternal {
		return domain.LinkLinked, domain.LinkNA, "", ""
	}
	if p.BrandID == "" {
		return domain.LinkPartial, domain.LinkUnlinked, "", ""
	}
	b, ok := ch.brands[p.BrandID]
	if !ok {
		return domain.LinkPartial, domain.LinkUnlinked, "", ""
	}
	if _, ok := ch.clients[b.ClientID]; !ok {
		return domain.LinkPartial, domain.LinkUnlinked, b.ID, ""
	}
	return domain.LinkLinked, domain.LinkLinked, b.ID, b.ClientID
}

// deriveProjectLinkage fills a project's client from its brand when no
// client is recorded yet. An existing client_id is never overwritten:
// a disagreement with the brand is the consistency gate's to report,
// not the normalizer's to erase.
func (n *Normalizer) deriveProjectLinkage(ctx context.Context, ch *chain, today time.Time) error {
	for _, p := range ch.projects {
		if p.IsInternal || p.BrandID == "" || p.ClientID != "" {
			continue
		}
		b, ok := ch.brands[p.BrandID]
		if !ok {
			continue
		}
		if _, ok := ch.clients[b.ClientID]; !ok {
			continue
		}
		if err := n.store.SetProjectLinks(ctx, p.ID, p.BrandID, b.ClientID, today); err != nil {
			return err
		}
		p.ClientID = b.ClientID
	}
	return nil
}

func (n *Normalizer) deriveTaskLinkage(ctx context.Context, ch *chain, tasks []*domain.Task, today time.Time) error {
	for _, t := range tasks {
		projectLink, clientLink, brandID, clientID := ch.resolve(t.ProjectID)
		if err := n.store.SetTaskLinkage(ctx, t.ID, projectLink, clientLink, brandID, clientID, today); err != nil {
			return err
		}
		// Keep the in-memory rows current so rollups below see the
		// derivation they were computed with.
		t.ProjectLinkStatus = projectLink
		t.ClientLinkStatus = clientLink
		t.BrandID = brandID
		t.ClientID = clientID
	}
	return nil
}

func (n *Normalizer) deriveCommLinkage(ctx context.Context, today time.Time) error {
	identities, err := n.store.IdentityMap(ctx)
	if err != nil {
		return err
	}
	comms, err := n.store.ListCommunications(ctx, store.CommFilter{})
	if err != nil {
		return err
	}
	for _, c := range comms {
		fromDomain := senderDomain(c.Sender)
		clientID := identities[store.IdentityKey(domain.IdentityEmail, senderAddress(c.Sender))]
		if clientID == "" && fromDomain != "" {
			clientID = identities[store.IdentityKey(domain.IdentityDomain, fromDomain)]
		}
		link := domain.LinkUnlinked
		if clientID != "" {
			link = domain.LinkLinked
		}
		if err := n.store.SetCommLinkage(ctx, c.ID, fromDomain, clientID, link, today); err != nil {
			return err
		}
	}
	return nil
}

// senderAddress extracts the bare lowercased address from a From header
// value like `Jane Doe <jane@acme.com>`.
func senderAddress(sender string) string {
	s := strings.TrimSpace(sender)
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		s = s[i+1:]
		if j := strings.IndexByte(s, '>'); j >= 0 {
			s = s[:j]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// senderDomain is the lowercased substring after '@', empty when the
// sender carries no parseable address.
func senderDomain(sender string) string {
	addr := senderAddress(sender)
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return ""
}

func (n *Normalizer) deriveInvoiceAging(ctx context.Context, today time.Time) error {
	invoices, err := n.store.ListInvoices(ctx, store.InvoiceFilter{Unpaid: true})
	if err != nil {
		return err
	}
	for _, inv := range invoices {
		bucket := domain.AgingCurrent
		if inv.DueDate != nil {
			bucket = domain.BucketForAge(daysBetween(*inv.DueDate, today))
		}
		if err := n.store.SetInvoiceAging(ctx, inv.ID, bucket, today); err != nil {
			return err
		}
		inv.AgingBucket = bucket
	}
	return nil
}

// daysBetween counts whole days from due to today; positive when due is
// in the past.
func daysBetween(due, today time.Time) int {
	d := today.Truncate(24 * time.Hour).Sub(due.Truncate(24 * time.Hour))
	return int(d.Hours() / 24)
}

func (n *Normalizer) deriveProjectRollups(ctx context.Context, ch *chain, tasks []*domain.Task, today time.Time) error {
	type agg struct {
		total, done, blocked int
		maxBlockedPriority   int
		remainingMinutes     int
	}
	byProject := make(map[string]*agg)
	for _, t := range tasks {
		if t.ProjectID == "" {
			continue
		}
		a := byProject[t.ProjectID]
		if a == nil {
			a = &agg{}
			byProject[t.ProjectID] = a
		}
		a.total++
		switch t.Status {
		case domain.TaskDone:
			a.done++
		case domain.TaskBlocked:
			a.blocked++
			if t.Priority > a.maxBlockedPriority {
				a.maxBlockedPriority = t.Priority
			}
			a.remainingMinutes += t.DurationMinutes
		default:
			a.remainingMinutes += t.DurationMinutes
		}
	}

	lanes, err := n.store.ListCapacityLanes(ctx)
	if err != nil {
		return err
	}
	var weeklyHours float64
	for _, l := range lanes {
		weeklyHours += l.WeeklyHours
	}

	for id, p := range ch.projects {
		a := byProject[id]
		if a == nil {
			a = &agg{}
		}
		completion := 0.0
		if a.total > 0 {
			completion = float64(a.done) / float64(a.total)
		}
		slip := scoring.SlipRisk(scoring.SlipInputs{
			DeadlinePressure: scoring.DeadlinePressure(p.Deadline, today),
			RemainingWork:    scoring.RemainingWorkRatio(a.total, a.done),
			CapacityGap:      scoring.CapacityGapRatio(float64(a.remainingMinutes)/60, weeklyHours),
			BlockingSeverity: scoring.BlockingSeverity(a.total, a.blocked, a.maxBlockedPriority),
		})
		overdue := p.Deadline != nil && p.Deadline.Before(today) && p.Status == domain.ProjectActive
		color := scoring.ProjectHealth(slip, a.blocked > 0, a.blocked > 0 && a.maxBlockedPriority >= 80, overdue)
		if err := n.store.SetProjectRollup(ctx, id, a.total, a.done, completion, slip, color, today); err != nil {
			return err
		}
		p.TasksTotal = a.total
		p.TasksDone = a.done
		p.CompletionPct = completion
		p.SlipRisk = slip
		p.HealthColor = color
	}
	return nil
}

func (n *Normalizer) deriveLaneCommitments(ctx context.Context, tasks []*domain.Task, today time.Time) error {
	lanes, err := n.store.ListCapacityLanes(ctx)
	if err != nil {
		return err
	}
	byAssignee := make(map[string]float64)
	for _, t := range tasks {
		if t.Status.Terminal() || t.AssigneeID == "" {
			continue
		}
		byAssignee[t.AssigneeID] += float64(t.DurationMinutes) / 60
	}
	for _, l := range lanes {
		if l.OwnerID == "" {
			continue
		}
		if err := n.store.SetLaneCommitted(ctx, l.ID, byAssignee[l.OwnerID], today); err != nil {
			return err
		}
	}
	return nil
}

func (n *Normalizer) deriveClientRollups(ctx context.Context, ch *chain, today time.Time) error {
	invoices, err := n.store.ListInvoices(ctx, store.InvoiceFilter{Unpaid: true})
	if err != nil {
		return err
	}
	arByClient := make(map[string]float64)
	worstByClient := make(map[string]domain.AgingBucket)
	for _, inv := range invoices {
		if inv.ClientID == "" {
			continue
		}
		arByClient[inv.ClientID] += inv.Amount
		if inv.AgingBucket.Severity() > worstByClient[inv.ClientID].Severity() {
			worstByClient[inv.ClientID] = inv.AgingBucket
		}
	}

	projects, err := n.store.ListProjects(ctx, store.ProjectFilter{})
	if err != nil {
		return err
	}
	slipByClient := make(map[string][]float64)
	for _, p := range projects {
		if p.ClientID == "" || p.Status != domain.ProjectActive {
			continue
		}
		slipByClient[p.ClientID] = append(slipByClient[p.ClientID], p.SlipRisk)
	}

	for id, c := range ch.clients {
		worst := worstByClient[id]
		if worst == "" {
			worst = domain.AgingCurrent
		}

		lastContact, err := n.lastInboundContact(ctx, id)
		if err != nil {
			return err
		}
		daysSince := -1.0
		if lastContact != nil {
			daysSince = today.Sub(*lastContact).Hours() / 24
		}

		fulfilled, broken, _, err := n.store.CommitmentCounts(ctx, id)
		if err != nil {
			return err
		}

		delivery := 1.0
		if slips := slipByClient[id]; len(slips) > 0 {
			var sum float64
			for _, s := range slips {
				sum += s
			}
			delivery = 1 - sum/float64(len(slips))
		}

		health := scoring.ClientHealth(scoring.HealthInputs{
			Delivery:       delivery,
			Finance:        scoring.FinanceScore(worst),
			Responsiveness: scoring.ResponsivenessScore(daysSince),
			Commitments:    scoring.CommitmentScore(fulfilled, broken),
			Capacity:       0.7, // neutral until lane->client attribution exists
		})
		trend := trendFor(c.HealthScore, health)
		color := scoring.ClientColor(health)

		if err := n.store.SetClientDerived(ctx, id, health, color, trend,
			arByClient[id], worst, lastContact, today); err != nil {
			return err
		}
	}
	return nil
}

// trendFor compares the fresh health score with the previous cycle's.
// Small wobble reads as steady.
func trendFor(prev, next float64) domain.Trend {
	switch {
	case next-prev >= 3:
		return domain.TrendImproving
	case prev-next >= 3:
		return domain.TrendDeclining
	default:
		return domain.TrendSteady
	}
}

func (n *Normalizer) lastInboundContact(ctx context.Context, clientID string) (*time.Time, error) {
	comms, err := n.store.ListCommunications(ctx, store.CommFilter{ClientID: clientID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(comms) == 0 {
		return nil, nil
	}
	t := comms[0].ReceivedAt
	return &t, nil
}

func (n *Normalizer) linkEvents(ctx context.Context, today time.Time) error {
	events, err := n.store.ListEvents(ctx, today.AddDate(0, 0, -30), today.AddDate(0, 0, 30))
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.TaskID != "" {
			continue
		}
		task, err := n.store.FindTaskByTitle(ctx, e.Title)
		if err != nil {
			continue // no matching task is the common case
		}
		if err := n.store.SetEventTask(ctx, e.ID, task.ID, today); err != nil {
			return err
		}
	}
	return nil
}
