package snapshot

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// recentThreads caps the comms section; the store has the rest.
const recentThreads = 25

// Builder assembles the snapshot document from the store and the fresh
// gate report. The operator mode weighs the move ranking.
type Builder struct {
	store  *store.Store
	mode   domain.Mode
	logger *zap.Logger
}

// NewBuilder returns a snapshot builder. Unknown modes rank as ops_head.
func NewBuilder(st *store.Store, mode domain.Mode, logger *zap.Logger) *Builder {
	if !domain.ValidMode(mode) {
		mode = domain.ModeOpsHead
	}
	return &Builder{store: st, mode: mode, logger: logging.OrNop(logger).Named("snapshot")}
}

// Build assembles a document for the given cycle. prev is the parsed
// previous snapshot (nil on first run) and drives delta computation.
func (b *Builder) Build(ctx context.Context, cycleNumber int64, report *gates.Report, prev *Document, now time.Time) (*Document, error) {
	doc := &Document{
		GeneratedAt:      now.UTC(),
		CycleNumber:      cycleNumber,
		Gates:            report.Gates,
		DomainConfidence: report.Confidence,
	}

	var err error
	if doc.Delivery, err = b.delivery(ctx, report); err != nil {
		return nil, err
	}
	if doc.Clients, err = b.clients(ctx, report); err != nil {
		return nil, err
	}
	if doc.Cash, err = b.cash(ctx, report); err != nil {
		return nil, err
	}
	if doc.Comms, err = b.comms(ctx, report); err != nil {
		return nil, err
	}
	if doc.Capacity, err = b.capacity(ctx, report); err != nil {
		return nil, err
	}
	if doc.Moves, err = b.moves(ctx, report); err != nil {
		return nil, err
	}
	if doc.Inbox, err = b.inbox(ctx, now); err != nil {
		return nil, err
	}

	doc.Deltas = computeDeltas(prev, doc)
	if prev != nil {
		newIssues, resolved, err := b.issueCounts(ctx, prev.GeneratedAt)
		if err != nil {
			return nil, err
		}
		doc.Deltas.NewIssues = newIssues
		doc.Deltas.ResolvedIssues = resolved
	}
	return doc, nil
}

func (b *Builder) delivery(ctx context.Context, report *gates.Report) (DeliverySection, error) {
	section := DeliverySection{
		Confidence: report.Confidence[domain.DomainDelivery],
		Projects:   []ProjectSummary{},
	}
	projects, err := b.store.ListProjects(ctx, store.ProjectFilter{Status: domain.ProjectActive})
	if err != nil {
		return section, err
	}
	for _, p := range projects {
		section.Projects = append(section.Projects, ProjectSummary{
			ID:            p.ID,
			Name:          p.Name,
			ClientID:      p.ClientID,
			BrandID:       p.BrandID,
			IsInternal:    p.IsInternal,
			HealthColor:   p.HealthColor,
			TasksTotal:    p.TasksTotal,
			TasksDone:     p.TasksDone,
			CompletionPct: p.CompletionPct,
			SlipRisk:      p.SlipRisk,
			Deadline:      p.Deadline,
		})
	}
	return section, nil
}

func (b *Builder) clients(ctx context.Context, report *gates.Report) (ClientsSection, error) {
	section := ClientsSection{
		Confidence: report.Confidence[domain.DomainClients],
		Clients:    []ClientSummary{},
	}
	clients, err := b.store.ListClients(ctx)
	if err != nil {
		return section, err
	}
	for _, c := range clients {
		if c.Status == domain.ClientArchived {
			continue
		}
		section.Clients = append(section.Clients, ClientSummary{
			ID:            c.ID,
			Name:          c.Name,
			Tier:          c.Tier,
			HealthScore:   c.HealthScore,
			HealthColor:   c.HealthColor,
			Trend:         c.Trend,
			AROutstanding: c.AROutstanding,
			ARBucket:      c.ARBucket,
			LastContactAt: c.LastContactAt,
		})
	}
	return section, nil
}

func (b *Builder) cash(ctx context.Context, report *gates.Report) (CashSection, error) {
	section := CashSection{
		Confidence: report.Confidence[domain.DomainCash],
		ARAging:    map[string]float64{},
		Invoices:   []InvoiceSummary{},
	}

	aging, err := b.store.ARAgingTotals(ctx)
	if err != nil {
		return section, err
	}
	for _, bucket := range []domain.AgingBucket{
		domain.AgingCurrent, domain.Aging1to30, domain.Aging31to60,
		domain.Aging61to90, domain.Aging90Plus,
	} {
		amount := aging[bucket]
		section.ARAging[string(bucket)] = amount
		section.OutstandingTotal += amount
	}

	invoices, err := b.store.ListInvoices(ctx, store.InvoiceFilter{Unpaid: true})
	if err != nil {
		return section, err
	}
	for _, inv := range invoices {
		if section.Currency == "" {
			section.Currency = inv.Currency
		}
		section.Invoices = append(section.Invoices, InvoiceSummary{
			ID:          inv.ID,
			ClientID:    inv.ClientID,
			Number:      inv.Number,
			Amount:      inv.Amount,
			Currency:    inv.Currency,
			Status:      inv.Status,
			DueDate:     inv.DueDate,
			AgingBucket: inv.AgingBucket,
		})
	}
	return section, nil
}

func (b *Builder) comms(ctx context.Context, report *gates.Report) (CommsSection, error) {
	section := CommsSection{
		Confidence: report.Confidence[domain.DomainComms],
		Threads:    []ThreadSummary{},
	}

	unlinked, err := b.store.ListCommunications(ctx, store.CommFilter{LinkStatus: domain.LinkUnlinked})
	if err != nil {
		return section, err
	}
	section.UnlinkedCount = len(unlinked)

	open, err := b.store.ListCommitments(ctx, store.CommitmentFilter{Status: domain.CommitmentOpen})
	if err != nil {
		return section, err
	}
	section.CommitmentsOpen = len(open)

	recent, err := b.store.ListCommunications(ctx, store.CommFilter{Limit: recentThreads})
	if err != nil {
		return section, err
	}
	for _, c := range recent {
		section.Threads = append(section.Threads, ThreadSummary{
			ID:         c.ID,
			ClientID:   c.ClientID,
			Sender:     c.Sender,
			Subject:    c.Subject,
			ReceivedAt: c.ReceivedAt,
		})
	}
	return section, nil
}

func (b *Builder) capacity(ctx context.Context, report *gates.Report) (CapacitySection, error) {
	section := CapacitySection{
		Confidence: report.Confidence[domain.DomainCapacity],
		Lanes:      []LaneSummary{},
	}
	lanes, err := b.store.ListCapacityLanes(ctx)
	if err != nil {
		return section, err
	}
	for _, l := range lanes {
		section.Lanes = append(section.Lanes, LaneSummary{
			ID:             l.ID,
			Name:           l.Name,
			OwnerID:        l.OwnerID,
			WeeklyHours:    l.WeeklyHours,
			CommittedHours: l.CommittedHours,
			Utilization:    l.Utilization(),
		})
	}
	return section, nil
}

// moves ranks the pending actions under the operator mode and keeps the
// top of the list. Ties break on proposal age, oldest first.
func (b *Builder) moves(ctx context.Context, report *gates.Report) ([]MoveSummary, error) {
	actions, err := b.store.ListActions(ctx, store.ActionFilter{Status: domain.ActionPending})
	if err != nil {
		return nil, err
	}
	out := make([]MoveSummary, 0, len(actions))
	for _, a := range actions {
		score, horizon := rankMove(a, report.Confidence[a.Domain], b.mode)
		if horizon == "" {
			continue
		}
		out = append(out, MoveSummary{
			ID:         a.ID,
			MoveType:   a.MoveType,
			Domain:     a.Domain,
			EntityType: a.EntityType,
			EntityID:   a.EntityID,
			Title:      a.Title,
			Rationale:  a.Rationale,
			Risk:       a.Risk,
			Approval:   a.Approval,
			Score:      score,
			Horizon:    horizon,
			ProposedAt: a.ProposedAt,
			ExpiresAt:  a.ExpiresAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProposedAt.Before(out[j].ProposedAt)
	})
	if len(out) > maxMoves {
		out = out[:maxMoves]
	}
	return out, nil
}

func (b *Builder) inbox(ctx context.Context, now time.Time) (InboxSection, error) {
	total, byPriority, err := b.store.QueueCounts(ctx, now)
	if err != nil {
		return InboxSection{}, err
	}
	return InboxSection{Open: total, ByPriority: byPriority}, nil
}

// issueCounts compares queue timestamps against the previous snapshot.
func (b *Builder) issueCounts(ctx context.Context, since time.Time) (newIssues, resolved int, err error) {
	items, err := b.store.ListQueueItems(ctx, store.QueueFilter{IncludeResolved: true, IncludeSnoozed: true})
	if err != nil {
		return 0, 0, err
	}
	for _, item := range items {
		if item.CreatedAt.After(since) {
			newIssues++
		}
		if item.ResolvedAt != nil && item.ResolvedAt.After(since) {
			resolved++
		}
	}
	return newIssues, resolved, nil
}
