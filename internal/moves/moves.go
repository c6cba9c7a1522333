// Package moves proposes concrete interventions after each snapshot:
// a fixed rule table reads the store and the fresh gate report, and
// every proposal carries an idempotency key so the same situation never
// stacks duplicate actions across cycles.
package moves

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// Config holds the rule horizons and thresholds.
type Config struct {
	ARThreshold float64 // collection_call floor
	BlockedDays int     // escalate_blocker horizon
	SilenceDays int     // follow_up_email horizon
	ContactDays int     // schedule_meeting horizon
	LinkDays    int     // resolve_link horizon
	ExpiryDays  int     // pending action lifetime
}

// DefaultConfig returns the standard rule parameters.
func DefaultConfig() Config {
	return Config{
		ARThreshold: 5000,
		BlockedDays: 3,
		SilenceDays: 7,
		ContactDays: 14,
		LinkDays:    7,
		ExpiryDays:  7,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ARThreshold <= 0 {
		c.ARThreshold = def.ARThreshold
	}
	if c.BlockedDays <= 0 {
		c.BlockedDays = def.BlockedDays
	}
	if c.SilenceDays <= 0 {
		c.SilenceDays = def.SilenceDays
	}
	if c.ContactDays <= 0 {
		c.ContactDays = def.ContactDays
	}
	if c.LinkDays <= 0 {
		c.LinkDays = def.LinkDays
	}
	if c.ExpiryDays <= 0 {
		c.ExpiryDays = def.ExpiryDays
	}
	return c
}

// Engine runs the rule table.
type Engine struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
}

// NewEngine builds a moves engine. Zero config fields take defaults.
func NewEngine(st *store.Store, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:  st,
		cfg:    cfg.withDefaults(),
		logger: logging.OrNop(logger).Named("moves"),
	}
}

// Propose expires stale actions, then evaluates every rule whose domain
// is not blocked by the gate report. Returns how many proposals were
// newly created (refreshes of existing pending twins do not count).
func (e *Engine) Propose(ctx context.Context, report *gates.Report, now time.Time) (int, error) {
	expired, err := e.store.ExpireActions(ctx, now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		e.logger.Info("pending actions expired", zap.Int("count", expired))
	}

	type rule struct {
		name   domain.MoveType
		domain domain.Domain
		fn     func(context.Context, time.Time) (int, error)
	}
	rules := []rule{
		{domain.MoveCollectionCall, domain.DomainCash, e.collectionCalls},
		{domain.MoveFollowUpEmail, domain.DomainComms, e.followUps},
		{domain.MoveEscalateBlocker, domain.DomainDelivery, e.escalations},
		{domain.MoveReassignOverload, domain.DomainCapacity, e.overloads},
		{domain.MoveScheduleMeeting, domain.DomainClients, e.meetings},
		{domain.MoveResolveLink, domain.DomainDelivery, e.linkFixes},
	}

	created := 0
	for _, r := range rules {
		if report.Confidence[r.domain] == domain.ConfidenceBlocked {
			e.logger.Debug("rule suppressed, domain blocked",
				zap.String("move_type", string(r.name)), zap.String("domain", string(r.domain)))
			continue
		}
		n, err := r.fn(ctx, now)
		if err != nil {
			return created, fmt.Errorf("rule %s: %w", r.name, err)
		}
		created += n
	}
	return created, nil
}

// propose inserts one action through the idempotency gate.
func (e *Engine) propose(ctx context.Context, a *domain.PendingAction, now time.Time) (int, error) {
	a.ID = uuid.NewString()
	a.Status = domain.ActionPending
	a.Approval = domain.ApprovalHuman
	a.ProposedAt = now
	expires := now.Add(time.Duration(e.cfg.ExpiryDays) * 24 * time.Hour)
	a.ExpiresAt = &expires

	inserted, err := e.store.ProposeAction(ctx, a, now)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return 0, nil
	}
	e.logger.Info("move proposed",
		zap.String("move_type", string(a.MoveType)),
		zap.String("entity_id", a.EntityID),
		zap.String("key", a.IdempotencyKey))
	return 1, nil
}

// collectionCalls fires for clients with serious overdue receivables.
func (e *Engine) collectionCalls(ctx context.Context, now time.Time) (int, error) {
	clients, err := e.store.ListClients(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, c := range clients {
		if c.AROutstanding <= e.cfg.ARThreshold || c.ARBucket.Severity() < domain.Aging31to60.Severity() {
			continue
		}
		n, err := e.propose(ctx, &domain.PendingAction{
			IdempotencyKey: fmt.Sprintf("collection_call:%s:%s", c.ID, c.ARBucket),
			MoveType:       domain.MoveCollectionCall,
			Domain:         domain.DomainCash,
			EntityType:     domain.EntityClient,
			EntityID:       c.ID,
			Title:          fmt.Sprintf("Collection call: %s", c.Name),
			Rationale: fmt.Sprintf("%.2f outstanding with worst bucket %s, over the %.0f threshold",
				c.AROutstanding, c.ARBucket, e.cfg.ARThreshold),
			Risk: domain.RiskMedium,
		}, now)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// followUps fires for open commitments whose thread has gone quiet.
func (e *Engine) followUps(ctx context.Context, now time.Time) (int, error) {
	open, err := e.store.ListCommitments(ctx, store.CommitmentFilter{Status: domain.CommitmentOpen})
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-time.Duration(e.cfg.SilenceDays) * 24 * time.Hour)

	created := 0
	for _, c := range open {
		comm, err := e.store.GetCommunication(ctx, c.CommunicationID)
		if err != nil {
			continue
		}
		last := comm
		if comm.ThreadID != "" {
			if latest, err := e.store.LatestCommInThread(ctx, comm.ThreadID); err == nil {
				last = latest
			}
		}
		if !last.ReceivedAt.Before(cutoff) {
			continue
		}
		n, err := e.propose(ctx, &domain.PendingAction{
			IdempotencyKey: fmt.Sprintf("follow_up_email:%s", c.ID),
			MoveType:       domain.MoveFollowUpEmail,
			Domain:         domain.DomainComms,
			EntityType:     domain.EntityCommitment,
			EntityID:       c.ID,
			Title:          fmt.Sprintf("Follow up: %s", truncate(c.Description, 60)),
			Rationale: fmt.Sprintf("Open %s with no thread activity since %s",
				c.Kind, last.ReceivedAt.Format("2006-01-02")),
			Risk: domain.RiskLow,
		}, now)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// escalations fires for tasks blocked past the horizon.
func (e *Engine) escalations(ctx context.Context, now time.Time) (int, error) {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{Status: domain.TaskBlocked})
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-time.Duration(e.cfg.BlockedDays) * 24 * time.Hour)

	created := 0
	for _, t := range tasks {
		if t.BlockedSince == nil || !t.BlockedSince.Before(cutoff) {
			continue
		}
		days := int(now.Sub(*t.BlockedSince).Hours() / 24)
		n, err := e.propose(ctx, &domain.PendingAction{
			IdempotencyKey: fmt.Sprintf("escalate_blocker:%s", t.ID),
			MoveType:       domain.MoveEscalateBlocker,
			Domain:         domain.DomainDelivery,
			EntityType:     domain.EntityTask,
			EntityID:       t.ID,
			Title:          fmt.Sprintf("Escalate blocker: %s", truncate(t.Title, 60)),
			Rationale:      fmt.Sprintf("Blocked for %d days", days),
			Risk:           domain.RiskMedium,
		}, now)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// overloads fires for lanes committed past their weekly budget.
func (e *Engine) overloads(ctx context.Context, now time.Time) (int, error) {
	lanes, err := e.store.ListCapacityLanes(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, l := range lanes {
		if l.WeeklyHours <= 0 || l.CommittedHours <= l.WeeklyHours {
			continue
		}
		n, err := e.propose(ctx, &domain.PendingAction{
			IdempotencyKey: fmt.Sprintf("reassign_overload:%s", l.ID),
			MoveType:       domain.MoveReassignOverload,
			Domain:         domain.DomainCapacity,
			EntityType:     domain.EntityLane,
			EntityID:       l.ID,
			Title:          fmt.Sprintf("Reassign work: %s lane over budget", l.Name),
			Rationale: fmt.Sprintf("%.1fh committed against %.1fh weekly budget (%.0f%%)",
				l.CommittedHours, l.WeeklyHours, l.Utilization()*100),
			Risk: domain.RiskMedium,
		}, now)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// meetings fires for tier-A clients the operator has not heard from.
func (e *Engine) meetings(ctx context.Context, now time.Time) (int, error) {
	clients, err := e.store.ListClients(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-time.Duration(e.cfg.ContactDays) * 24 * time.Hour)

	created := 0
	for _, c := range clients {
		if c.Tier != domain.TierA || c.Status != domain.ClientActive {
			continue
		}
		if c.LastContactAt != nil && !c.LastContactAt.Before(cutoff) {
			continue
		}
		rationale := fmt.Sprintf("No contact in over %d days", e.cfg.ContactDays)
		if c.LastContactAt == nil {
			rationale = "No contact on record"
		}
		n, err := e.propose(ctx, &domain.PendingAction{
			IdempotencyKey: fmt.Sprintf("schedule_meeting:%s", c.ID),
			MoveType:       domain.MoveScheduleMeeting,
			Domain:         domain.DomainClients,
			EntityType:     domain.EntityClient,
			EntityID:       c.ID,
			Title:          fmt.Sprintf("Schedule check-in: %s", c.Name),
			Rationale:      rationale,
			Risk:           domain.RiskLow,
		}, now)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// linkIssueTypes are the queue issues the resolve_link rule watches.
var linkIssueTypes = []domain.IssueType{
	domain.IssueMissingProject,
	domain.IssueMissingClient,
	domain.IssueUnlinkedComm,
	domain.IssueInvoiceMissingClient,
}

// linkFixes fires for linkage issues sitting unresolved past the
// horizon.
func (e *Engine) linkFixes(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(e.cfg.LinkDays) * 24 * time.Hour)

	created := 0
	for _, issue := range linkIssueTypes {
		items, err := e.store.ListQueueItems(ctx, store.QueueFilter{IssueType: issue, Now: now})
		if err != nil {
			return created, err
		}
		for _, item := range items {
			if !item.CreatedAt.Before(cutoff) {
				continue
			}
			n, err := e.propose(ctx, &domain.PendingAction{
				IdempotencyKey: fmt.Sprintf("resolve_link:%s:%s", item.EntityType, item.EntityID),
				MoveType:       domain.MoveResolveLink,
				Domain:         domain.DomainDelivery,
				EntityType:     item.EntityType,
				EntityID:       item.EntityID,
				Title:          fmt.Sprintf("Resolve linkage: %s %s", item.EntityType, item.EntityID),
				Rationale: fmt.Sprintf("%s issue open since %s",
					item.IssueType, item.CreatedAt.Format("2006-01-02")),
				Risk: domain.RiskLow,
			}, now)
			if err != nil {
				return created, err
			}
			created += n
		}
	}
	return created, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
