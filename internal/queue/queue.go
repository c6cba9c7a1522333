// Package queue runs the per-cycle issue detectors and maintains the
// resolution queue: the deduplicated list of things a human should look
// at. Detection is deterministic: the set of issues is a function of
// the store plus the gate report, with no ordering dependence.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// Config tunes the detectors.
type Config struct {
	StaleDays  int // no task activity beyond this raises stale
	SnoozeDays int // snooze horizon applied by operator actions
}

// DefaultConfig returns the standard detection horizons.
func DefaultConfig() Config {
	return Config{StaleDays: 14, SnoozeDays: 7}
}

// Engine detects issues and applies operator resolutions.
type Engine struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
}

// NewEngine builds a queue engine.
func NewEngine(st *store.Store, cfg Config, logger *zap.Logger) *Engine {
	if cfg.StaleDays <= 0 {
		cfg.StaleDays = 14
	}
	if cfg.SnoozeDays <= 0 {
		cfg.SnoozeDays = 7
	}
	return &Engine{store: st, cfg: cfg, logger: logging.OrNop(logger).Named("queue")}
}

// detectorIssueTypes are the issue types the detectors own. Items of
// these types auto-resolve when their condition clears; operator-created
// issues are never touched by the sweep.
var detectorIssueTypes = []domain.IssueType{
	domain.IssueMissingProject,
	domain.IssueMissingClient,
	domain.IssueOverdue,
	domain.IssueBlocked,
	domain.IssueStale,
	domain.IssueUnlinkedComm,
	domain.IssueInvoiceMissingClient,
	domain.IssueInvoiceMissingDue,
	domain.IssueGateFailure,
}

// Detect runs the full battery of detectors, upserting issues that fire
// and auto-resolving owned issues that no longer do.
func (e *Engine) Detect(ctx context.Context, report *gates.Report, today time.Time) error {
	sweepMark := today.Add(-time.Millisecond)

	if err := e.detectTaskIssues(ctx, today); err != nil {
		return fmt.Errorf("task detectors: %w", err)
	}
	if err := e.detectCommIssues(ctx, today); err != nil {
		return fmt.Errorf("comm detectors: %w", err)
	}
	if err := e.detectInvoiceIssues(ctx, today); err != nil {
		return fmt.Errorf("invoice detectors: %w", err)
	}
	if err := e.detectGateFailures(ctx, report, today); err != nil {
		return fmt.Errorf("gate detectors: %w", err)
	}

	resolved, err := e.store.AutoResolveMissing(ctx, detectorIssueTypes, sweepMark, today)
	if err != nil {
		return fmt.Errorf("auto-resolve sweep: %w", err)
	}
	if resolved > 0 {
		e.logger.Info("issues auto-resolved", zap.Int("count", resolved))
	}
	return nil
}

func (e *Engine) upsert(ctx context.Context, entityType domain.EntityType, entityID string, issue domain.IssueType, priority int, context map[string]any, today time.Time) error {
	var ctxJSON string
	if len(context) > 0 {
		data, err := json.Marshal(context)
		if err != nil {
			return fmt.Errorf("marshal issue context: %w", err)
		}
		ctxJSON = string(data)
	}
	return e.store.UpsertQueueItem(ctx, &domain.QueueItem{
		EntityType: entityType,
		EntityID:   entityID,
		IssueType:  issue,
		Priority:   priority,
		Context:    ctxJSON,
	}, today)
}

func (e *Engine) detectTaskIssues(ctx context.Context, today time.Time) error {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}
	staleCutoff := today.AddDate(0, 0, -e.cfg.StaleDays)
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		detail := map[string]any{"title": t.Title, "priority": t.Priority}

		if t.ProjectLinkStatus != domain.LinkLinked {
			detail["project_link_status"] = string(t.ProjectLinkStatus)
			if err := e.upsert(ctx, domain.EntityTask, t.ID, domain.IssueMissingProject, 2, detail, today); err != nil {
				return err
			}
		}
		if t.ClientLinkStatus == domain.LinkUnlinked {
			if err := e.upsert(ctx, domain.EntityTask, t.ID, domain.IssueMissingClient, 2, detail, today); err != nil {
				return err
			}
		}
		if t.Overdue(today) {
			overdueDetail := map[string]any{"title": t.Title, "due_date": t.DueDate.Format(time.RFC3339)}
			if err := e.upsert(ctx, domain.EntityTask, t.ID, domain.IssueOverdue, 1, overdueDetail, today); err != nil {
				return err
			}
		}
		if t.Status == domain.TaskBlocked {
			blockedDetail := map[string]any{"title": t.Title}
			if t.BlockedSince != nil {
				blockedDetail["blocked_since"] = t.BlockedSince.Format(time.RFC3339)
			}
			if err := e.upsert(ctx, domain.EntityTask, t.ID, domain.IssueBlocked, 2, blockedDetail, today); err != nil {
				return err
			}
		}
		activity := t.LastActivityAt
		if activity == nil {
			activity = &t.CreatedAt
		}
		if activity.Before(staleCutoff) {
			staleDetail := map[string]any{"title": t.Title, "last_activity": activity.Format(time.RFC3339)}
			if err := e.upsert(ctx, domain.EntityTask, t.ID, domain.IssueStale, 4, staleDetail, today); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) detectCommIssues(ctx context.Context, today time.Time) error {
	comms, err := e.store.ListCommunications(ctx, store.CommFilter{LinkStatus: domain.LinkUnlinked})
	if err != nil {
		return err
	}
	for _, c := range comms {
		detail := map[string]any{"subject": c.Subject, "sender": c.Sender}
		if err := e.upsert(ctx, domain.EntityCommunication, c.ID, domain.IssueUnlinkedComm, 3, detail, today); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) detectInvoiceIssues(ctx context.Context, today time.Time) error {
	invoices, err := e.store.ListInvoices(ctx, store.InvoiceFilter{Unpaid: true})
	if err != nil {
		return err
	}
	for _, inv := range invoices {
		detail := map[string]any{"number": inv.Number, "amount": inv.Amount, "currency": inv.Currency}
		if inv.ClientID == "" {
			if err := e.upsert(ctx, domain.EntityInvoice, inv.ID, domain.IssueInvoiceMissingClient, 1, detail, today); err != nil {
				return err
			}
		}
		if inv.DueDate == nil {
			if err := e.upsert(ctx, domain.EntityInvoice, inv.ID, domain.IssueInvoiceMissingDue, 2, detail, today); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) detectGateFailures(ctx context.Context, report *gates.Report, today time.Time) error {
	if report == nil {
		return nil
	}
	for _, name := range gates.GateNames() {
		res, ok := report.Gates[name]
		if !ok || res.Pass {
			continue
		}
		detail := map[string]any{"message": res.Message}
		if res.Value != nil {
			detail["value"] = *res.Value
		}
		if err := e.upsert(ctx, domain.EntityGate, name, domain.IssueGateFailure, 2, detail, today); err != nil {
			return err
		}
	}
	return nil
}

// Operator actions, reached from the HTTP API and the TUI.

// Accept resolves an item as handled by the operator.
func (e *Engine) Accept(ctx context.Context, id int64, by string, now time.Time) error {
	if by == "" {
		by = "operator"
	}
	return e.store.ResolveQueueItem(ctx, id, by, "accepted", now)
}

// Snooze hides an item from the inbox for the configured horizon.
func (e *Engine) Snooze(ctx context.Context, id int64, now time.Time) error {
	return e.store.SnoozeQueueItem(ctx, id, now.AddDate(0, 0, e.cfg.SnoozeDays), now)
}

// Dismiss resolves an item as not-actionable.
func (e *Engine) Dismiss(ctx context.Context, id int64, by string, now time.Time) error {
	if by == "" {
		by = "operator"
	}
	return e.store.ResolveQueueItem(ctx, id, by, "dismissed", now)
}
