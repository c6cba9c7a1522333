package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/agencyerr"
	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// gtaskItem is the wire shape of one Google Tasks record as delivered
// by the API bridge.
type gtaskItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Notes  string `json:"notes"`
	Status string `json:"status"` // needsAction | completed
	Due    string `json:"due"`    // RFC3339, optional
}

type gtaskPage struct {
	Items []gtaskItem `json:"items"`
}

// GTasksCollector syncs the personal task list.
type GTasksCollector struct {
	store    *store.Store
	fetcher  *Fetcher
	interval time.Duration
	logger   *zap.Logger
}

// NewGTasks builds the Google Tasks collector.
func NewGTasks(st *store.Store, fetcher *Fetcher, interval time.Duration, logger *zap.Logger) *GTasksCollector {
	return &GTasksCollector{
		store:    st,
		fetcher:  fetcher,
		interval: interval,
		logger:   logging.OrNop(logger).Named("collector.gtasks"),
	}
}

func (c *GTasksCollector) Source() domain.Source   { return domain.SourceGTasks }
func (c *GTasksCollector) Interval() time.Duration { return c.interval }

// Collect fetches one page of tasks and upserts them. Unparseable items
// are skipped and counted, never aborting the batch.
func (c *GTasksCollector) Collect(ctx context.Context, now time.Time) (int, error) {
	var page gtaskPage
	if err := c.fetcher.GetJSON(ctx, "/tasks", nil, &page); err != nil {
		return 0, err
	}

	synced, skipped := 0, 0
	for _, item := range page.Items {
		task, err := c.mapTask(item, now)
		if err != nil {
			skipped++
			c.logger.Warn("task skipped", zap.String("source_id", item.ID), zap.Error(err))
			continue
		}
		if err := c.store.UpsertTask(ctx, task, now); err != nil {
			return synced, err
		}
		synced++
	}
	if skipped > 0 {
		c.logger.Info("unparseable tasks skipped", zap.Int("count", skipped))
	}
	return synced, nil
}

func (c *GTasksCollector) mapTask(item gtaskItem, now time.Time) (*domain.Task, error) {
	if item.ID == "" {
		return nil, agencyerr.Newf(agencyerr.ClassParse, "gtasks.map", "item without id")
	}
	var due *time.Time
	if item.Due != "" {
		t, err := time.Parse(time.RFC3339, item.Due)
		if err != nil {
			return nil, agencyerr.Parse("gtasks.map", err)
		}
		t = t.UTC()
		due = &t
	}

	status := domain.TaskOpen
	if item.Status == "completed" {
		status = domain.TaskDone
	}

	return &domain.Task{
		ID:       domain.SourceGTasks.ExternalID(item.ID),
		Source:   domain.SourceGTasks,
		SourceID: item.ID,
		Title:    item.Title,
		Notes:    item.Notes,
		Status:   status,
		Priority: TaskPriority(due, item.Notes != "", now),
		DueDate:  due,
	}, nil
}

// TaskPriority computes the integer sort key for a task at collection
// time. Base 50; overdue work gets the full 40-point urgency bonus,
// otherwise the bonus steps down with distance to the due date; tasks
// with notes get a small nudge. Clamped to 0..100.
func TaskPriority(due *time.Time, hasNotes bool, now time.Time) int {
	p := 50
	if due != nil {
		daysUntil := int(due.Truncate(24*time.Hour).Sub(now.UTC().Truncate(24*time.Hour)).Hours() / 24)
		switch {
		case daysUntil < 0:
			p += 40
		case daysUntil == 0:
			p += 35
		case daysUntil == 1:
			p += 25
		case daysUntil <= 3:
			p += 15
		case daysUntil <= 7:
			p += 5
		}
	}
	if hasNotes {
		p += 5
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}
