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

// asanaProject is the wire shape of one tracker project.
type asanaProject struct {
	GID      string `json:"gid"`
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
	DueOn    string `json:"due_on"` // date, optional
}

// asanaTask is the wire shape of one tracker task.
type asanaTask struct {
	GID          string   `json:"gid"`
	Name         string   `json:"name"`
	Notes        string   `json:"notes"`
	Completed    bool     `json:"completed"`
	DueOn        string   `json:"due_on"` // date, optional
	ProjectGID   string   `json:"project_gid"`
	AssigneeGID  string   `json:"assignee_gid"`
	AssigneeName string   `json:"assignee_name"`
	Tags         []string `json:"tags"`
	EstimateMin  int      `json:"estimate_minutes"`
	ModifiedAt   string   `json:"modified_at"` // RFC3339, optional
}

type asanaProjectPage struct {
	Projects []asanaProject `json:"projects"`
}

type asanaTaskPage struct {
	Tasks []asanaTask `json:"tasks"`
}

// AsanaCollector syncs the project tracker: projects first, then tasks,
// carrying gid maps between the two fetches so tasks land on the right
// internal project and assignee.
type AsanaCollector struct {
	store    *store.Store
	fetcher  *Fetcher
	interval time.Duration
	logger   *zap.Logger
}

// NewAsana builds the tracker collector.
func NewAsana(st *store.Store, fetcher *Fetcher, interval time.Duration, logger *zap.Logger) *AsanaCollector {
	return &AsanaCollector{
		store:    st,
		fetcher:  fetcher,
		interval: interval,
		logger:   logging.OrNop(logger).Named("collector.asana"),
	}
}

func (c *AsanaCollector) Source() domain.Source   { return domain.SourceAsana }
func (c *AsanaCollector) Interval() time.Duration { return c.interval }

func (c *AsanaCollector) Collect(ctx context.Context, now time.Time) (int, error) {
	projects, err := c.collectProjects(ctx, now)
	if err != nil {
		return 0, err
	}
	tasks, err := c.collectTasks(ctx, projects, now)
	if err != nil {
		return len(projects), err
	}
	return len(projects) + tasks, nil
}

// collectProjects upserts projects and returns the gid -> internal id
// map for the task pass. Brand resolution is the normalizer's problem;
// projects land with no brand and surface through the brand gates until
// the operator seeds the linkage.
func (c *AsanaCollector) collectProjects(ctx context.Context, now time.Time) (map[string]string, error) {
	var page asanaProjectPage
	if err := c.fetcher.GetJSON(ctx, "/projects", nil, &page); err != nil {
		return nil, err
	}

	gidMap := make(map[string]string, len(page.Projects))
	for _, p := range page.Projects {
		if p.GID == "" {
			c.logger.Warn("project without gid skipped")
			continue
		}
		id := domain.SourceAsana.ExternalID(p.GID)
		status := domain.ProjectActive
		if p.Archived {
			status = domain.ProjectArchived
		}
		var deadline *time.Time
		if p.DueOn != "" {
			if t, err := time.Parse("2006-01-02", p.DueOn); err == nil {
				t = t.UTC()
				deadline = &t
			}
		}
		if err := c.store.UpsertProject(ctx, &domain.Project{
			ID:       id,
			Name:     p.Name,
			Status:   status,
			Deadline: deadline,
			Source:   domain.SourceAsana,
			SourceID: p.GID,
		}, now); err != nil {
			return nil, err
		}
		gidMap[p.GID] = id
	}
	return gidMap, nil
}

func (c *AsanaCollector) collectTasks(ctx context.Context, projects map[string]string, now time.Time) (int, error) {
	var page asanaTaskPage
	if err := c.fetcher.GetJSON(ctx, "/tasks", nil, &page); err != nil {
		return 0, err
	}

	users := make(map[string]string) // gid -> team member id
	synced, skipped := 0, 0
	for _, item := range page.Tasks {
		task, err := c.mapTask(ctx, item, projects, users, now)
		if err != nil {
			skipped++
			c.logger.Warn("task skipped", zap.String("gid", item.GID), zap.Error(err))
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

func (c *AsanaCollector) mapTask(ctx context.Context, item asanaTask, projects, users map[string]string, now time.Time) (*domain.Task, error) {
	if item.GID == "" {
		return nil, agencyerr.Newf(agencyerr.ClassParse, "asana.map", "task without gid")
	}

	var due *time.Time
	if item.DueOn != "" {
		t, err := time.Parse("2006-01-02", item.DueOn)
		if err != nil {
			return nil, agencyerr.Parse("asana.map", err)
		}
		t = t.UTC()
		due = &t
	}

	status := domain.TaskOpen
	var blockedSince *time.Time
	switch {
	case item.Completed:
		status = domain.TaskDone
	case hasTag(item.Tags, "blocked"):
		status = domain.TaskBlocked
		// Keep the original blocked-since stamp across reruns so
		// escalation horizons measure real block age and an unchanged
		// payload never mutates the row.
		if existing, err := c.store.GetTask(ctx, domain.SourceAsana.ExternalID(item.GID)); err == nil && existing.BlockedSince != nil {
			blockedSince = existing.BlockedSince
		} else {
			blockedSince = &now
		}
	case hasTag(item.Tags, "in_progress"):
		status = domain.TaskInProgress
	}

	assigneeID := ""
	if item.AssigneeGID != "" {
		id, ok := users[item.AssigneeGID]
		if !ok {
			id = "asana_user_" + item.AssigneeGID
			name := item.AssigneeName
			if name == "" {
				name = id
			}
			if err := c.store.UpsertTeamMember(ctx, &domain.TeamMember{
				ID:       id,
				Source:   domain.SourceAsana,
				SourceID: item.AssigneeGID,
				Name:     name,
			}, now); err != nil {
				return nil, err
			}
			users[item.AssigneeGID] = id
		}
		assigneeID = id
	}

	var lastActivity *time.Time
	if item.ModifiedAt != "" {
		if t, err := time.Parse(time.RFC3339, item.ModifiedAt); err == nil {
			t = t.UTC()
			lastActivity = &t
		}
	}

	return &domain.Task{
		ID:              domain.SourceAsana.ExternalID(item.GID),
		Source:          domain.SourceAsana,
		SourceID:        item.GID,
		Title:           item.Name,
		Notes:           item.Notes,
		Status:          status,
		Priority:        TaskPriority(due, item.Notes != "", now),
		DueDate:         due,
		DurationMinutes: item.EstimateMin,
		ProjectID:       projects[item.ProjectGID],
		AssigneeID:      assigneeID,
		AssigneeRaw:     item.AssigneeName,
		BlockedSince:    blockedSince,
		LastActivityAt:  lastActivity,
	}, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
