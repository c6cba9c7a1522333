package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"agencyos/internal/agencyerr"
	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// Seed file shapes. Each file in the seeds directory is a JSON array;
// missing files are fine.

type seedClient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tier   string `json:"tier"`
	Status string `json:"status"`
	Email  string `json:"email"`
	Domain string `json:"domain"`
	Notes  string `json:"notes"`
}

type seedBrand struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
}

type seedProject struct {
	ID         string `json:"id"`
	BrandID    string `json:"brand_id"`
	ClientID   string `json:"client_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	IsInternal bool   `json:"is_internal"`
	Deadline   string `json:"deadline"` // 2006-01-02, optional
}

type seedMember struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Role        string  `json:"role"`
	WeeklyHours float64 `json:"weekly_hours"`
}

type seedLane struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	OwnerID     string  `json:"owner_id"`
	WeeklyHours float64 `json:"weekly_hours"`
	Kind        string  `json:"kind"` // legacy lanes.json only
}

type seedIdentity struct {
	Kind     string `json:"kind"` // email | domain
	Value    string `json:"value"`
	ClientID string `json:"client_id"`
}

// SeedsCollector reads manual seed files: the operator-maintained
// clients, brands, projects, team, capacity lanes, and identity map.
// An fsnotify watcher marks the collector due the moment a file
// changes; otherwise it re-reads on its interval.
type SeedsCollector struct {
	store    *store.Store
	dir      string
	interval time.Duration
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	dirty   atomic.Bool
}

// NewSeeds builds the seed collector and tries to start its watcher. A
// missing directory or failed watcher degrades to interval-only reads.
func NewSeeds(st *store.Store, dir string, interval time.Duration, logger *zap.Logger) *SeedsCollector {
	c := &SeedsCollector{
		store:    st,
		dir:      dir,
		interval: interval,
		logger:   logging.OrNop(logger).Named("collector.seeds"),
	}
	c.dirty.Store(true) // first run always reads

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("seed watcher unavailable", zap.Error(err))
		return c
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.logger.Warn("seed directory unavailable", zap.Error(err))
		watcher.Close()
		return c
	}
	if err := watcher.Add(dir); err != nil {
		c.logger.Warn("seed watch failed", zap.String("dir", dir), zap.Error(err))
		watcher.Close()
		return c
	}
	c.watcher = watcher
	go c.watch()
	return c
}

// watch flips the dirty flag on any seed-file event.
func (c *SeedsCollector) watch() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) == ".json" {
				c.dirty.Store(true)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("seed watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (c *SeedsCollector) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *SeedsCollector) Source() domain.Source { return domain.SourceSeed }

// Interval collapses to near-zero when a seed file changed so the next
// COLLECT phase picks it up immediately.
func (c *SeedsCollector) Interval() time.Duration {
	if c.dirty.Load() {
		return 0
	}
	return c.interval
}

func (c *SeedsCollector) Collect(ctx context.Context, now time.Time) (int, error) {
	c.dirty.Store(false)
	total := 0

	n, err := c.loadClients(ctx, now)
	if err != nil {
		return total, err
	}
	total += n
	if n, err = c.loadBrands(ctx, now); err != nil {
		return total, err
	}
	total += n
	if n, err = c.loadProjects(ctx, now); err != nil {
		return total, err
	}
	total += n
	if n, err = c.loadTeam(ctx, now); err != nil {
		return total, err
	}
	total += n
	if n, err = c.loadCapacityLanes(ctx, now); err != nil {
		return total, err
	}
	total += n
	if n, err = c.loadLegacyLanes(ctx, now); err != nil {
		return total, err
	}
	total += n
	if n, err = c.loadIdentityMap(ctx); err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// readSeedFile decodes one optional seed file into out. Missing files
// return false with no error.
func (c *SeedsCollector) readSeedFile(name string, out any) (bool, error) {
	path := filepath.Join(c.dir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, agencyerr.Transient("seeds.read "+name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, agencyerr.Parse("seeds.parse "+name, err)
	}
	return true, nil
}

func (c *SeedsCollector) loadClients(ctx context.Context, now time.Time) (int, error) {
	var seeds []seedClient
	ok, err := c.readSeedFile("clients.json", &seeds)
	if !ok || err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if s.ID == "" || s.Name == "" {
			continue
		}
		if err := c.store.UpsertClient(ctx, &domain.Client{
			ID:            s.ID,
			Name:          s.Name,
			Tier:          domain.ClientTier(s.Tier),
			Status:        domain.ClientStatus(s.Status),
			ContactEmail:  s.Email,
			ContactDomain: s.Domain,
			Notes:         s.Notes,
		}, now); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

func (c *SeedsCollector) loadBrands(ctx context.Context, now time.Time) (int, error) {
	var seeds []seedBrand
	ok, err := c.readSeedFile("brands.json", &seeds)
	if !ok || err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if s.ID == "" || s.ClientID == "" {
			continue
		}
		if err := c.store.UpsertBrand(ctx, &domain.Brand{
			ID:       s.ID,
			ClientID: s.ClientID,
			Name:     s.Name,
		}, now); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

func (c *SeedsCollector) loadProjects(ctx context.Context, now time.Time) (int, error) {
	var seeds []seedProject
	ok, err := c.readSeedFile("projects.json", &seeds)
	if !ok || err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if s.ID == "" {
			continue
		}
		var deadline *time.Time
		if s.Deadline != "" {
			if t, err := time.Parse("2006-01-02", s.Deadline); err == nil {
				t = t.UTC()
				deadline = &t
			}
		}
		status := domain.ProjectStatus(s.Status)
		if status == "" {
			status = domain.ProjectActive
		}
		project := &domain.Project{
			ID:         s.ID,
			Name:       s.Name,
			Status:     status,
			IsInternal: s.IsInternal,
			Deadline:   deadline,
			Source:     domain.SourceSeed,
		}
		if !s.IsInternal {
			project.BrandID = s.BrandID
			project.ClientID = s.ClientID
		}
		if err := c.store.UpsertProject(ctx, project, now); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

func (c *SeedsCollector) loadTeam(ctx context.Context, now time.Time) (int, error) {
	var seeds []seedMember
	ok, err := c.readSeedFile("team.json", &seeds)
	if !ok || err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if s.ID == "" {
			continue
		}
		if err := c.store.UpsertTeamMember(ctx, &domain.TeamMember{
			ID:          s.ID,
			Source:      domain.SourceSeed,
			Name:        s.Name,
			Email:       s.Email,
			Role:        s.Role,
			WeeklyHours: s.WeeklyHours,
		}, now); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

func (c *SeedsCollector) loadCapacityLanes(ctx context.Context, now time.Time) (int, error) {
	var seeds []seedLane
	ok, err := c.readSeedFile("capacity_lanes.json", &seeds)
	if !ok || err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if s.ID == "" || s.Name == "" {
			continue
		}
		if err := c.store.UpsertCapacityLane(ctx, &domain.CapacityLane{
			ID:          s.ID,
			Name:        s.Name,
			OwnerID:     s.OwnerID,
			WeeklyHours: s.WeeklyHours,
		}, now); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

// loadLegacyLanes keeps old lanes.json files loading. Nothing derives
// from these rows; capacity_lanes.json is authoritative.
func (c *SeedsCollector) loadLegacyLanes(ctx context.Context, now time.Time) (int, error) {
	var seeds []seedLane
	ok, err := c.readSeedFile("lanes.json", &seeds)
	if !ok || err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if s.ID == "" {
			continue
		}
		if err := c.store.UpsertLane(ctx, &domain.Lane{
			ID:   s.ID,
			Name: s.Name,
			Kind: s.Kind,
		}, now); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

func (c *SeedsCollector) loadIdentityMap(ctx context.Context) (int, error) {
	var seeds []seedIdentity
	ok, err := c.readSeedFile("identity_map.json", &seeds)
	if !ok || err != nil {
		return 0, err
	}
	for _, s := range seeds {
		if s.Value == "" || s.ClientID == "" {
			continue
		}
		kind := s.Kind
		if kind != domain.IdentityEmail && kind != domain.IdentityDomain {
			continue
		}
		if err := c.store.UpsertIdentity(ctx, kind, s.Value, s.ClientID); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}
