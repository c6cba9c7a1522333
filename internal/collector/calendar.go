package collector

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/agencyerr"
	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// calendarItem is the wire shape of one calendar event.
type calendarItem struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Location  string   `json:"location"`
	Start     string   `json:"start"` // RFC3339
	End       string   `json:"end"`   // RFC3339, optional
	Attendees []string `json:"attendees"`
}

type calendarPage struct {
	Items []calendarItem `json:"items"`
}

// CalendarCollector syncs events in a rolling 30-days-back,
// 30-days-ahead window.
type CalendarCollector struct {
	store    *store.Store
	fetcher  *Fetcher
	interval time.Duration
	logger   *zap.Logger
}

// NewCalendar builds the calendar collector.
func NewCalendar(st *store.Store, fetcher *Fetcher, interval time.Duration, logger *zap.Logger) *CalendarCollector {
	return &CalendarCollector{
		store:    st,
		fetcher:  fetcher,
		interval: interval,
		logger:   logging.OrNop(logger).Named("collector.calendar"),
	}
}

func (c *CalendarCollector) Source() domain.Source   { return domain.SourceCalendar }
func (c *CalendarCollector) Interval() time.Duration { return c.interval }

func (c *CalendarCollector) Collect(ctx context.Context, now time.Time) (int, error) {
	query := url.Values{}
	query.Set("from", now.AddDate(0, 0, -30).UTC().Format(time.RFC3339))
	query.Set("to", now.AddDate(0, 0, 30).UTC().Format(time.RFC3339))

	var page calendarPage
	if err := c.fetcher.GetJSON(ctx, "/events", query, &page); err != nil {
		return 0, err
	}

	synced, skipped := 0, 0
	for _, item := range page.Items {
		ev, err := c.mapEvent(item)
		if err != nil {
			skipped++
			c.logger.Warn("event skipped", zap.String("source_id", item.ID), zap.Error(err))
			continue
		}
		if err := c.store.UpsertEvent(ctx, ev, now); err != nil {
			return synced, err
		}
		synced++
	}
	if skipped > 0 {
		c.logger.Info("unparseable events skipped", zap.Int("count", skipped))
	}
	return synced, nil
}

func (c *CalendarCollector) mapEvent(item calendarItem) (*domain.Event, error) {
	if item.ID == "" {
		return nil, agencyerr.Newf(agencyerr.ClassParse, "calendar.map", "event without id")
	}
	start, err := time.Parse(time.RFC3339, item.Start)
	if err != nil {
		return nil, agencyerr.Parse("calendar.map", err)
	}
	var end *time.Time
	if item.End != "" {
		t, err := time.Parse(time.RFC3339, item.End)
		if err != nil {
			return nil, agencyerr.Parse("calendar.map", err)
		}
		t = t.UTC()
		end = &t
	}

	minutes, notes := PrepNotes(item.Title, item.Location)
	return &domain.Event{
		ID:          domain.SourceCalendar.ExternalID(item.ID),
		Source:      domain.SourceCalendar,
		SourceID:    item.ID,
		Title:       item.Title,
		Location:    item.Location,
		StartsAt:    start.UTC(),
		EndsAt:      end,
		Attendees:   item.Attendees,
		PrepMinutes: minutes,
		PrepNotes:   notes,
	}, nil
}

// PrepNotes derives a prep-time estimate and checklist from an event's
// title and location. High-stakes meetings (interviews, pitches, demos)
// double the baseline; a physical location adds travel time.
func PrepNotes(title, location string) (minutes int, notes []string) {
	lower := strings.ToLower(title)
	minutes = 15
	notes = []string{}

	if containsAny(lower, "interview", "presentation", "pitch", "demo") {
		minutes = 30
		notes = append(notes, "Review materials")
	}
	if containsAny(lower, "1:1", "1-1", "one on one") {
		notes = append(notes, "Check notes from last meeting")
	}
	if containsAny(lower, "call", "meeting") {
		notes = append(notes, "Join link ready")
	}
	if location != "" && !virtualLocation(location) {
		minutes += 15
		notes = append(notes, "Travel to location")
	}
	return minutes, notes
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// virtualLocation reports whether a location string is a meeting link
// rather than a place to travel to.
func virtualLocation(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http") ||
		containsAny(l, "zoom", "meet.google", "teams.microsoft", "online", "virtual")
}
