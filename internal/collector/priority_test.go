package collector

import (
	"reflect"
	"testing"
	"time"
)

func TestTaskPriority(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	day := func(offset int) *time.Time {
		d := now.AddDate(0, 0, offset)
		return &d
	}

	tests := []struct {
		name     string
		due      *time.Time
		hasNotes bool
		want     int
	}{
		{"no due date", nil, false, 50},
		{"no due date with notes", nil, true, 55},
		{"overdue", day(-1), false, 90},
		{"overdue with notes", day(-1), true, 95},
		{"due today", day(0), false, 85},
		{"due tomorrow", day(1), false, 75},
		{"due in three days", day(3), false, 65},
		{"due this week", day(5), false, 55},
		{"due far out", day(10), false, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TaskPriority(tt.due, tt.hasNotes, now); got != tt.want {
				t.Errorf("TaskPriority() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrepNotes(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		location    string
		wantMinutes int
		wantNotes   []string
	}{
		{"plain event", "Team sync", "", 15, []string{}},
		{"pitch doubles prep", "Client pitch", "", 30, []string{"Review materials"}},
		{"one on one", "Weekly 1:1 with Sam", "", 15, []string{"Check notes from last meeting"}},
		{"virtual call", "Project call", "https://zoom.us/j/123", 15, []string{"Join link ready"}},
		{"physical meeting adds travel", "Board meeting", "12 Main St", 30,
			[]string{"Join link ready", "Travel to location"}},
		{"interview on site", "Interview with candidate", "Office 4B", 45,
			[]string{"Review materials", "Travel to location"}},
		{"named virtual location", "Standup meeting", "Zoom", 15, []string{"Join link ready"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minutes, notes := PrepNotes(tt.title, tt.location)
			if minutes != tt.wantMinutes {
				t.Errorf("minutes = %d, want %d", minutes, tt.wantMinutes)
			}
			if !reflect.DeepEqual(notes, tt.wantNotes) {
				t.Errorf("notes = %v, want %v", notes, tt.wantNotes)
			}
		})
	}
}
