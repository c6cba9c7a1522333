package commitments

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"agencyos/internal/domain"
)

// Wednesday.
var anchor = time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestHeuristicExtractClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		kind domain.CommitmentKind
		due  *time.Time
	}{
		{"promise plain", "I'll send the revised scope over this afternoon.", domain.CommitmentPromise, nil},
		{"promise weekday", "We'll have the homepage live by Friday.", domain.CommitmentPromise, day(2026, 3, 6)},
		{"promise iso", "I will finish the migration by 2026-04-01 as discussed.", domain.CommitmentPromise, day(2026, 4, 1)},
		{"promise tomorrow", "You'll have the invoice by tomorrow.", domain.CommitmentPromise, day(2026, 3, 5)},
		{"promise eow", "We'll wrap the QA pass by eow.", domain.CommitmentPromise, day(2026, 3, 6)},
		{"promise end of week", "I'll get the deck back to you by end of week.", domain.CommitmentPromise, day(2026, 3, 6)},
		{"implicit promise", "I should have it done by 2026-05-01 at the latest.", domain.CommitmentPromise, day(2026, 5, 1)},
		{"request plain", "Can you share the brand assets?", domain.CommitmentRequest, nil},
		{"request please", "Please review the contract by 2026-03-20.", domain.CommitmentRequest, day(2026, 3, 20)},
		{"request could", "Could you confirm the meeting time works?", domain.CommitmentRequest, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HeuristicExtract(tc.body, anchor)
			if len(got) != 1 {
				t.Fatalf("got %d candidates, want 1: %+v", len(got), got)
			}
			if got[0].Kind != tc.kind {
				t.Errorf("kind = %s, want %s", got[0].Kind, tc.kind)
			}
			if !reflect.DeepEqual(got[0].DueDate, tc.due) {
				t.Errorf("due = %v, want %v", got[0].DueDate, tc.due)
			}
		})
	}
}

func TestHeuristicExtractNonCommitments(t *testing.T) {
	bodies := []string{
		"Thanks for the update, looks great so far.",
		"The weather by the coast was lovely.",
		"ok thanks",
		"",
	}
	for _, body := range bodies {
		if got := HeuristicExtract(body, anchor); len(got) != 0 {
			t.Errorf("HeuristicExtract(%q) = %+v, want none", body, got)
		}
	}
}

func TestHeuristicExtractMultipleSentences(t *testing.T) {
	body := "Can you send the signed SOW today? I'll start the build once it lands.\nThanks again for the call."
	got := HeuristicExtract(body, anchor)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].Kind != domain.CommitmentRequest || got[1].Kind != domain.CommitmentPromise {
		t.Errorf("kinds = %s, %s", got[0].Kind, got[1].Kind)
	}
}

func TestHeuristicExtractMonthDay(t *testing.T) {
	// Already past the anchor, so the date rolls to next year.
	got := HeuristicExtract("We will deliver the final cut by March 2.", anchor)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if want := day(2027, 3, 2); !reflect.DeepEqual(got[0].DueDate, want) {
		t.Errorf("due = %v, want %v", got[0].DueDate, want)
	}

	// Day-first with an ordinal suffix.
	got = HeuristicExtract("I'll have numbers ready by 5th March.", anchor)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if want := day(2026, 3, 5); !reflect.DeepEqual(got[0].DueDate, want) {
		t.Errorf("due = %v, want %v", got[0].DueDate, want)
	}
}

func TestHeuristicExtractTruncatesLongDescriptions(t *testing.T) {
	body := "I'll handle " + strings.Repeat("x", 300)
	got := HeuristicExtract(body, anchor)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if len(got[0].Description) != maxDescriptionLen {
		t.Errorf("description length = %d, want %d", len(got[0].Description), maxDescriptionLen)
	}
}

func TestHeuristicExtractDeterministic(t *testing.T) {
	body := "Can you review by Friday? I'll push the fix by tomorrow. Please loop in finance."
	first := HeuristicExtract(body, anchor)
	for i := 0; i < 5; i++ {
		if got := HeuristicExtract(body, anchor); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestParseDueDateIgnoresRelativeWithoutAnchor(t *testing.T) {
	cases := []string{"by tomorrow", "by friday", "by eow", "by end of week", "by march 5"}
	for _, c := range cases {
		if got := parseDueDate(c, time.Time{}); got != nil {
			t.Errorf("parseDueDate(%q, zero) = %v, want nil", c, got)
		}
	}
	// Absolute dates resolve without an anchor.
	if got := parseDueDate("by 2026-06-15", time.Time{}); got == nil || !got.Equal(*day(2026, 6, 15)) {
		t.Errorf("parseDueDate ISO = %v, want 2026-06-15", got)
	}
}

func TestParseDay(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"5", 5}, {"5th", 5}, {"21st", 21}, {"2nd", 2}, {"3rd", 3},
		{"31", 31}, {"32", 0}, {"0", 0}, {"abc", 0}, {"", 0}, {"123", 0},
	}
	for _, tc := range cases {
		if got := parseDay(tc.in); got != tc.want {
			t.Errorf("parseDay(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
