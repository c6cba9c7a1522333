package commitments

import (
	"strings"
	"time"

	"agencyos/internal/domain"
)

// Candidate is one commitment detected in a communication body, before
// it becomes a stored row.
type Candidate struct {
	Kind        domain.CommitmentKind
	Description string
	DueDate     *time.Time
}

// promiseMarkers open sentences where the sender commits to something.
var promiseMarkers = []string{
	"i'll ", "i will ", "we'll ", "we will ", "i can have ", "we can have ",
	"i promise ", "you'll have ", "you will have ",
}

// requestMarkers open sentences where the sender asks for something.
var requestMarkers = []string{
	"can you ", "could you ", "please ", "would you ", "we need you to ",
}

const maxDescriptionLen = 240

// HeuristicExtract scans a body for promise and request sentences. The
// received time anchors relative date expressions ("by Friday").
// Deterministic: the same body always yields the same candidates.
func HeuristicExtract(body string, received time.Time) []Candidate {
	var out []Candidate
	for _, sentence := range splitSentences(body) {
		lower := strings.ToLower(sentence)

		kind, ok := classifySentence(lower)
		if !ok {
			continue
		}
		desc := sentence
		if len(desc) > maxDescriptionLen {
			desc = desc[:maxDescriptionLen]
		}
		out = append(out, Candidate{
			Kind:        kind,
			Description: desc,
			DueDate:     parseDueDate(lower, received),
		})
	}
	return out
}

func classifySentence(lower string) (domain.CommitmentKind, bool) {
	for _, m := range promiseMarkers {
		if strings.Contains(lower, m) {
			return domain.CommitmentPromise, true
		}
	}
	// A bare "by <date>" sentence with first-person context reads as a
	// promise even without an explicit marker.
	if strings.Contains(lower, " by ") && parseDueDate(lower, time.Time{}) != nil &&
		(strings.Contains(lower, " i ") || strings.HasPrefix(lower, "i ") || strings.Contains(lower, " we ") || strings.HasPrefix(lower, "we ")) {
		return domain.CommitmentPromise, true
	}
	for _, m := range requestMarkers {
		if strings.Contains(lower, m) {
			return domain.CommitmentRequest, true
		}
	}
	return "", false
}

// splitSentences breaks a body on sentence punctuation and newlines,
// dropping fragments too short to mean anything.
func splitSentences(body string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		if len(s) >= 12 {
			out = append(out, s)
		}
	}
	for _, r := range body {
		switch r {
		case '.', '!', '?', '\n':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdayNames = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// parseDueDate finds the first "by <date>" expression in a lowercased
// sentence. Supported forms: ISO dates, "march 5", "5 march",
// "tomorrow", weekday names (next occurrence after received), and
// "end of week"/"eow" (upcoming Friday). Returns nil when nothing
// parses or received is the zero time and the expression is relative.
func parseDueDate(lower string, received time.Time) *time.Time {
	idx := strings.Index(lower, " by ")
	if idx < 0 {
		if !strings.HasPrefix(lower, "by ") {
			return nil
		}
		idx = -1
	}
	rest := lower[idx+4:]
	words := strings.Fields(rest)
	if len(words) == 0 {
		return nil
	}

	anchor := received.UTC().Truncate(24 * time.Hour)
	relative := !received.IsZero()

	// ISO date.
	if t, err := time.Parse("2006-01-02", strings.Trim(words[0], ".,;:!?")); err == nil {
		t = t.UTC()
		return &t
	}

	first := strings.Trim(words[0], ".,;:!?")
	switch first {
	case "tomorrow":
		if !relative {
			return nil
		}
		t := anchor.AddDate(0, 0, 1)
		return &t
	case "eow":
		if !relative {
			return nil
		}
		return nextWeekday(anchor, time.Friday)
	case "end":
		// "end of week" / "end of the week"
		if relative && strings.HasPrefix(rest, "end of") && strings.Contains(rest, "week") {
			return nextWeekday(anchor, time.Friday)
		}
		return nil
	}

	if wd, ok := weekdayNames[first]; ok {
		if !relative {
			return nil
		}
		return nextWeekday(anchor, wd)
	}

	// "march 5" / "5 march", year from the anchor (next year when the
	// date already passed).
	if len(words) >= 2 {
		second := strings.Trim(words[1], ".,;:!?")
		if month, ok := monthNames[first]; ok {
			if day := parseDay(second); day > 0 {
				return monthDay(anchor, month, day, relative)
			}
		}
		if day := parseDay(first); day > 0 {
			if month, ok := monthNames[second]; ok {
				return monthDay(anchor, month, day, relative)
			}
		}
	}
	return nil
}

func nextWeekday(anchor time.Time, wd time.Weekday) *time.Time {
	days := (int(wd) - int(anchor.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	t := anchor.AddDate(0, 0, days)
	return &t
}

func monthDay(anchor time.Time, month time.Month, day int, relative bool) *time.Time {
	year := anchor.Year()
	if !relative {
		return nil
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Before(anchor) {
		t = time.Date(year+1, month, day, 0, 0, 0, 0, time.UTC)
	}
	return &t
}

// parseDay reads a day number, tolerating ordinal suffixes ("5th").
func parseDay(s string) int {
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		s = strings.TrimSuffix(s, suffix)
	}
	if s == "" || len(s) > 2 {
		return 0
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	if n < 1 || n > 31 {
		return 0
	}
	return n
}
