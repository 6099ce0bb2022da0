package schedule

import (
	"sort"
	"time"
)

type SuggestionKind string

const (
	MoveEarlier SuggestionKind = "move_earlier"
	MoveLater   SuggestionKind = "move_later"
	Shorten     SuggestionKind = "shorten"
)

// Conflict describes one time overlap between the subject schedule and
// another event
type Conflict struct {
	OtherID        string
	OtherTitle     string
	OverlapStart   time.Time
	OverlapEnd     time.Time
	OverlapMinutes int
}

// Suggestion is a proposed time window that would resolve every detected
// conflict
type Suggestion struct {
	Kind      SuggestionKind
	StartTime time.Time
	EndTime   time.Time
}

// ConflictReport is the result of running conflict detection for one schedule
// against a candidate set
type ConflictReport struct {
	HasConflict bool
	Conflicts   []Conflict
	Suggestions []Suggestion
}

// DetectConflicts checks the subject against the candidate set. Intervals are
// half-open, so back-to-back events (A ends exactly when B starts) do not
// conflict. The candidate set is whatever the caller fetched; the subject
// itself is skipped if present.
func (s *Schedule) DetectConflicts(candidates []*Schedule) ConflictReport {
	var conflicting []*Schedule
	for _, c := range candidates {
		if c == nil || c.id == s.id {
			continue
		}
		if s.startTime.Before(c.endTime) && s.endTime.After(c.startTime) {
			conflicting = append(conflicting, c)
		}
	}

	if len(conflicting) == 0 {
		return ConflictReport{}
	}

	// Stable output order: earliest conflicting event first
	sort.Slice(conflicting, func(i, j int) bool {
		return conflicting[i].startTime.Before(conflicting[j].startTime)
	})

	report := ConflictReport{
		HasConflict: true,
		Conflicts:   make([]Conflict, 0, len(conflicting)),
	}

	earliestStart := conflicting[0].startTime
	latestEnd := conflicting[0].endTime
	for _, c := range conflicting {
		overlapStart := maxTime(s.startTime, c.startTime)
		overlapEnd := minTime(s.endTime, c.endTime)
		report.Conflicts = append(report.Conflicts, Conflict{
			OtherID:        c.id,
			OtherTitle:     c.title,
			OverlapStart:   overlapStart,
			OverlapEnd:     overlapEnd,
			OverlapMinutes: minutesBetween(overlapStart, overlapEnd),
		})

		if c.endTime.After(latestEnd) {
			latestEnd = c.endTime
		}
	}

	duration := s.endTime.Sub(s.startTime)
	report.Suggestions = append(report.Suggestions,
		Suggestion{
			Kind:      MoveEarlier,
			StartTime: earliestStart.Add(-duration),
			EndTime:   earliestStart,
		},
		Suggestion{
			Kind:      MoveLater,
			StartTime: latestEnd,
			EndTime:   latestEnd.Add(duration),
		},
	)

	// Shortening only helps when the subject already starts before the first
	// conflict, otherwise it would produce an empty interval
	if s.startTime.Before(earliestStart) {
		report.Suggestions = append(report.Suggestions, Suggestion{
			Kind:      Shorten,
			StartTime: s.startTime,
			EndTime:   earliestStart,
		})
	}

	return report
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
