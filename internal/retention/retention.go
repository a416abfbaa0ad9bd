// Package retention answers review-queue questions over a collection of phrases.
// Deleted phrases are never counted.
package retention

import (
	"sort"
	"time"

	"github.com/at-ishikawa/phrasebook/internal/phrase"
)

// Stats summarizes review effort.
type Stats struct {
	TotalReviews  int
	TotalLapses   int
	RetentionRate float64
}

// DueCards returns phrases due at or before now, most overdue first.
// New phrases have no due date and are not included. limit <= 0 means no limit.
func DueCards(phrases []phrase.Phrase, now time.Time, limit int) []phrase.Phrase {
	var due []phrase.Phrase
	for _, p := range phrases {
		if p.IsDeleted {
			continue
		}
		d, ok := p.Due()
		if !ok || d.After(now) {
			continue
		}
		due = append(due, p)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Memory.Due.Before(due[j].Memory.Due)
	})
	return truncate(due, limit)
}

// NewCards returns never-reviewed phrases in input order.
func NewCards(phrases []phrase.Phrase, limit int) []phrase.Phrase {
	var fresh []phrase.Phrase
	for _, p := range phrases {
		if p.IsDeleted || p.State() != phrase.StateNew {
			continue
		}
		fresh = append(fresh, p)
	}
	return truncate(fresh, limit)
}

// Forecast counts phrases per calendar day starting today, in now's location.
// Index d holds phrases due d days after the start of today. Overdue and
// out-of-range phrases are ignored.
func Forecast(phrases []phrase.Phrase, days int, now time.Time) []int {
	if days < 0 {
		days = 0
	}
	forecast := make([]int, days)
	today := civilDay(now)
	for _, p := range phrases {
		if p.IsDeleted {
			continue
		}
		d, ok := p.Due()
		if !ok {
			continue
		}
		offset := daysBetween(today, civilDay(d.In(now.Location())))
		if offset < 0 || offset >= days {
			continue
		}
		forecast[offset]++
	}
	return forecast
}

// RetentionStats sums reps and lapses over the collection.
func RetentionStats(phrases []phrase.Phrase) Stats {
	var stats Stats
	for _, p := range phrases {
		if p.IsDeleted {
			continue
		}
		stats.TotalReviews += p.Reps
		stats.TotalLapses += p.Lapses
	}
	if stats.TotalReviews > 0 {
		stats.RetentionRate = float64(stats.TotalReviews-stats.TotalLapses) / float64(stats.TotalReviews)
	}
	return stats
}

// CountByState groups the collection by review state.
func CountByState(phrases []phrase.Phrase) map[phrase.State]int {
	counts := make(map[phrase.State]int)
	for _, p := range phrases {
		if p.IsDeleted {
			continue
		}
		counts[p.State()]++
	}
	return counts
}

func truncate(phrases []phrase.Phrase, limit int) []phrase.Phrase {
	if limit > 0 && len(phrases) > limit {
		return phrases[:limit]
	}
	return phrases
}

// civilDay drops the clock but keeps the calendar date of t in its own location.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
