package phrase

import "time"

// DefaultTombstoneTTL is how long a soft-deleted phrase is kept so the deletion can propagate.
const DefaultTombstoneTTL = 30 * 24 * time.Hour

// SoftDelete marks the phrase as deleted. All other fields are untouched.
func SoftDelete(p Phrase, now time.Time) Phrase {
	p = p.Clone()
	p.IsDeleted = true
	deletedAt := now
	p.DeletedAt = &deletedAt
	p.UpdatedAt = now
	return p
}

// PurgeTombstones drops deleted phrases whose deletedAt is older than ttl.
// Tombstones without deletedAt are kept.
func PurgeTombstones(phrases []Phrase, ttl time.Duration, now time.Time) []Phrase {
	cutoff := now.Add(-ttl)
	result := make([]Phrase, 0, len(phrases))
	for _, p := range phrases {
		if p.IsDeleted && p.DeletedAt != nil && p.DeletedAt.Before(cutoff) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// FilterActive drops every deleted phrase.
func FilterActive(phrases []Phrase) []Phrase {
	result := make([]Phrase, 0, len(phrases))
	for _, p := range phrases {
		if p.IsDeleted {
			continue
		}
		result = append(result, p)
	}
	return result
}

// FindByID returns the index of the phrase with id, or -1.
func FindByID(phrases []Phrase, id string) int {
	for i, p := range phrases {
		if p.ID == id {
			return i
		}
	}
	return -1
}
