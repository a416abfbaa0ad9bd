// Package merge reconciles local and remote versions of synchronized data.
//
// Counters that measure cumulative effort (reps, lapses) are combined max-wins so they
// never regress. Everything else describes a single point-in-time belief about a
// phrase and is taken whole from whichever side was written last.
package merge

import (
	"github.com/at-ishikawa/phrasebook/internal/phrase"
)

// Conflict flags counters that differed between the two sides.
// It is informational only and never blocks a merge.
type Conflict struct {
	Reps   bool
	Lapses bool
}

func (c Conflict) Any() bool {
	return c.Reps || c.Lapses
}

// FSRSFields merges two versions of the same phrase. The side with the strictly newer
// UpdatedAt provides content and scheduling state; ties keep local. Reps and lapses
// are the max of both sides.
func FSRSFields(local, remote phrase.Phrase) (phrase.Phrase, Conflict) {
	base := local
	if remote.UpdatedAt.After(local.UpdatedAt) {
		base = remote
	}
	merged := base.Clone()
	merged.Reps = max(local.Reps, remote.Reps)
	merged.Lapses = max(local.Lapses, remote.Lapses)

	return merged, Conflict{
		Reps:   local.Reps != remote.Reps,
		Lapses: local.Lapses != remote.Lapses,
	}
}

// PhraseLists merges two collections keyed by ID. Local order is kept, followed by
// remote-only phrases in remote order. The result holds one phrase per ID.
func PhraseLists(local, remote []phrase.Phrase) []phrase.Phrase {
	merged, _ := PhraseListsWithConflicts(local, remote)
	return merged
}

// PhraseListsWithConflicts is PhraseLists that also returns the IDs whose counters conflicted.
func PhraseListsWithConflicts(local, remote []phrase.Phrase) ([]phrase.Phrase, []string) {
	remoteByID := make(map[string]int, len(remote))
	for i, p := range remote {
		remoteByID[p.ID] = i
	}

	result := make([]phrase.Phrase, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(local)+len(remote))
	var conflicts []string
	for _, l := range local {
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}

		i, ok := remoteByID[l.ID]
		if !ok {
			result = append(result, l)
			continue
		}
		merged, conflict := FSRSFields(l, remote[i])
		if conflict.Any() {
			conflicts = append(conflicts, l.ID)
		}
		result = append(result, merged)
	}
	for _, r := range remote {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		result = append(result, r)
	}
	return result, conflicts
}

// UniquePhrases drops later phrases that share an ID or a normalized
// (sentence, meaning) pair with an earlier one. Tombstones only claim their ID,
// so re-adding a deleted phrase keeps the new copy.
func UniquePhrases(phrases []phrase.Phrase) []phrase.Phrase {
	ids := make(map[string]struct{}, len(phrases))
	contents := make(map[string]struct{}, len(phrases))
	result := make([]phrase.Phrase, 0, len(phrases))
	for _, p := range phrases {
		if _, dup := ids[p.ID]; dup {
			continue
		}
		key := p.ContentKey()
		if !p.IsDeleted {
			if _, dup := contents[key]; dup {
				continue
			}
			contents[key] = struct{}{}
		}
		ids[p.ID] = struct{}{}
		result = append(result, p)
	}
	return result
}
