package merge

import (
	"reflect"
	"slices"
	"time"

	"github.com/at-ishikawa/phrasebook/internal/quiz"
)

// Record is anything that can be merged last-write-wins.
// An empty MergeKey makes the record match only an identical value.
type Record interface {
	MergeKey() string
	LastModified() time.Time
}

// LastWriteWins merges two lists. A remote record replaces its local counterpart
// only when its LastModified is strictly newer; unmatched remote records are appended.
func LastWriteWins[T Record](local, remote []T) []T {
	result := slices.Clone(local)
	indexByKey := make(map[string]int, len(result))
	for i, r := range result {
		if key := r.MergeKey(); key != "" {
			indexByKey[key] = i
		}
	}

	for _, r := range remote {
		key := r.MergeKey()
		if key == "" {
			if !slices.ContainsFunc(result, func(l T) bool { return reflect.DeepEqual(l, r) }) {
				result = append(result, r)
			}
			continue
		}
		i, ok := indexByKey[key]
		if !ok {
			indexByKey[key] = len(result)
			result = append(result, r)
			continue
		}
		if r.LastModified().After(result[i].LastModified()) {
			result[i] = r
		}
	}
	return result
}

// IDSet unions two id lists, keeping local order first.
func IDSet(local, remote []string) []string {
	seen := make(map[string]struct{}, len(local)+len(remote))
	result := make([]string, 0, len(local)+len(remote))
	for _, list := range [][]string{local, remote} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	return result
}

// QuizStats merges per-phrase answer statistics. Counts are max-wins and the
// last answer time is the later of both.
func QuizStats(local, remote map[string]quiz.Stat) map[string]quiz.Stat {
	result := make(map[string]quiz.Stat, len(local)+len(remote))
	for id, stat := range local {
		result[id] = stat
	}
	for id, r := range remote {
		l, ok := result[id]
		if !ok {
			result[id] = r
			continue
		}
		merged := quiz.Stat{
			Correct:        max(l.Correct, r.Correct),
			Incorrect:      max(l.Incorrect, r.Incorrect),
			LastAnsweredAt: l.LastAnsweredAt,
		}
		if r.LastAnsweredAt.After(l.LastAnsweredAt) {
			merged.LastAnsweredAt = r.LastAnsweredAt
		}
		result[id] = merged
	}
	return result
}
