package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/at-ishikawa/phrasebook/internal/merge"
	"github.com/at-ishikawa/phrasebook/internal/phrase"
	"github.com/at-ishikawa/phrasebook/internal/quiz"
)

// rejection is a remote record left out of a merge because it failed validation.
type rejection struct {
	id  string
	err error
}

type mergeFunc func(local, remote json.RawMessage) (json.RawMessage, []rejection, error)

var mergers = map[string]mergeFunc{
	KeyPhrases:      mergePhrases,
	KeyCompletedIDs: mergeIDs,
	KeyIncorrectIDs: mergeIDs,
	KeyQuizStats:    mergeQuizStats,
}

func mergePhrases(local, remote json.RawMessage) (json.RawMessage, []rejection, error) {
	localPhrases, err := phrase.DecodeList(local)
	if err != nil {
		return nil, nil, fmt.Errorf("phrase.DecodeList(local) > %w", err)
	}
	remotePhrases, err := phrase.DecodeList(remote)
	if err != nil {
		return nil, nil, fmt.Errorf("phrase.DecodeList(remote) > %w", err)
	}
	remotePhrases, rejected := validPhrases(remotePhrases)
	merged, conflicts := merge.PhraseListsWithConflicts(localPhrases, remotePhrases)
	if len(conflicts) > 0 {
		slog.Default().Debug("merged phrases with diverging counters", "ids", conflicts)
	}
	// Every device must keep the same survivor among duplicates.
	slices.SortStableFunc(merged, func(a, b phrase.Phrase) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	data, err := phrase.EncodeList(merge.UniquePhrases(merged))
	if err != nil {
		return nil, rejected, fmt.Errorf("phrase.EncodeList() > %w", err)
	}
	return data, rejected, nil
}

// validPhrases splits off the phrases that fail phrase.Validate.
func validPhrases(phrases []phrase.Phrase) ([]phrase.Phrase, []rejection) {
	valid := make([]phrase.Phrase, 0, len(phrases))
	var rejected []rejection
	for _, p := range phrases {
		if err := phrase.Validate(p); err != nil {
			rejected = append(rejected, rejection{id: p.ID, err: err})
			continue
		}
		valid = append(valid, p)
	}
	return valid, rejected
}

func mergeIDs(local, remote json.RawMessage) (json.RawMessage, []rejection, error) {
	var localIDs, remoteIDs []string
	if err := decode(local, &localIDs); err != nil {
		return nil, nil, err
	}
	if err := decode(remote, &remoteIDs); err != nil {
		return nil, nil, err
	}
	ids := merge.IDSet(localIDs, remoteIDs)
	slices.Sort(ids)
	data, err := json.Marshal(ids)
	return data, nil, err
}

func mergeQuizStats(local, remote json.RawMessage) (json.RawMessage, []rejection, error) {
	var localStats, remoteStats map[string]quiz.Stat
	if err := decode(local, &localStats); err != nil {
		return nil, nil, err
	}
	if err := decode(remote, &remoteStats); err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(merge.QuizStats(localStats, remoteStats))
	return data, nil, err
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json.Unmarshal() > %w", err)
	}
	return nil
}

// jsonEqual compares two JSON values structurally, so key order and
// whitespace differences introduced by a transport do not count as changes.
func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(va, vb)
}
