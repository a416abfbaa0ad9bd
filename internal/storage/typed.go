package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/at-ishikawa/phrasebook/internal/phrase"
	"github.com/at-ishikawa/phrasebook/internal/quiz"
)

func (o *Orchestrator) Phrases() ([]phrase.Phrase, error) {
	phrases, err := phrase.DecodeList(o.Value(KeyPhrases))
	if err != nil {
		return nil, fmt.Errorf("phrase.DecodeList() > %w", err)
	}
	return phrases, nil
}

func (o *Orchestrator) SavePhrases(ctx context.Context, phrases []phrase.Phrase) error {
	data, err := phrase.EncodeList(phrases)
	if err != nil {
		return fmt.Errorf("phrase.EncodeList() > %w", err)
	}
	return o.Save(ctx, KeyPhrases, data)
}

// UpdatePhrases saves fn applied to the current phrase list. See Update.
func (o *Orchestrator) UpdatePhrases(ctx context.Context, fn func([]phrase.Phrase) ([]phrase.Phrase, error)) error {
	return o.Update(ctx, KeyPhrases, func(current json.RawMessage) (json.RawMessage, error) {
		phrases, err := phrase.DecodeList(current)
		if err != nil {
			return nil, fmt.Errorf("phrase.DecodeList() > %w", err)
		}
		next, err := fn(phrases)
		if err != nil {
			return nil, err
		}
		data, err := phrase.EncodeList(next)
		if err != nil {
			return nil, fmt.Errorf("phrase.EncodeList() > %w", err)
		}
		return data, nil
	})
}

// IDs returns the id list stored under key, e.g. KeyCompletedIDs.
func (o *Orchestrator) IDs(key string) ([]string, error) {
	var ids []string
	if err := decode(o.Value(key), &ids); err != nil {
		return nil, fmt.Errorf("decode(%s) > %w", key, err)
	}
	return ids, nil
}

func (o *Orchestrator) SaveIDs(ctx context.Context, key string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s) > %w", key, err)
	}
	return o.Save(ctx, key, data)
}

func (o *Orchestrator) UpdateIDs(ctx context.Context, key string, fn func([]string) []string) error {
	return o.Update(ctx, key, func(current json.RawMessage) (json.RawMessage, error) {
		var ids []string
		if err := decode(current, &ids); err != nil {
			return nil, fmt.Errorf("decode(%s) > %w", key, err)
		}
		ids = fn(ids)
		if ids == nil {
			ids = []string{}
		}
		data, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("json.Marshal(%s) > %w", key, err)
		}
		return data, nil
	})
}

func (o *Orchestrator) QuizStats() (map[string]quiz.Stat, error) {
	stats := map[string]quiz.Stat{}
	if err := decode(o.Value(KeyQuizStats), &stats); err != nil {
		return nil, fmt.Errorf("decode(%s) > %w", KeyQuizStats, err)
	}
	if stats == nil {
		stats = map[string]quiz.Stat{}
	}
	return stats, nil
}

func (o *Orchestrator) SaveQuizStats(ctx context.Context, stats map[string]quiz.Stat) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s) > %w", KeyQuizStats, err)
	}
	return o.Save(ctx, KeyQuizStats, data)
}

func (o *Orchestrator) UpdateQuizStats(ctx context.Context, fn func(map[string]quiz.Stat) map[string]quiz.Stat) error {
	return o.Update(ctx, KeyQuizStats, func(current json.RawMessage) (json.RawMessage, error) {
		stats := map[string]quiz.Stat{}
		if err := decode(current, &stats); err != nil {
			return nil, fmt.Errorf("decode(%s) > %w", KeyQuizStats, err)
		}
		if stats == nil {
			stats = map[string]quiz.Stat{}
		}
		data, err := json.Marshal(fn(stats))
		if err != nil {
			return nil, fmt.Errorf("json.Marshal(%s) > %w", KeyQuizStats, err)
		}
		return data, nil
	})
}
