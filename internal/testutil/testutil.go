// Package testutil provides shared test helpers for creating config files and phrase fixtures.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/phrasebook/internal/phrase"
)

// Now is the reference time of every fixture.
var Now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// SetupTestConfig creates a config file that keeps all state under tmpDir and
// syncs nowhere. Returns the path to the generated config file.
func SetupTestConfig(t *testing.T, tmpDir string) string {
	t.Helper()

	dataDir := filepath.Join(tmpDir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	configContent := fmt.Sprintf(`storage:
  path: %s
  namespace: test
remote:
  kind: none
sync:
  debounce: 10ms
scheduler:
  probe_interval: 0s
`, filepath.Join(dataDir, "phrasebook.db"))

	cfgPath := filepath.Join(tmpDir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(configContent), 0644))
	return cfgPath
}

// SetupTestConfigWithAPIKey creates a config file with a fake OpenAI API key for tests
// that require API key validation to pass.
func SetupTestConfigWithAPIKey(t *testing.T, tmpDir string) string {
	t.Helper()
	cfgPath := SetupTestConfig(t, tmpDir)

	content, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	content = append(content, []byte("openai:\n  api_key: fake-key-for-testing\n  model: gpt-4o-mini\n")...)
	require.NoError(t, os.WriteFile(cfgPath, content, 0644))
	return cfgPath
}

// PhraseOption configures optional fields of a phrase fixture.
type PhraseOption func(*phrase.Phrase)

// WithReviews puts the phrase into the review state, due after the given number of days.
func WithReviews(reps, lapses, dueInDays int) PhraseOption {
	return func(p *phrase.Phrase) {
		p.Reps = reps
		p.Lapses = lapses
		p.Memory = &phrase.Memory{
			State:         phrase.StateReview,
			Stability:     float64(max(dueInDays, 1)),
			ScheduledDays: max(dueInDays, 0),
			Due:           Now.AddDate(0, 0, dueInDays),
			LastReview:    Now.AddDate(0, 0, -1),
		}
	}
}

func WithUpdatedAt(at time.Time) PhraseOption {
	return func(p *phrase.Phrase) {
		p.UpdatedAt = at
	}
}

func Deleted() PhraseOption {
	return func(p *phrase.Phrase) {
		*p = phrase.SoftDelete(*p, Now)
	}
}

// NewPhrase creates a phrase fixture with a fixed ID and creation time.
func NewPhrase(id, meaning, sentence string, opts ...PhraseOption) phrase.Phrase {
	p := phrase.New(meaning, sentence, Now)
	p.ID = id
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
