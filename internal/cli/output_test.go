package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/phrasebook/internal/phrase"
	"github.com/at-ishikawa/phrasebook/internal/retention"
)

func listingFixture() []phrase.Phrase {
	fresh := phrase.New("thank you", "ありがとう", testNow)
	fresh.ID = "p1"
	fresh.Tags = []string{"greeting"}

	reviewed := phrase.New("good morning", "おはよう", testNow)
	reviewed.ID = "p2"
	reviewed.Reps = 2
	reviewed.Memory = &phrase.Memory{
		State:      phrase.StateReview,
		Stability:  3,
		Due:        testNow.AddDate(0, 0, 3),
		LastReview: testNow,
	}

	deleted := phrase.SoftDelete(phrase.New("bye", "さようなら", testNow), testNow)
	deleted.ID = "p3"
	return []phrase.Phrase{fresh, reviewed, deleted}
}

func TestWritePhrases(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WritePhrases(&buf, listingFixture(), FormatTable))
		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.Len(t, lines, 4)
		assert.Contains(t, string(lines[0]), "SENTENCE")
		assert.Contains(t, string(lines[1]), "new")
		assert.Contains(t, string(lines[2]), "2025-06-04")
		assert.Contains(t, string(lines[3]), "deleted")
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WritePhrases(&buf, listingFixture()[:2], FormatYAML))

		var got []PhraseView
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, []string{"greeting"}, got[0].Tags)
		assert.Nil(t, got[0].Due)
		assert.Equal(t, "review", got[1].State)
		require.NotNil(t, got[1].Due)
		assert.True(t, testNow.AddDate(0, 0, 3).Equal(*got[1].Due))
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WritePhrases(&buf, listingFixture()[:1], FormatJSON))
		assert.Contains(t, buf.String(), `"sentence": "ありがとう"`)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, WritePhrases(&bytes.Buffer{}, nil, Format("csv")))
	})
}

func TestWriteForecast(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteForecast(&buf, []int{2, 0, 1}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	out := buf.String()
	assert.Contains(t, out, "2025-06-01  2    ##")
	assert.Contains(t, out, "2025-06-03  1    #")
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	stats := retention.Stats{TotalReviews: 10, TotalLapses: 2, RetentionRate: 0.8}
	byState := map[phrase.State]int{phrase.StateNew: 3, phrase.StateReview: 4}
	require.NoError(t, WriteStats(&buf, stats, byState))
	assert.Contains(t, buf.String(), "Phrases:      7")
	assert.Contains(t, buf.String(), "Retention:    80.0%")
	assert.Contains(t, buf.String(), "Relearning:   0")
}
