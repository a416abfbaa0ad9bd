package quiz

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/phrasebook/internal/fsrs"
	"github.com/at-ishikawa/phrasebook/internal/phrase"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func testPhrase(id, meaning, sentence string) phrase.Phrase {
	p := phrase.New(meaning, sentence, testNow)
	p.ID = id
	return p
}

func TestGenerator_Cloze(t *testing.T) {
	g := NewGenerator(1)

	tests := []struct {
		name     string
		sentence string
		wantErr  bool
	}{
		{name: "words", sentence: "Let it go, let it go!"},
		{name: "single word", sentence: "ありがとう"},
		{name: "single character", sentence: "a", wantErr: true},
		{name: "empty", sentence: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := g.Cloze(testPhrase("p1", "meaning", tt.sentence))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrNotApplicable))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, KindCloze, q.Kind)
			assert.Equal(t, "p1", q.PhraseID)
			assert.Contains(t, q.Prompt, blank)
			assert.NotEmpty(t, q.Answer)
		})
	}
}

func TestGenerator_Cloze_Deterministic(t *testing.T) {
	p := testPhrase("p1", "meaning", "the quick brown fox jumps over the lazy dog")
	a, err := NewGenerator(42).Cloze(p)
	require.NoError(t, err)
	b, err := NewGenerator(42).Cloze(p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerator_Interpretation(t *testing.T) {
	target := testPhrase("p1", "thank you", "ありがとう")
	deleted := phrase.SoftDelete(testPhrase("p4", "deleted meaning", "消えた"), testNow)
	pool := []phrase.Phrase{
		target,
		testPhrase("p2", "good morning", "おはよう"),
		testPhrase("p3", "Thank you", "どうも"),
		deleted,
		testPhrase("p5", "good night", "おやすみ"),
	}

	q, err := NewGenerator(7).Interpretation(target, pool, 4)
	require.NoError(t, err)
	assert.Equal(t, KindInterpretation, q.Kind)
	assert.Equal(t, "ありがとう", q.Prompt)
	assert.Equal(t, "thank you", q.Answer)
	assert.ElementsMatch(t, []string{"thank you", "good morning", "good night"}, q.Choices)

	_, err = NewGenerator(7).Interpretation(target, []phrase.Phrase{target}, 4)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestGenerator_Listening(t *testing.T) {
	p := testPhrase("p1", "thank you", "ありがとう")
	_, err := NewGenerator(1).Listening(p)
	assert.ErrorIs(t, err, ErrNotApplicable)

	p.Pronunciation = "arigatou"
	q, err := NewGenerator(1).Listening(p)
	require.NoError(t, err)
	assert.Equal(t, "arigatou", q.Prompt)
	assert.Equal(t, "ありがとう", q.Answer)
}

func TestGenerator_Generate(t *testing.T) {
	p := testPhrase("p1", "thank you", "ありがとう")
	p.Song = &phrase.SongRef{ID: "s1", Title: "Song"}

	q, err := NewGenerator(1).Generate(KindReverse, p, nil)
	require.NoError(t, err)
	assert.Equal(t, "thank you", q.Prompt)
	assert.Equal(t, "Song", q.Hint)

	_, err = NewGenerator(1).Generate(Kind("essay"), p, nil)
	assert.Error(t, err)
}

func TestGrade(t *testing.T) {
	q := Question{Answer: "Let it go."}

	tests := []struct {
		name         string
		answer       string
		responseTime time.Duration
		want         Result
	}{
		{name: "wrong", answer: "let it be", responseTime: time.Second, want: Result{Correct: false, Rating: fsrs.Again}},
		{name: "fast", answer: "let it go", responseTime: 3 * time.Second, want: Result{Correct: true, Rating: fsrs.Easy}},
		{name: "normal", answer: "  LET  it go ", responseTime: 10 * time.Second, want: Result{Correct: true, Rating: fsrs.Good}},
		{name: "slow", answer: "let it go!", responseTime: time.Minute, want: Result{Correct: true, Rating: fsrs.Hard}},
		{name: "unknown time", answer: "let it go", responseTime: 0, want: Result{Correct: true, Rating: fsrs.Good}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Grade(q, tt.answer, tt.responseTime))
		})
	}
}

func TestStat_Record(t *testing.T) {
	var s Stat
	s = s.Record(true, testNow)
	s = s.Record(false, testNow.Add(time.Hour))
	s = s.Record(true, testNow.Add(2*time.Hour))

	assert.Equal(t, Stat{Correct: 2, Incorrect: 1, LastAnsweredAt: testNow.Add(2 * time.Hour)}, s)
}
