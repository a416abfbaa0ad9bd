// Package quiz turns phrases into questions and grades answers into review ratings.
package quiz

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/at-ishikawa/phrasebook/internal/fsrs"
	"github.com/at-ishikawa/phrasebook/internal/phrase"
)

// Kind is the question format.
type Kind string

const (
	KindCloze          Kind = "cloze"
	KindInterpretation Kind = "interpretation"
	KindListening      Kind = "listening"
	KindReverse        Kind = "reverse"
)

const blank = "____"

// ErrNotApplicable is returned when a phrase cannot produce the requested question.
var ErrNotApplicable = errors.New("question kind not applicable to phrase")

// Question is one prompt shown to the learner.
type Question struct {
	Kind     Kind
	PhraseID string
	Prompt   string
	Hint     string
	// Choices is set for multiple-choice questions and contains Answer.
	Choices []string
	Answer  string
}

// Generator builds questions. It is deterministic for a given seed.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate dispatches on kind. pool supplies distractors for interpretation questions.
func (g *Generator) Generate(kind Kind, p phrase.Phrase, pool []phrase.Phrase) (Question, error) {
	switch kind {
	case KindCloze:
		return g.Cloze(p)
	case KindInterpretation:
		return g.Interpretation(p, pool, 4)
	case KindListening:
		return g.Listening(p)
	case KindReverse:
		return g.Reverse(p), nil
	}
	return Question{}, fmt.Errorf("unknown question kind %q", kind)
}

// Cloze blanks out one word of the sentence. Sentences written without spaces
// have their second half blanked instead.
func (g *Generator) Cloze(p phrase.Phrase) (Question, error) {
	words := strings.Fields(p.Sentence)
	var candidates []int
	for i, w := range words {
		if utf8.RuneCountInString(strings.Trim(w, ".,!?;:\"'")) >= 2 {
			candidates = append(candidates, i)
		}
	}

	var prompt, answer string
	switch {
	case len(words) > 1 && len(candidates) > 0:
		i := candidates[g.rng.IntN(len(candidates))]
		answer = strings.Trim(words[i], ".,!?;:\"'")
		blanked := append([]string(nil), words...)
		blanked[i] = strings.Replace(words[i], answer, blank, 1)
		prompt = strings.Join(blanked, " ")
	case len(words) == 1 && utf8.RuneCountInString(words[0]) >= 2:
		runes := []rune(words[0])
		half := len(runes) / 2
		answer = string(runes[half:])
		prompt = string(runes[:half]) + blank
	default:
		return Question{}, fmt.Errorf("cloze(%s) > %w", p.ID, ErrNotApplicable)
	}

	return Question{
		Kind:     KindCloze,
		PhraseID: p.ID,
		Prompt:   prompt,
		Hint:     p.Meaning,
		Answer:   answer,
	}, nil
}

// Interpretation asks for the meaning of the sentence among up to n choices.
func (g *Generator) Interpretation(p phrase.Phrase, pool []phrase.Phrase, n int) (Question, error) {
	choices := []string{p.Meaning}
	seen := map[string]struct{}{normalize(p.Meaning): {}}
	for _, i := range g.rng.Perm(len(pool)) {
		if len(choices) >= n {
			break
		}
		other := pool[i]
		if other.ID == p.ID || other.IsDeleted {
			continue
		}
		key := normalize(other.Meaning)
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		choices = append(choices, other.Meaning)
	}
	if len(choices) < 2 {
		return Question{}, fmt.Errorf("interpretation(%s): not enough distractors > %w", p.ID, ErrNotApplicable)
	}
	g.rng.Shuffle(len(choices), func(i, j int) {
		choices[i], choices[j] = choices[j], choices[i]
	})

	return Question{
		Kind:     KindInterpretation,
		PhraseID: p.ID,
		Prompt:   p.Sentence,
		Choices:  choices,
		Answer:   p.Meaning,
	}, nil
}

// Listening gives the pronunciation and asks for the sentence.
func (g *Generator) Listening(p phrase.Phrase) (Question, error) {
	if strings.TrimSpace(p.Pronunciation) == "" {
		return Question{}, fmt.Errorf("listening(%s): no pronunciation > %w", p.ID, ErrNotApplicable)
	}
	return Question{
		Kind:     KindListening,
		PhraseID: p.ID,
		Prompt:   p.Pronunciation,
		Hint:     p.Meaning,
		Answer:   p.Sentence,
	}, nil
}

// Reverse gives the meaning and asks for the sentence.
func (g *Generator) Reverse(p phrase.Phrase) Question {
	q := Question{
		Kind:     KindReverse,
		PhraseID: p.ID,
		Prompt:   p.Meaning,
		Answer:   p.Sentence,
	}
	if p.Song != nil {
		q.Hint = p.Song.Title
	}
	return q
}

// Result is a graded answer.
type Result struct {
	Correct bool
	Rating  fsrs.Rating
}

const (
	fastAnswer = 5 * time.Second
	slowAnswer = 20 * time.Second
)

// Grade compares the answer with the expected one, ignoring case, surrounding
// spaces and trailing punctuation. Correct answers are rated by response time.
func Grade(q Question, answer string, responseTime time.Duration) Result {
	if normalize(answer) != normalize(q.Answer) {
		return Result{Correct: false, Rating: fsrs.Again}
	}
	switch {
	case responseTime > 0 && responseTime <= fastAnswer:
		return Result{Correct: true, Rating: fsrs.Easy}
	case responseTime > slowAnswer:
		return Result{Correct: true, Rating: fsrs.Hard}
	}
	return Result{Correct: true, Rating: fsrs.Good}
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".,!?;:。、！？")
	return strings.Join(strings.Fields(s), " ")
}

// Stat counts answers for one phrase.
type Stat struct {
	Correct        int       `json:"correct"`
	Incorrect      int       `json:"incorrect"`
	LastAnsweredAt time.Time `json:"lastAnsweredAt"`
}

// Record adds one answer.
func (s Stat) Record(correct bool, at time.Time) Stat {
	if correct {
		s.Correct++
	} else {
		s.Incorrect++
	}
	s.LastAnsweredAt = at
	return s
}
