// Package fsrs computes the next review state of a phrase from a rating,
// using a stability/difficulty forgetting model.
package fsrs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/at-ishikawa/phrasebook/internal/phrase"
)

// Rating is the learner's self-assessment of a review.
type Rating int

const (
	Again Rating = iota + 1
	Hard
	Good
	Easy
)

// Valid reports whether r is one of Again, Hard, Good or Easy.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	}
	return "rating(" + strconv.Itoa(int(r)) + ")"
}

// ParseRating accepts either the rating name or its number.
func ParseRating(s string) (Rating, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r := Again; r <= Easy; r++ {
		if s == r.String() || s == strconv.Itoa(int(r)) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown rating %q: use again/hard/good/easy or 1-4", s)
}

// DefaultWeights are the model parameters. Only w[4], w[8], w[9] and w[10] are used.
var DefaultWeights = [17]float64{
	0.4, 0.6, 2.4, 5.8, 4.93, 0.94, 0.86, 0.01, 1.49, 0.14, 0.94, 2.18, 0.05, 0.34, 1.26, 0.29, 2.61,
}

const (
	DefaultTargetRetention = 0.9

	MinStability     = 0.1
	MaxStability     = 36500
	initialStability = 1

	difficultyStep = 0.1
	lapseFactor    = 0.2
	hardPenalty    = 0.8
	easyBonus      = 1.3
)

// Scheduler rates phrases against a clock.
type Scheduler struct {
	weights         [17]float64
	targetRetention float64
	now             func() time.Time
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithWeights(weights [17]float64) Option {
	return func(s *Scheduler) {
		s.weights = weights
	}
}

func WithTargetRetention(retention float64) Option {
	return func(s *Scheduler) {
		s.targetRetention = retention
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		weights:         DefaultWeights,
		targetRetention: DefaultTargetRetention,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Review returns the next version of p after it was rated at the scheduler's current time.
func (s *Scheduler) Review(p phrase.Phrase, rating Rating) phrase.Phrase {
	return s.ReviewAt(p, rating, s.now())
}

// ReviewAt is Review with an explicit review time.
// It panics on an invalid rating; callers validate user input with ParseRating.
func (s *Scheduler) ReviewAt(p phrase.Phrase, rating Rating, now time.Time) phrase.Phrase {
	if !rating.Valid() {
		panic(fmt.Sprintf("fsrs: invalid rating %d", int(rating)))
	}

	next := p.Clone()
	previous := p.State()

	elapsedDays := 0
	stability := float64(initialStability)
	if p.Memory != nil {
		elapsedDays = wholeDays(p.Memory.LastReview, now)
		stability = p.Memory.Stability
	}

	difficulty := nextDifficulty(p.Difficulty, rating)
	stability = s.nextStability(stability, difficulty, elapsedDays, rating)
	scheduledDays := s.NextInterval(stability)

	next.Difficulty = difficulty
	next.Memory = &phrase.Memory{
		State:         nextState(previous, rating),
		Stability:     stability,
		ElapsedDays:   elapsedDays,
		ScheduledDays: scheduledDays,
		Due:           now.AddDate(0, 0, scheduledDays),
		LastReview:    now,
	}
	next.UpdatedAt = now
	if rating == Again {
		next.Lapses++
	} else {
		next.Reps++
	}
	return next
}

// Retrievability is the probability of recall after elapsedDays on the power-law forgetting curve.
func (s *Scheduler) Retrievability(elapsedDays int, stability float64) float64 {
	return 1 / (1 + float64(elapsedDays)/(s.weights[4]*stability))
}

// NextInterval inverts the forgetting curve at the target retention. It is at least one day.
func (s *Scheduler) NextInterval(stability float64) int {
	interval := s.weights[4] * stability * (1/s.targetRetention - 1)
	days := int(math.Round(interval))
	if days < 1 {
		return 1
	}
	return days
}

func (s *Scheduler) nextStability(stability, difficulty float64, elapsedDays int, rating Rating) float64 {
	if rating == Again {
		return math.Max(MinStability, stability*lapseFactor*(1+difficultyStep*difficulty))
	}

	w := s.weights
	retrievability := s.Retrievability(elapsedDays, stability)
	penalty := 1.0
	if rating == Hard {
		penalty = hardPenalty
	}
	bonus := 1.0
	if rating == Easy {
		bonus = easyBonus
	}
	growth := math.Exp(w[8]) *
		(11 - 10*difficulty) *
		math.Pow(stability, -w[9]) *
		(math.Exp(w[10]*(1-retrievability)) - 1) *
		penalty * bonus
	return clamp(stability*(1+growth), MinStability, MaxStability)
}

func nextDifficulty(difficulty float64, rating Rating) float64 {
	return clamp(difficulty-float64(rating-Good)*difficultyStep, 0, 1)
}

func nextState(previous phrase.State, rating Rating) phrase.State {
	if rating == Again {
		if previous == phrase.StateNew {
			return phrase.StateLearning
		}
		return phrase.StateRelearning
	}
	switch previous {
	case phrase.StateNew:
		return phrase.StateLearning
	case phrase.StateLearning, phrase.StateRelearning:
		if rating >= Good {
			return phrase.StateReview
		}
		return previous
	}
	return phrase.StateReview
}

func wholeDays(from, to time.Time) int {
	days := int(math.Floor(to.Sub(from).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
