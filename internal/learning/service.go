// Package learning is the mutation surface for the phrase collection: adding,
// editing, deleting, reviewing and answering quiz questions.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/at-ishikawa/phrasebook/internal/fsrs"
	"github.com/at-ishikawa/phrasebook/internal/inference"
	"github.com/at-ishikawa/phrasebook/internal/phrase"
	"github.com/at-ishikawa/phrasebook/internal/quiz"
	"github.com/at-ishikawa/phrasebook/internal/retention"
	"github.com/at-ishikawa/phrasebook/internal/storage"
)

var (
	ErrNotFound  = errors.New("phrase not found")
	ErrDuplicate = errors.New("phrase already exists")

	// errNothingToSave aborts an update that would leave the collection unchanged.
	errNothingToSave = errors.New("nothing to save")
)

// Store is the persisted state the service works on. storage.Orchestrator implements it.
// Every mutation is a read-modify-write done by the Update methods, so changes
// merged from other devices in the meantime are kept.
type Store interface {
	Phrases() ([]phrase.Phrase, error)
	UpdatePhrases(ctx context.Context, fn func([]phrase.Phrase) ([]phrase.Phrase, error)) error
	UpdateIDs(ctx context.Context, key string, fn func([]string) []string) error
	UpdateQuizStats(ctx context.Context, fn func(map[string]quiz.Stat) map[string]quiz.Stat) error
}

var _ Store = (*storage.Orchestrator)(nil)

// Input holds the editable content of a phrase.
type Input struct {
	Meaning       string
	Sentence      string
	Pronunciation string
	Memo          string
	Tags          []string
	Song          *phrase.SongRef
	PackageID     string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithScheduler(scheduler *fsrs.Scheduler) Option {
	return func(s *Service) { s.scheduler = scheduler }
}

func WithGenerator(client inference.Client) Option {
	return func(s *Service) { s.generator = client }
}

func WithTombstoneTTL(ttl time.Duration) Option {
	return func(s *Service) { s.tombstoneTTL = ttl }
}

type Service struct {
	store        Store
	scheduler    *fsrs.Scheduler
	generator    inference.Client
	now          func() time.Time
	tombstoneTTL time.Duration
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		now:          time.Now,
		tombstoneTTL: phrase.DefaultTombstoneTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = fsrs.New(fsrs.WithClock(s.now))
	}
	return s
}

// List returns the collection. Deleted phrases are included only when includeDeleted is set.
func (s *Service) List(includeDeleted bool) ([]phrase.Phrase, error) {
	phrases, err := s.store.Phrases()
	if err != nil {
		return nil, fmt.Errorf("store.Phrases() > %w", err)
	}
	if includeDeleted {
		return phrases, nil
	}
	return phrase.FilterActive(phrases), nil
}

// Get returns an active phrase.
func (s *Service) Get(id string) (phrase.Phrase, error) {
	phrases, err := s.List(false)
	if err != nil {
		return phrase.Phrase{}, err
	}
	i := phrase.FindByID(phrases, id)
	if i < 0 {
		return phrase.Phrase{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return phrases[i], nil
}

func (s *Service) Add(ctx context.Context, input Input) (phrase.Phrase, error) {
	added, err := s.addAll(ctx, []Input{input})
	if err != nil {
		return phrase.Phrase{}, err
	}
	if len(added) == 0 {
		return phrase.Phrase{}, fmt.Errorf("%w: %q", ErrDuplicate, input.Sentence)
	}
	return added[0], nil
}

// addAll appends the inputs as new phrases, skipping any whose content already exists.
func (s *Service) addAll(ctx context.Context, inputs []Input) ([]phrase.Phrase, error) {
	now := s.now()
	candidates := make([]phrase.Phrase, 0, len(inputs))
	for _, input := range inputs {
		p := apply(phrase.New(input.Meaning, input.Sentence, now), input)
		if err := phrase.Validate(p); err != nil {
			return nil, err
		}
		candidates = append(candidates, p)
	}

	var added []phrase.Phrase
	err := s.store.UpdatePhrases(ctx, func(phrases []phrase.Phrase) ([]phrase.Phrase, error) {
		existing := make(map[string]struct{}, len(phrases))
		for _, p := range phrases {
			if !p.IsDeleted {
				existing[p.ContentKey()] = struct{}{}
			}
		}
		for _, p := range candidates {
			if _, dup := existing[p.ContentKey()]; dup {
				slog.Default().Debug("skipping duplicate phrase", "sentence", p.Sentence)
				continue
			}
			existing[p.ContentKey()] = struct{}{}
			added = append(added, p)
		}
		if len(added) == 0 {
			return nil, errNothingToSave
		}
		return append(phrases, added...), nil
	})
	if errors.Is(err, errNothingToSave) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store.UpdatePhrases() > %w", err)
	}
	return added, nil
}

// Edit replaces the content of a phrase. Review progress is kept.
func (s *Service) Edit(ctx context.Context, id string, input Input) (phrase.Phrase, error) {
	return s.update(ctx, id, func(p phrase.Phrase) (phrase.Phrase, error) {
		p = apply(p.Touch(s.now()), input)
		if err := phrase.Validate(p); err != nil {
			return p, err
		}
		return p, nil
	})
}

// Delete turns the phrase into a tombstone.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.update(ctx, id, func(p phrase.Phrase) (phrase.Phrase, error) {
		return phrase.SoftDelete(p, s.now()), nil
	})
	return err
}

// Review schedules the phrase with rating.
func (s *Service) Review(ctx context.Context, id string, rating fsrs.Rating) (phrase.Phrase, error) {
	if !rating.Valid() {
		return phrase.Phrase{}, fmt.Errorf("invalid rating %d", int(rating))
	}
	return s.update(ctx, id, func(p phrase.Phrase) (phrase.Phrase, error) {
		return s.scheduler.ReviewAt(p, rating, s.now()), nil
	})
}

// Answer grades an answer to q, reviews the phrase with the resulting rating
// and records the outcome in the quiz statistics and the completed or incorrect list.
func (s *Service) Answer(ctx context.Context, q quiz.Question, answer string, responseTime time.Duration) (quiz.Result, phrase.Phrase, error) {
	result := quiz.Grade(q, answer, responseTime)
	reviewed, err := s.Review(ctx, q.PhraseID, result.Rating)
	if err != nil {
		return result, phrase.Phrase{}, err
	}

	now := s.now()
	if err := s.store.UpdateQuizStats(ctx, func(stats map[string]quiz.Stat) map[string]quiz.Stat {
		stats[q.PhraseID] = stats[q.PhraseID].Record(result.Correct, now)
		return stats
	}); err != nil {
		return result, reviewed, fmt.Errorf("store.UpdateQuizStats() > %w", err)
	}

	key := storage.KeyCompletedIDs
	if !result.Correct {
		key = storage.KeyIncorrectIDs
	}
	if err := s.store.UpdateIDs(ctx, key, func(ids []string) []string {
		if slices.Contains(ids, q.PhraseID) {
			return ids
		}
		return append(ids, q.PhraseID)
	}); err != nil {
		return result, reviewed, fmt.Errorf("store.UpdateIDs(%s) > %w", key, err)
	}
	return result, reviewed, nil
}

func (s *Service) Due(limit int) ([]phrase.Phrase, error) {
	phrases, err := s.List(false)
	if err != nil {
		return nil, err
	}
	return retention.DueCards(phrases, s.now(), limit), nil
}

func (s *Service) New(limit int) ([]phrase.Phrase, error) {
	phrases, err := s.List(false)
	if err != nil {
		return nil, err
	}
	return retention.NewCards(phrases, limit), nil
}

func (s *Service) Forecast(days int) ([]int, error) {
	phrases, err := s.List(false)
	if err != nil {
		return nil, err
	}
	return retention.Forecast(phrases, days, s.now()), nil
}

func (s *Service) Stats() (retention.Stats, map[phrase.State]int, error) {
	phrases, err := s.List(false)
	if err != nil {
		return retention.Stats{}, nil, err
	}
	return retention.RetentionStats(phrases), retention.CountByState(phrases), nil
}

// PurgeTombstones removes tombstones older than the configured TTL and returns how many were removed.
func (s *Service) PurgeTombstones(ctx context.Context) (int, error) {
	purged := 0
	err := s.store.UpdatePhrases(ctx, func(phrases []phrase.Phrase) ([]phrase.Phrase, error) {
		kept := phrase.PurgeTombstones(phrases, s.tombstoneTTL, s.now())
		purged = len(phrases) - len(kept)
		if purged == 0 {
			return nil, errNothingToSave
		}
		return kept, nil
	})
	if errors.Is(err, errNothingToSave) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store.UpdatePhrases() > %w", err)
	}
	slog.Default().Info("purged tombstones", "count", purged)
	return purged, nil
}

// Generate asks the content generator for new phrases and adds those not already in the collection.
func (s *Service) Generate(ctx context.Context, req inference.GeneratePhrasesRequest) ([]phrase.Phrase, error) {
	if s.generator == nil {
		return nil, errors.New("no content generator configured")
	}
	phrases, err := s.List(false)
	if err != nil {
		return nil, err
	}
	for _, p := range phrases {
		req.Avoid = append(req.Avoid, p.Sentence)
	}

	response, err := s.generator.GeneratePhrases(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generator.GeneratePhrases() > %w", err)
	}
	inputs := make([]Input, 0, len(response.Phrases))
	topic := strings.ToLower(strings.TrimSpace(req.Topic))
	for _, g := range response.Phrases {
		tags := g.Tags
		if topic != "" && !slices.Contains(tags, topic) {
			tags = append(tags, topic)
		}
		inputs = append(inputs, Input{
			Meaning:       g.Meaning,
			Sentence:      g.Sentence,
			Pronunciation: g.Pronunciation,
			Memo:          g.Memo,
			Tags:          tags,
		})
	}
	return s.addAll(ctx, inputs)
}

func (s *Service) update(ctx context.Context, id string, fn func(phrase.Phrase) (phrase.Phrase, error)) (phrase.Phrase, error) {
	var updated phrase.Phrase
	err := s.store.UpdatePhrases(ctx, func(phrases []phrase.Phrase) ([]phrase.Phrase, error) {
		i := phrase.FindByID(phrases, id)
		if i < 0 || phrases[i].IsDeleted {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		p, err := fn(phrases[i])
		if err != nil {
			return nil, err
		}
		updated = p
		phrases[i] = p
		return phrases, nil
	})
	if err != nil {
		return phrase.Phrase{}, fmt.Errorf("store.UpdatePhrases() > %w", err)
	}
	return updated, nil
}

func apply(p phrase.Phrase, input Input) phrase.Phrase {
	p.Meaning = strings.TrimSpace(input.Meaning)
	p.Sentence = strings.TrimSpace(input.Sentence)
	p.Pronunciation = strings.TrimSpace(input.Pronunciation)
	p.Memo = input.Memo
	p.Tags = input.Tags
	p.Song = input.Song
	p.PackageID = input.PackageID
	return p
}
