package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/at-ishikawa/phrasebook/internal/fsrs"
	"github.com/at-ishikawa/phrasebook/internal/phrase"
	"github.com/at-ishikawa/phrasebook/internal/quiz"
)

var errEnd = errors.New("end")

// Learner is the part of the learning service a review session drives.
type Learner interface {
	List(includeDeleted bool) ([]phrase.Phrase, error)
	Due(limit int) ([]phrase.Phrase, error)
	New(limit int) ([]phrase.Phrase, error)
	Review(ctx context.Context, id string, rating fsrs.Rating) (phrase.Phrase, error)
	Answer(ctx context.Context, q quiz.Question, answer string, responseTime time.Duration) (quiz.Result, phrase.Phrase, error)
}

// Summary counts the outcome of a review session.
type Summary struct {
	Reviewed int
	Correct  int
}

type ReviewOption func(*ReviewSession)

// WithQuestionKind switches from self-rated flashcards to graded questions.
func WithQuestionKind(kind quiz.Kind) ReviewOption {
	return func(r *ReviewSession) {
		r.kind = kind
	}
}

func WithLimits(due, fresh int) ReviewOption {
	return func(r *ReviewSession) {
		r.dueLimit = due
		r.newLimit = fresh
	}
}

func WithIO(in io.Reader, out io.Writer) ReviewOption {
	return func(r *ReviewSession) {
		r.stdinReader = bufio.NewReader(in)
		r.stdoutWriter = out
	}
}

func WithSeed(seed uint64) ReviewOption {
	return func(r *ReviewSession) {
		r.generator = quiz.NewGenerator(seed)
	}
}

func WithSessionClock(now func() time.Time) ReviewOption {
	return func(r *ReviewSession) {
		r.now = now
	}
}

// ReviewSession walks the learner through the due cards followed by new ones.
type ReviewSession struct {
	learner   Learner
	generator *quiz.Generator
	kind      quiz.Kind
	dueLimit  int
	newLimit  int
	now       func() time.Time

	cards   []phrase.Phrase
	pool    []phrase.Phrase
	summary Summary

	stdinReader  *bufio.Reader
	stdoutWriter io.Writer
	bold         *color.Color
	italic       *color.Color
	green        *color.Color
	red          *color.Color
}

func NewReviewSession(learner Learner, opts ...ReviewOption) (*ReviewSession, error) {
	r := &ReviewSession{
		learner:      learner,
		generator:    quiz.NewGenerator(uint64(time.Now().UnixNano())),
		dueLimit:     50,
		newLimit:     10,
		now:          time.Now,
		stdinReader:  bufio.NewReader(os.Stdin),
		stdoutWriter: os.Stdout,
		bold:         color.New(color.Bold),
		italic:       color.New(color.Italic),
		green:        color.New(color.FgGreen),
		red:          color.New(color.FgRed),
	}
	for _, opt := range opts {
		opt(r)
	}

	due, err := learner.Due(r.dueLimit)
	if err != nil {
		return nil, fmt.Errorf("learner.Due() > %w", err)
	}
	fresh, err := learner.New(r.newLimit)
	if err != nil {
		return nil, fmt.Errorf("learner.New() > %w", err)
	}
	r.cards = append(due, fresh...)

	if r.kind == quiz.KindInterpretation {
		if r.pool, err = learner.List(false); err != nil {
			return nil, fmt.Errorf("learner.List() > %w", err)
		}
	}
	return r, nil
}

// CardCount returns the number of remaining cards
func (r *ReviewSession) CardCount() int {
	return len(r.cards)
}

func (r *ReviewSession) Summary() Summary {
	return r.summary
}

// Run repeats Session until the cards run out, the learner quits or ctx is done.
func (r *ReviewSession) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for ctx.Err() == nil {
			if err := r.Session(ctx); err != nil {
				if !errors.Is(err, errEnd) {
					errCh <- err
				}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		r.println("Review interrupted.")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("review session > %w", err)
		}
	}
	r.println(fmt.Sprintf("Reviewed %d cards, %d correct.", r.summary.Reviewed, r.summary.Correct))
	return nil
}

// Session reviews the next card.
func (r *ReviewSession) Session(ctx context.Context) error {
	if len(r.cards) == 0 {
		r.println("No more cards to review!")
		return errEnd
	}
	card := r.cards[0]

	var err error
	if r.kind == "" {
		err = r.selfRated(ctx, card)
	} else {
		err = r.question(ctx, card)
	}
	if err != nil {
		return err
	}
	r.cards = r.cards[1:]
	r.summary.Reviewed++
	return nil
}

func (r *ReviewSession) selfRated(ctx context.Context, card phrase.Phrase) error {
	r.print(r.bold.Sprintf("%s", card.Sentence) + "  (press enter to reveal) ")
	if _, err := r.readLine(); err != nil {
		return err
	}
	r.println(fmt.Sprintf("Meaning: %s", r.italic.Sprintf("%s", card.Meaning)))
	if card.Memo != "" {
		r.println("Memo: " + card.Memo)
	}

	for {
		r.print("Rating [1=again 2=hard 3=good 4=easy]: ")
		input, err := r.readLine()
		if err != nil {
			return err
		}
		rating, err := fsrs.ParseRating(input)
		if err != nil {
			r.println(r.red.Sprintf("%v", err))
			continue
		}
		reviewed, err := r.learner.Review(ctx, card.ID, rating)
		if err != nil {
			return fmt.Errorf("learner.Review(%s) > %w", card.ID, err)
		}
		if rating != fsrs.Again {
			r.summary.Correct++
		}
		r.printNextDue(reviewed)
		return nil
	}
}

func (r *ReviewSession) question(ctx context.Context, card phrase.Phrase) error {
	q, err := r.generator.Generate(r.kind, card, r.pool)
	if errors.Is(err, quiz.ErrNotApplicable) {
		q = r.generator.Reverse(card)
	} else if err != nil {
		return fmt.Errorf("generator.Generate(%s) > %w", card.ID, err)
	}

	r.println(r.bold.Sprintf("%s", q.Prompt))
	if q.Hint != "" {
		r.println("Hint: " + r.italic.Sprintf("%s", q.Hint))
	}
	for i, choice := range q.Choices {
		r.println(fmt.Sprintf("  %d) %s", i+1, choice))
	}
	r.print("> ")

	start := r.now()
	answer, err := r.readLine()
	if err != nil {
		return err
	}
	answer = resolveChoice(q, answer)

	result, reviewed, err := r.learner.Answer(ctx, q, answer, r.now().Sub(start))
	if err != nil {
		return fmt.Errorf("learner.Answer(%s) > %w", card.ID, err)
	}
	if result.Correct {
		r.summary.Correct++
		r.println("✅ " + r.green.Sprintf("Correct (%s)", result.Rating))
	} else {
		r.println("❌ " + r.red.Sprintf(`Wrong. The answer is "%s"`, q.Answer))
	}
	r.printNextDue(reviewed)
	return nil
}

// resolveChoice maps a choice number to the choice text.
func resolveChoice(q quiz.Question, answer string) string {
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || n < 1 || n > len(q.Choices) {
		return answer
	}
	return q.Choices[n-1]
}

func (r *ReviewSession) printNextDue(p phrase.Phrase) {
	due, ok := p.Due()
	if !ok {
		return
	}
	r.println(fmt.Sprintf("Next review: %s", due.Format("2006-01-02 15:04")))
	r.println("")
}

// readLine returns errEnd on EOF or when the learner types quit.
func (r *ReviewSession) readLine() (string, error) {
	line, err := r.stdinReader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errEnd
		}
		return "", fmt.Errorf("error reading input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "quit" || line == "exit" {
		return "", errEnd
	}
	return line, nil
}

func (r *ReviewSession) print(s string) {
	_, _ = fmt.Fprint(r.stdoutWriter, s)
}

func (r *ReviewSession) println(s string) {
	_, _ = fmt.Fprintln(r.stdoutWriter, s)
}
