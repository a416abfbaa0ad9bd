// Package phrase defines the learning record that is scheduled by the review engine
// and synchronized between devices.
package phrase

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the position of a phrase in the review state machine.
type State string

const (
	StateNew        State = "new"
	StateLearning   State = "learning"
	StateReview     State = "review"
	StateRelearning State = "relearning"
)

// DefaultDifficulty is assigned to phrases that have never been rated.
const DefaultDifficulty = 0.3

// SongRef points to the song a phrase was taken from.
type SongRef struct {
	ID     string `json:"id" yaml:"id"`
	Title  string `json:"title,omitempty" yaml:"title,omitempty"`
	Artist string `json:"artist,omitempty" yaml:"artist,omitempty"`
}

// Memory is the scheduling payload of a phrase that has been reviewed at least once.
// A phrase without Memory is in StateNew.
type Memory struct {
	State         State     `validate:"oneof=learning review relearning"`
	Stability     float64   `validate:"gt=0"`
	ElapsedDays   int       `validate:"gte=0"`
	ScheduledDays int       `validate:"gte=0"`
	Due           time.Time `validate:"required"`
	LastReview    time.Time `validate:"required"`
}

// Phrase is a flashcard with its review progress.
type Phrase struct {
	ID            string   `validate:"required"`
	Meaning       string   `validate:"notblank"`
	Sentence      string   `validate:"notblank"`
	Pronunciation string   `validate:"-"`
	Memo          string   `validate:"-"`
	Tags          []string `validate:"-"`
	Song          *SongRef `validate:"-"`
	PackageID     string   `validate:"-"`

	CreatedAt time.Time
	UpdatedAt time.Time
	IsDeleted bool
	DeletedAt *time.Time

	// Reps and Lapses only grow over the lifetime of an ID.
	Reps       int     `validate:"gte=0"`
	Lapses     int     `validate:"gte=0"`
	Difficulty float64 `validate:"gte=0,lte=1"`
	Memory     *Memory

	// extra keeps JSON fields written by newer clients.
	extra map[string]json.RawMessage
}

// New creates a phrase that has never been reviewed.
func New(meaning, sentence string, now time.Time) Phrase {
	return Phrase{
		ID:         uuid.New().String(),
		Meaning:    meaning,
		Sentence:   sentence,
		CreatedAt:  now,
		UpdatedAt:  now,
		Difficulty: DefaultDifficulty,
	}
}

// State returns StateNew until the phrase gets its first rating.
func (p Phrase) State() State {
	if p.Memory == nil {
		return StateNew
	}
	return p.Memory.State
}

// Due returns the next review time and false for new phrases.
func (p Phrase) Due() (time.Time, bool) {
	if p.Memory == nil {
		return time.Time{}, false
	}
	return p.Memory.Due, true
}

// Touch bumps UpdatedAt. Every mutation goes through it.
func (p Phrase) Touch(now time.Time) Phrase {
	p = p.Clone()
	p.UpdatedAt = now
	return p
}

// MergeKey implements the record contract of the merge package.
func (p Phrase) MergeKey() string {
	return p.ID
}

// LastModified implements the record contract of the merge package.
func (p Phrase) LastModified() time.Time {
	return p.UpdatedAt
}

// ContentKey is the normalized (sentence, meaning) pair used to detect duplicates.
func (p Phrase) ContentKey() string {
	return strings.ToLower(strings.TrimSpace(p.Sentence)) + "\x00" + strings.ToLower(strings.TrimSpace(p.Meaning))
}

// Clone returns a deep copy.
func (p Phrase) Clone() Phrase {
	c := p
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
	if p.Song != nil {
		song := *p.Song
		c.Song = &song
	}
	if p.DeletedAt != nil {
		deletedAt := *p.DeletedAt
		c.DeletedAt = &deletedAt
	}
	if p.Memory != nil {
		memory := *p.Memory
		c.Memory = &memory
	}
	if p.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(p.extra))
		for k, v := range p.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}
