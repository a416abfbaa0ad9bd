package phrase

import (
	"encoding/json"
	"fmt"
	"time"
)

// Format tells whether a stored phrase predates durable metadata.
type Format int

const (
	// FormatLegacy phrases have content-hashed ids and lack createdAt/updatedAt/isDeleted.
	FormatLegacy Format = iota + 1
	FormatDurable
)

// Stored is a phrase tagged with the format it was decoded from.
type Stored struct {
	Format Format
	Phrase Phrase
	// MissingDefaults reports that at least one scheduling default had to be filled in.
	MissingDefaults bool
}

type wirePhrase struct {
	ID            string     `json:"id"`
	Meaning       string     `json:"meaning"`
	Sentence      string     `json:"sentence"`
	Pronunciation string     `json:"pronunciation,omitempty"`
	Memo          string     `json:"memo,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Song          *SongRef   `json:"song,omitempty"`
	PackageID     string     `json:"packageId,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	IsDeleted     *bool      `json:"isDeleted,omitempty"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`

	State         State      `json:"state,omitempty"`
	Stability     *float64   `json:"stability,omitempty"`
	Difficulty    *float64   `json:"difficulty,omitempty"`
	ElapsedDays   *int       `json:"elapsedDays,omitempty"`
	ScheduledDays *int       `json:"scheduledDays,omitempty"`
	Reps          *int       `json:"reps,omitempty"`
	Lapses        *int       `json:"lapses,omitempty"`
	Due           *time.Time `json:"due,omitempty"`
	LastReview    *time.Time `json:"lastReview,omitempty"`
}

var wireFields = map[string]struct{}{
	"id": {}, "meaning": {}, "sentence": {}, "pronunciation": {}, "memo": {}, "tags": {},
	"song": {}, "packageId": {}, "createdAt": {}, "updatedAt": {}, "isDeleted": {}, "deletedAt": {},
	"state": {}, "stability": {}, "difficulty": {}, "elapsedDays": {}, "scheduledDays": {},
	"reps": {}, "lapses": {}, "due": {}, "lastReview": {},
}

// MarshalJSON writes the flat document shape shared with older clients.
func (p Phrase) MarshalJSON() ([]byte, error) {
	isDeleted := p.IsDeleted
	reps, lapses, difficulty := p.Reps, p.Lapses, p.Difficulty
	w := wirePhrase{
		ID:            p.ID,
		Meaning:       p.Meaning,
		Sentence:      p.Sentence,
		Pronunciation: p.Pronunciation,
		Memo:          p.Memo,
		Tags:          p.Tags,
		Song:          p.Song,
		PackageID:     p.PackageID,
		IsDeleted:     &isDeleted,
		DeletedAt:     p.DeletedAt,
		State:         p.State(),
		Difficulty:    &difficulty,
		Reps:          &reps,
		Lapses:        &lapses,
	}
	if !p.CreatedAt.IsZero() {
		w.CreatedAt = &p.CreatedAt
	}
	if !p.UpdatedAt.IsZero() {
		w.UpdatedAt = &p.UpdatedAt
	}
	if m := p.Memory; m != nil {
		w.Stability = &m.Stability
		w.ElapsedDays = &m.ElapsedDays
		w.ScheduledDays = &m.ScheduledDays
		w.Due = &m.Due
		w.LastReview = &m.LastReview
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return data, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range p.extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// UnmarshalJSON accepts both legacy and durable documents.
func (p *Phrase) UnmarshalJSON(data []byte) error {
	stored, err := DecodeStored(data)
	if err != nil {
		return err
	}
	*p = stored.Phrase
	return nil
}

// DecodeStored parses one stored phrase and decides its format once, at the boundary.
func DecodeStored(data []byte) (Stored, error) {
	var w wirePhrase
	if err := json.Unmarshal(data, &w); err != nil {
		return Stored{}, fmt.Errorf("json.Unmarshal(phrase) > %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Stored{}, fmt.Errorf("json.Unmarshal(phrase fields) > %w", err)
	}

	p := Phrase{
		ID:            w.ID,
		Meaning:       w.Meaning,
		Sentence:      w.Sentence,
		Pronunciation: w.Pronunciation,
		Memo:          w.Memo,
		Tags:          w.Tags,
		Song:          w.Song,
		PackageID:     w.PackageID,
		DeletedAt:     w.DeletedAt,
		Difficulty:    DefaultDifficulty,
	}
	if w.CreatedAt != nil {
		p.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		p.UpdatedAt = *w.UpdatedAt
	}
	if w.IsDeleted != nil {
		p.IsDeleted = *w.IsDeleted
	}

	missingDefaults := w.State == "" || w.Reps == nil || w.Lapses == nil || w.Difficulty == nil
	if w.Reps != nil {
		p.Reps = *w.Reps
	}
	if w.Lapses != nil {
		p.Lapses = *w.Lapses
	}
	if w.Difficulty != nil {
		p.Difficulty = *w.Difficulty
	}
	if w.State != "" && w.State != StateNew {
		m := &Memory{State: w.State, Stability: 1}
		if w.Stability != nil {
			m.Stability = *w.Stability
		}
		if w.ElapsedDays != nil {
			m.ElapsedDays = *w.ElapsedDays
		}
		if w.ScheduledDays != nil {
			m.ScheduledDays = *w.ScheduledDays
		}
		if w.Due != nil {
			m.Due = *w.Due
		}
		if w.LastReview != nil {
			m.LastReview = *w.LastReview
		}
		p.Memory = m
	}

	for k, v := range fields {
		if _, known := wireFields[k]; known {
			continue
		}
		if p.extra == nil {
			p.extra = make(map[string]json.RawMessage)
		}
		p.extra[k] = v
	}

	format := FormatLegacy
	if w.CreatedAt != nil && w.UpdatedAt != nil && w.IsDeleted != nil {
		format = FormatDurable
	}
	return Stored{Format: format, Phrase: p, MissingDefaults: missingDefaults}, nil
}

// DecodeStoredList parses a JSON array of stored phrases.
func DecodeStoredList(data []byte) ([]Stored, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("json.Unmarshal(phrases) > %w", err)
	}
	stored := make([]Stored, 0, len(raws))
	for i, raw := range raws {
		s, err := DecodeStored(raw)
		if err != nil {
			return nil, fmt.Errorf("DecodeStored(%d) > %w", i, err)
		}
		stored = append(stored, s)
	}
	return stored, nil
}

// DecodeList parses a JSON array of phrases. Null or empty input yields an empty list.
func DecodeList(data []byte) ([]Phrase, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var phrases []Phrase
	if err := json.Unmarshal(data, &phrases); err != nil {
		return nil, fmt.Errorf("json.Unmarshal(phrases) > %w", err)
	}
	return phrases, nil
}

// EncodeList writes phrases as a JSON array.
func EncodeList(phrases []Phrase) ([]byte, error) {
	if phrases == nil {
		phrases = []Phrase{}
	}
	data, err := json.Marshal(phrases)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal(phrases) > %w", err)
	}
	return data, nil
}
