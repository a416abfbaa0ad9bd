package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/phrasebook/internal/phrase"
	"github.com/at-ishikawa/phrasebook/internal/retention"
)

type Format string

const (
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
)

// PhraseView is the listing representation of a phrase.
type PhraseView struct {
	ID            string     `json:"id" yaml:"id"`
	Sentence      string     `json:"sentence" yaml:"sentence"`
	Meaning       string     `json:"meaning" yaml:"meaning"`
	Pronunciation string     `json:"pronunciation,omitempty" yaml:"pronunciation,omitempty"`
	Memo          string     `json:"memo,omitempty" yaml:"memo,omitempty"`
	Tags          []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	State         string     `json:"state" yaml:"state"`
	Reps          int        `json:"reps" yaml:"reps"`
	Lapses        int        `json:"lapses" yaml:"lapses"`
	Due           *time.Time `json:"due,omitempty" yaml:"due,omitempty"`
	Deleted       bool       `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

func NewPhraseView(p phrase.Phrase) PhraseView {
	view := PhraseView{
		ID:            p.ID,
		Sentence:      p.Sentence,
		Meaning:       p.Meaning,
		Pronunciation: p.Pronunciation,
		Memo:          p.Memo,
		Tags:          p.Tags,
		State:         string(p.State()),
		Reps:          p.Reps,
		Lapses:        p.Lapses,
		Deleted:       p.IsDeleted,
	}
	if due, ok := p.Due(); ok {
		view.Due = &due
	}
	return view
}

func WritePhrases(w io.Writer, phrases []phrase.Phrase, format Format) error {
	views := make([]PhraseView, 0, len(phrases))
	for _, p := range phrases {
		views = append(views, NewPhraseView(p))
	}

	switch format {
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(views); err != nil {
			return fmt.Errorf("yaml.Encode() > %w", err)
		}
		return encoder.Close()
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(views); err != nil {
			return fmt.Errorf("json.Encode() > %w", err)
		}
		return nil
	case FormatTable, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tSENTENCE\tMEANING\tSTATE\tDUE")
		for _, v := range views {
			due := "-"
			if v.Due != nil {
				due = v.Due.Format("2006-01-02")
			}
			state := v.State
			if v.Deleted {
				state = "deleted"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Sentence, v.Meaning, state, due)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown format %q", format)
}

// WriteForecast prints one line per day starting today.
func WriteForecast(w io.Writer, forecast []int, today time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DATE\tDUE\t")
	for i, n := range forecast {
		day := today.AddDate(0, 0, i).Format("2006-01-02")
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", day, n, strings.Repeat("#", min(n, 40)))
	}
	return tw.Flush()
}

func WriteStats(w io.Writer, stats retention.Stats, byState map[phrase.State]int) error {
	total := 0
	for _, n := range byState {
		total += n
	}
	_, err := fmt.Fprintf(w, `Phrases:      %d
Reviews:      %d
Lapses:       %d
Retention:    %.1f%%
New:          %d
Learning:     %d
Review:       %d
Relearning:   %d
`,
		total, stats.TotalReviews, stats.TotalLapses, stats.RetentionRate*100,
		byState[phrase.StateNew], byState[phrase.StateLearning], byState[phrase.StateReview], byState[phrase.StateRelearning],
	)
	return err
}
