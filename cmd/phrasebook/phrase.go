package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/at-ishikawa/phrasebook/internal/cli"
	"github.com/at-ishikawa/phrasebook/internal/inference"
	"github.com/at-ishikawa/phrasebook/internal/learning"
	"github.com/at-ishikawa/phrasebook/internal/phrase"
)

func newPhraseCommand() *cobra.Command {
	phraseCommand := &cobra.Command{
		Use:   "phrase",
		Short: "Manage the phrase collection",
	}
	phraseCommand.AddCommand(
		newPhraseAddCommand(),
		newPhraseEditCommand(),
		newPhraseDeleteCommand(),
		newPhraseListCommand(),
		newPhraseGenerateCommand(),
	)
	return phraseCommand
}

type phraseFlags struct {
	meaning       string
	sentence      string
	pronunciation string
	memo          string
	tags          []string
	songID        string
	songTitle     string
	songArtist    string
	packageID     string
}

func (f *phraseFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.meaning, "meaning", "", "Meaning in the native language")
	flags.StringVar(&f.sentence, "sentence", "", "Sentence in the target language")
	flags.StringVar(&f.pronunciation, "pronunciation", "", "Reading or romanization")
	flags.StringVar(&f.memo, "memo", "", "Free-form note")
	flags.StringSliceVar(&f.tags, "tag", nil, "Tag, repeatable")
	flags.StringVar(&f.songID, "song-id", "", "ID of the song the phrase comes from")
	flags.StringVar(&f.songTitle, "song-title", "", "Title of the song")
	flags.StringVar(&f.songArtist, "song-artist", "", "Artist of the song")
	flags.StringVar(&f.packageID, "package", "", "Content package ID")
}

// input overlays the flags that were set on base.
func (f *phraseFlags) input(flags *pflag.FlagSet, base learning.Input) learning.Input {
	if flags.Changed("meaning") {
		base.Meaning = f.meaning
	}
	if flags.Changed("sentence") {
		base.Sentence = f.sentence
	}
	if flags.Changed("pronunciation") {
		base.Pronunciation = f.pronunciation
	}
	if flags.Changed("memo") {
		base.Memo = f.memo
	}
	if flags.Changed("tag") {
		base.Tags = f.tags
	}
	if flags.Changed("package") {
		base.PackageID = f.packageID
	}
	if flags.Changed("song-id") || flags.Changed("song-title") || flags.Changed("song-artist") {
		song := phrase.SongRef{}
		if base.Song != nil {
			song = *base.Song
		}
		if flags.Changed("song-id") {
			song.ID = f.songID
		}
		if flags.Changed("song-title") {
			song.Title = f.songTitle
		}
		if flags.Changed("song-artist") {
			song.Artist = f.songArtist
		}
		base.Song = &song
		if song.ID == "" {
			base.Song = nil
		}
	}
	return base
}

func inputOf(p phrase.Phrase) learning.Input {
	return learning.Input{
		Meaning:       p.Meaning,
		Sentence:      p.Sentence,
		Pronunciation: p.Pronunciation,
		Memo:          p.Memo,
		Tags:          p.Tags,
		Song:          p.Song,
		PackageID:     p.PackageID,
	}
}

func newPhraseAddCommand() *cobra.Command {
	var flags phraseFlags
	command := &cobra.Command{
		Use:   "add",
		Short: "Add a phrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				added, err := a.service.Add(ctx, flags.input(cmd.Flags(), learning.Input{}))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", added.ID)
				return nil
			})
		},
	}
	flags.register(command.Flags())
	return command
}

func newPhraseEditCommand() *cobra.Command {
	var flags phraseFlags
	command := &cobra.Command{
		Use:   "edit <phrase id>",
		Short: "Edit the content of a phrase. Review progress is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				current, err := a.service.Get(args[0])
				if err != nil {
					return err
				}
				edited, err := a.service.Edit(ctx, current.ID, flags.input(cmd.Flags(), inputOf(current)))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", edited.ID)
				return nil
			})
		},
	}
	flags.register(command.Flags())
	return command
}

func newPhraseDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <phrase id>",
		Short: "Delete a phrase on every device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				if err := a.service.Delete(ctx, args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newPhraseListCommand() *cobra.Command {
	format := FormatFlag(cli.FormatTable)
	var all bool
	command := &cobra.Command{
		Use:   "list",
		Short: "List phrases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				phrases, err := a.service.List(all)
				if err != nil {
					return err
				}
				return cli.WritePhrases(cmd.OutOrStdout(), phrases, cli.Format(format))
			})
		},
	}
	command.Flags().Var(&format, "format", "Output format: table, yaml or json")
	command.Flags().BoolVar(&all, "all", false, "Include deleted phrases")
	return command
}

func newPhraseGenerateCommand() *cobra.Command {
	var req inference.GeneratePhrasesRequest
	format := FormatFlag(cli.FormatTable)
	command := &cobra.Command{
		Use:   "generate",
		Short: "Generate new phrases with OpenAI and add them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Language == "" {
				return fmt.Errorf("--language is required")
			}
			return runApp(cmd, openOptions{generator: true}, func(ctx context.Context, a *appContext) error {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Using OpenAI provider (model: %s)\n", a.cfg.OpenAI.Model)
				added, err := a.service.Generate(ctx, req)
				if err != nil {
					return err
				}
				return cli.WritePhrases(cmd.OutOrStdout(), added, cli.Format(format))
			})
		},
	}
	flags := command.Flags()
	flags.StringVar(&req.Language, "language", "", "Language to learn")
	flags.StringVar(&req.NativeLanguage, "native-language", "English", "Language of the meanings")
	flags.StringVar(&req.Topic, "topic", "", "Topic of the phrases, also added as a tag")
	flags.StringVar(&req.Level, "level", "beginner", "Learner level")
	flags.IntVar(&req.Count, "count", 10, fmt.Sprintf("Number of phrases, at most %d", inference.MaxGeneratedPhrases))
	flags.Var(&format, "format", "Output format: table, yaml or json")
	return command
}
