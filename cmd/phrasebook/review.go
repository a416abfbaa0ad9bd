package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/phrasebook/internal/cli"
	"github.com/at-ishikawa/phrasebook/internal/quiz"
)

func newReviewCommand() *cobra.Command {
	var (
		kind     KindFlag
		dueLimit int
		newLimit int
	)
	command := &cobra.Command{
		Use:   "review",
		Short: "Review due cards followed by new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				session, err := cli.NewReviewSession(a.service,
					cli.WithQuestionKind(quiz.Kind(kind)),
					cli.WithLimits(dueLimit, newLimit),
					cli.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
				)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting review with %d cards. Type 'quit' to exit.\n\n", session.CardCount())
				return session.Run(ctx)
			})
		},
	}
	command.Flags().Var(&kind, "kind", "Question kind: cloze, interpretation, listening or reverse. Self-rated flashcards when omitted")
	command.Flags().IntVar(&dueLimit, "due", 50, "Maximum number of due cards")
	command.Flags().IntVar(&newLimit, "new", 10, "Maximum number of new cards")
	return command
}

func newDueCommand() *cobra.Command {
	format := FormatFlag(cli.FormatTable)
	var limit int
	command := &cobra.Command{
		Use:   "due",
		Short: "List the cards that are due for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				due, err := a.service.Due(limit)
				if err != nil {
					return err
				}
				return cli.WritePhrases(cmd.OutOrStdout(), due, cli.Format(format))
			})
		},
	}
	command.Flags().Var(&format, "format", "Output format: table, yaml or json")
	command.Flags().IntVar(&limit, "limit", 0, "Maximum number of cards, 0 for all")
	return command
}

func newForecastCommand() *cobra.Command {
	var days int
	command := &cobra.Command{
		Use:   "forecast",
		Short: "Show how many reviews fall due on each of the next days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				forecast, err := a.service.Forecast(days)
				if err != nil {
					return err
				}
				return cli.WriteForecast(cmd.OutOrStdout(), forecast, time.Now())
			})
		},
	}
	command.Flags().IntVar(&days, "days", 14, "Number of days")
	return command
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show retention statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, openOptions{}, func(ctx context.Context, a *appContext) error {
				stats, byState, err := a.service.Stats()
				if err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats, byState)
			})
		},
	}
}
