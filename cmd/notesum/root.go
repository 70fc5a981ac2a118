package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/snappy-loop/notesum/internal/app"
	"github.com/snappy-loop/notesum/internal/auth"
	"github.com/snappy-loop/notesum/internal/config"
	"github.com/snappy-loop/notesum/internal/llm"
	"github.com/snappy-loop/notesum/internal/summarize"
	"github.com/spf13/cobra"
)

// summarizerFactory builds the summarizer for a command run; replaced in tests.
type summarizerFactory func(cfg *config.Config, in app.Interaction) (profileNoteSummarizer, error)

type profileNoteSummarizer interface {
	SummarizeProfile(ctx context.Context, userID string, opts summarize.Options) (*summarize.Summary, error)
	SummarizeNote(ctx context.Context, noteID string) (*summarize.Summary, error)
}

func defaultFactory(cfg *config.Config, in app.Interaction) (profileNoteSummarizer, error) {
	return app.NewSummarizer(cfg, in)
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return buildRootCmd(in, out, errOut, defaultFactory)
}

func buildRootCmd(in io.Reader, out, errOut io.Writer, factory summarizerFactory) *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "notesum",
		Short:         "Summarize Misskey profiles and notes with Gemini",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			app.SetupLogging(errOut, cfg.LogLevel)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	interaction := func() app.Interaction {
		return app.Interaction{
			Prompter: &llm.InteractivePrompter{In: in, Out: errOut},
			Notifier: llm.WriterNotifier{Out: out},
		}
	}

	var (
		limit            int
		includeFollowers bool
		quiet            bool
	)
	profileCmd := &cobra.Command{
		Use:   "profile <userId>",
		Short: "Summarize a user's profile and latest notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("limit") && limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}
			s, err := factory(cfg, interaction())
			if err != nil {
				return err
			}

			opts := summarize.Options{IncludeFollowers: includeFollowers}
			if cmd.Flags().Changed("limit") {
				opts.NotesLimit = &limit
			}
			if !quiet {
				opts.Progress = summarize.ProgressFunc(func(_ context.Context, ev summarize.ProgressEvent) {
					if ev.Stage == summarize.StagePageFetched {
						fmt.Fprintf(errOut, "fetched %d notes\n", ev.Fetched)
					}
				})
			}

			_, err = s.SummarizeProfile(cmd.Context(), args[0], opts)
			return err
		},
	}
	profileCmd.Flags().IntVarP(&limit, "limit", "n", summarize.DefaultNotesLimit, "number of notes to read")
	profileCmd.Flags().BoolVar(&includeFollowers, "include-followers", false, "also read followers-only notes")
	profileCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print fetch progress")

	noteCmd := &cobra.Command{
		Use:   "note <noteId>",
		Short: "Summarize a single note and its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := factory(cfg, interaction())
			if err != nil {
				return err
			}
			_, err = s.SummarizeNote(cmd.Context(), args[0])
			return err
		},
	}

	hashCmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash to use as API_TOKEN_HASH",
		Long:  "Print the bcrypt hash to use as API_TOKEN_HASH. The token is read from stdin when not given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				data, err := io.ReadAll(in)
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(string(data))
			}
			if token == "" {
				return fmt.Errorf("token is empty")
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, hash)
			return nil
		},
	}

	root.AddCommand(profileCmd, noteCmd, hashCmd)
	return root
}
