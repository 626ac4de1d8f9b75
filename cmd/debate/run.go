package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/smallnest/debategraph/debate"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/store"
	"github.com/spf13/cobra"
)

type runFlags struct {
	sessionID   string
	rounds      int
	noRebuttals bool
	htmlPath    string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [topic]",
		Short: "Start a debate or resume an interrupted one",
		Long: `Start a new debate on a topic, or resume an existing session with --session.
A resumed session keeps its original topic and options and only runs the
stages that have not completed yet.`,
		Example: `  debate run "Remote work is better than office work"
  debate run --session 3f2c9a1e-...`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebate(cmd, root, flags, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&flags.sessionID, "session", "s", "", "session id to resume")
	cmd.Flags().IntVar(&flags.rounds, "rounds", -1, "rebuttal rounds per side (default from config)")
	cmd.Flags().BoolVar(&flags.noRebuttals, "no-rebuttals", false, "skip rebuttals")
	cmd.Flags().StringVar(&flags.htmlPath, "html", "", "also write the summary as HTML to this file")
	return cmd
}

func (f *runFlags) apply(opts *debate.Options) {
	if f.rounds >= 0 {
		opts.Rounds = f.rounds
	}
	if f.noRebuttals {
		opts.Rebuttals = false
	}
}

func (f *runFlags) changesOptions() bool {
	return f.rounds >= 0 || f.noRebuttals
}

func describeOptions(o debate.Options) string {
	n := o.EffectiveRounds()
	if n == 0 {
		return "no rebuttals"
	}
	return fmt.Sprintf("%d rebuttal rounds", n)
}

func runDebate(cmd *cobra.Command, root *rootFlags, flags *runFlags, topic string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sessionID := flags.sessionID
	if sessionID == "" {
		if _, err := debate.Input(topic); err != nil {
			return errors.New("a topic is required to start a debate")
		}
		sessionID = graph.NewSessionID()
	}

	a, err := newApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.engine.Defaults()
	flags.apply(&opts)

	resuming := false
	if flags.sessionID != "" {
		existing, err := a.engine.SessionOptions(ctx, sessionID)
		switch {
		case err == nil:
			resuming = true
			if flags.changesOptions() && !maps.Equal(existing.Metadata(), opts.Metadata()) {
				printHint(out, "session keeps the options it started with: %s", describeOptions(existing))
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	events, err := a.engine.Start(ctx, sessionID, topic, opts)
	if err != nil {
		printFailure(out, "", err)
		return err
	}
	if resuming {
		printHeader(out, "Resuming %s", sessionID)
	} else {
		printHeader(out, "Debate %s: %s", sessionID, strings.TrimSpace(topic))
	}

	for ev := range events {
		a.metrics.ObserveEvent(ev)

		switch ev.Kind {
		case graph.EventStageComplete:
			printStageDone(out, ev.Stage, ev.Step, ev.Duration)

		case graph.EventTerminal:
			summary := ev.Output.String(debate.FieldFinalMarkdown)
			fmt.Fprintln(out)
			fmt.Fprintln(out, summary)
			if flags.htmlPath != "" {
				if err := os.WriteFile(flags.htmlPath, debate.RenderHTML(summary), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", flags.htmlPath, err)
				}
				printHint(out, "summary written to %s", flags.htmlPath)
			}

		case graph.EventError:
			printFailure(out, ev.Stage, ev.Err)
			printHint(out, "resume with: debate run --session %s", sessionID)
			return ev.Err
		}
	}
	return nil
}
