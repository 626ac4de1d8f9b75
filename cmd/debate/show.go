package main

import (
	"fmt"
	"strings"

	"github.com/smallnest/debategraph/debate"
	"github.com/spf13/cobra"
)

func newShowCmd(root *rootFlags) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the summary or progress of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.close()

			if history {
				snaps, err := a.engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				for _, s := range snaps {
					stage := s.Stage
					if stage == "" {
						stage = "(input)"
					}
					fmt.Fprintf(out, "%3d  %-14s %s\n", s.Step, stage, s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
				}
				return nil
			}

			snap, err := a.engine.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			if snap.Final {
				fmt.Fprintln(out, snap.Values.String(debate.FieldFinalMarkdown))
				return nil
			}

			printHeader(out, "%s", debate.Label(snap.SessionID, snap.Values.String(debate.FieldTopic)))
			fmt.Fprintf(out, "completed: %s\n", strings.Join(snap.Completed, ", "))
			fmt.Fprintf(out, "next:      %s\n", strings.Join(snap.Next, ", "))
			printHint(out, "resume with: debate run --session %s", snap.SessionID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list every checkpoint of the session")
	return cmd
}
