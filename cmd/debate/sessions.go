package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/smallnest/debategraph/debate"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/store"
	"github.com/spf13/cobra"
)

func newSessionsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List debate sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listSessions(cmd, root)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func listSessions(cmd *cobra.Command, root *rootFlags) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := a.engine.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		printHint(cmd.OutOrStdout(), "no sessions")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tUPDATED\tLABEL")
	for _, id := range ids {
		r, err := a.engine.ForSession(ctx, id)
		var snap *graph.StateSnapshot
		if err == nil {
			snap, err = r.GetState(ctx, id)
		}
		var unavailable *graph.StoreUnavailableError
		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case errors.As(err, &unavailable):
			return err
		case err != nil:
			a.logger.Warn("session %s: %v", id, err)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, failStyle.Render("unreadable"), "-", debate.Label(id, ""))
			continue
		}
		status := fmt.Sprintf("%d/%d", len(snap.Completed), len(r.Graph().Stages()))
		if snap.Final {
			status = okStyle.Render("final")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			id, status, snap.UpdatedAt.Local().Format("2006-01-02 15:04"),
			debate.Label(id, snap.Values.String(debate.FieldTopic)))
	}
	return tw.Flush()
}
