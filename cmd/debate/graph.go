package main

import (
	"fmt"

	"github.com/smallnest/debategraph/debate"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/llm"
	"github.com/spf13/cobra"
)

func newGraphCmd(root *rootFlags) *cobra.Command {
	var (
		format    string
		direction string
		run       runFlags
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the debate graph as Mermaid or DOT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			opts := cfg.DebateOptions()
			run.apply(&opts)

			g, err := debate.NewGraph(llm.Echo(), opts)
			if err != nil {
				return err
			}

			switch format {
			case "mermaid":
				fmt.Fprint(cmd.OutOrStdout(), g.DrawMermaidWithOptions(graph.MermaidOptions{Direction: direction}))
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), g.DrawDOT())
			default:
				return fmt.Errorf("unknown format %q, want mermaid or dot", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "output format: mermaid or dot")
	cmd.Flags().StringVar(&direction, "direction", "TD", "mermaid flow direction")
	cmd.Flags().IntVar(&run.rounds, "rounds", -1, "rebuttal rounds per side (default from config)")
	cmd.Flags().BoolVar(&run.noRebuttals, "no-rebuttals", false, "omit rebuttals")
	return cmd
}
