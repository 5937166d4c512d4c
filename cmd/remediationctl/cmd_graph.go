package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-remediation/internal/graph"
)

func newGraphCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query a service dependency graph definition",
	}
	cmd.PersistentFlags().StringVar(&path, "file", "configs/graph.yaml", "Graph definition (YAML or JSON)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "impact <service>",
			Short: "List every service a failure of <service> would reach",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				g, err := graph.LoadFile(path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(g.ImpactPath(args[0]), " -> "))
				return nil
			},
		},
		&cobra.Command{
			Use:   "chain <from> <to>",
			Short: "Show the upstream dependency path from one service to another",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				g, err := graph.LoadFile(path)
				if err != nil {
					return err
				}
				chain := g.DependencyChain(args[0], args[1])
				if len(chain) == 0 {
					return fmt.Errorf("%s does not depend on %s", args[0], args[1])
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(chain, " <- "))
				return nil
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Print the graph as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				g, err := graph.LoadFile(path)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), g.Snapshot())
			},
		},
	)
	return cmd
}
