// Command remediationctl is the operator CLI for the remediation engine.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "remediationctl",
		Short:         "Operate the mirador remediation engine",
		SilenceUsage: true,
	}
	root.AddCommand(newAuditCmd(), newGraphCmd(), newCorrelateCmd())
	root.AddCommand(newRemoteCmds()...)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
