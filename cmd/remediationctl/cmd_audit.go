package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-remediation/internal/executor"
)

const defaultAuditPath = "data/audit.jsonl"

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the executor audit log",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "verify [path]",
			Short: "Recompute every record digest and report the first corrupted line",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := auditPath(args)
				n, err := executor.VerifyAuditLog(path)
				if err != nil {
					return fmt.Errorf("audit log %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "audit log %s OK: %d records verified\n", path, n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show [path]",
			Short: "Print audit records as JSON",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				entries, err := executor.ReadAuditLog(auditPath(args))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			},
		},
	)
	return cmd
}

func auditPath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return defaultAuditPath
}
