package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-remediation/internal/api"
)

type remoteOptions struct {
	addr    string
	timeout time.Duration
}

// call dials the engine, invokes method and prints the JSON reply.
func (o *remoteOptions) call(cmd *cobra.Command, method string, req any) error {
	conn, err := grpc.NewClient(o.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	var resp map[string]any
	if err := api.NewClient(conn).Call(ctx, method, req, &resp); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

func (o *remoteOptions) bind(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringVar(&o.addr, "addr", "localhost:50061", "Remediation engine gRPC address")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}

func newRemoteCmds() []*cobra.Command {
	return []*cobra.Command{
		newSimulateCmd(),
		newIncidentsCmd(),
		newActionsCmd(),
		newTransitionCmd("approve", "ApproveAction", "Approve a pending action"),
		newTransitionCmd("reject", "RejectAction", "Reject a pending action"),
		newTransitionCmd("rollback", "RollbackAction", "Mark an approved action as rolled back"),
		newAutoPilotCmd(),
	}
}

func newSimulateCmd() *cobra.Command {
	opts := &remoteOptions{}
	return opts.bind(&cobra.Command{
		Use:   "simulate [scenario]",
		Short: "Replay a built-in incident scenario, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.SimulateRequest{}
			if len(args) == 1 {
				req.Scenario = args[0]
			}
			return opts.call(cmd, "Simulate", req)
		},
	})
}

func newIncidentsCmd() *cobra.Command {
	opts := &remoteOptions{}
	var stats, patterns bool
	cmd := opts.bind(&cobra.Command{
		Use:   "incidents [id]",
		Short: "List incidents newest first, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case stats:
				return opts.call(cmd, "IncidentStats", nil)
			case patterns:
				return opts.call(cmd, "FailurePatterns", nil)
			case len(args) == 1:
				return opts.call(cmd, "GetIncident", api.IncidentRequest{IncidentID: args[0]})
			default:
				return opts.call(cmd, "ListIncidents", nil)
			}
		},
	})
	cmd.Flags().BoolVar(&stats, "stats", false, "Print counts by severity and status")
	cmd.Flags().BoolVar(&patterns, "patterns", false, "Print recurring failure hotspots per service")
	return cmd
}

func newActionsCmd() *cobra.Command {
	opts := &remoteOptions{}
	req := api.ListActionsRequest{}
	cmd := opts.bind(&cobra.Command{
		Use:   "actions",
		Short: "List remediation actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, "ListActions", req)
		},
	})
	cmd.Flags().StringVar(&req.IncidentID, "incident", "", "Only actions of this incident")
	cmd.Flags().BoolVar(&req.PendingOnly, "pending", false, "Only actions awaiting approval")
	return cmd
}

func newTransitionCmd(use, method, short string) *cobra.Command {
	opts := &remoteOptions{}
	var actor string
	cmd := opts.bind(&cobra.Command{
		Use:   use + " <action-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, method, api.TransitionRequest{ActionID: args[0], Actor: actor})
		},
	})
	cmd.Flags().StringVar(&actor, "actor", "", "Operator recorded on the transition")
	return cmd
}

func newAutoPilotCmd() *cobra.Command {
	opts := &remoteOptions{}
	var toggle bool
	cmd := opts.bind(&cobra.Command{
		Use:   "autopilot",
		Short: "Show or toggle the governance mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if toggle {
				return opts.call(cmd, "ToggleAutoPilot", nil)
			}
			return opts.call(cmd, "GovernanceMode", nil)
		},
	})
	cmd.Flags().BoolVar(&toggle, "toggle", false, "Flip between manual and auto-pilot")
	return cmd
}
