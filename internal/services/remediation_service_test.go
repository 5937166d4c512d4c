package services

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/miradorstack/mirador-remediation/internal/api"
	"github.com/miradorstack/mirador-remediation/internal/config"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

func newBufconnClient(t *testing.T, gov *GovernanceService) (*api.Client, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := api.NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, nil, lis, NewRemediationService(nil, gov))
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return api.NewClient(conn), conn
}

func TestRemediationServiceOverGRPC(t *testing.T) {
	env := newTestEnv(t)
	client, conn := newBufconnClient(t, env.gov)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil || health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health check: %v %v", health, err)
	}

	var sim struct {
		Results []SimulationResult `json:"results"`
	}
	if err := client.Call(ctx, "Simulate", api.SimulateRequest{Scenario: "database_jwt_missing"}, &sim); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(sim.Results) != 1 || sim.Results[0].Scenario != "database_jwt_missing" {
		t.Fatalf("unexpected simulation: %+v", sim.Results)
	}

	var pending api.ActionsResponse
	if err := client.Call(ctx, "ListActions", api.ListActionsRequest{PendingOnly: true}, &pending); err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(pending.Actions) != 4 {
		t.Fatalf("expected 4 pending actions, got %d", len(pending.Actions))
	}
	var id, advisoryID string
	for _, a := range pending.Actions {
		switch a.Title {
		case "Create New JWT Signing Key":
			id = a.ID
		case "Audit Vault Lease Configuration":
			advisoryID = a.ID
		}
	}
	if id == "" || advisoryID == "" {
		t.Fatalf("expected signing-key and audit steps among %+v", pending.Actions)
	}

	var approved api.ActionResponse
	if err := client.Call(ctx, "ApproveAction", api.TransitionRequest{ActionID: id}, &approved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Action.ApprovalStatus != models.ApprovalApproved || approved.Action.ApprovedBy != api.DefaultActor {
		t.Fatalf("unexpected approved action: %+v", approved.Action)
	}

	err = client.Call(ctx, "RejectAction", api.TransitionRequest{ActionID: id, Actor: "late"}, nil)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition for losing transition, got %v", err)
	}
	err = client.Call(ctx, "ApproveAction", api.TransitionRequest{ActionID: "does-not-exist"}, nil)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	err = client.Call(ctx, "ExecuteAction", api.ExecuteRequest{
		ActionID: id, Kind: "run_remote_command", Host: "db-1", Command: "sudo reboot",
		Justification: testJustification,
	}, nil)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected retargeted command to be denied, got %v", err)
	}
	err = client.Call(ctx, "ExecuteAction", api.ExecuteRequest{ActionID: id, Justification: "short"}, nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected insufficient justification to be invalid, got %v", err)
	}

	if err := client.Call(ctx, "ApproveAction", api.TransitionRequest{ActionID: advisoryID}, nil); err != nil {
		t.Fatalf("approve advisory: %v", err)
	}
	err = client.Call(ctx, "ExecuteAction", api.ExecuteRequest{
		ActionID: advisoryID, Kind: "scale", Deployment: "api-gateway", Justification: testJustification,
	}, nil)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected advisory action to be non-executable, got %v", err)
	}

	var exec api.ExecuteResponse
	if err := client.Call(ctx, "ExecuteAction", api.ExecuteRequest{ActionID: id, Justification: testJustification}, &exec); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !exec.Result.DryRun || !exec.Result.Success {
		t.Fatalf("tokenless execution must be a successful dry run: %+v", exec.Result)
	}

	var mode api.ModeResponse
	if err := client.Call(ctx, "ToggleAutoPilot", nil, &mode); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !mode.AutoPilot || mode.Mode != "Protocol Omega" {
		t.Fatalf("unexpected mode: %+v", mode)
	}

	var path api.PathResponse
	if err := client.Call(ctx, "ImpactPath", api.ServiceRequest{Service: "database"}, &path); err != nil {
		t.Fatalf("impact path: %v", err)
	}
	if len(path.Path) != 3 || path.Path[0] != "database" {
		t.Fatalf("unexpected impact path: %v", path.Path)
	}

	var stats models.IncidentStats
	if err := client.Call(ctx, "IncidentStats", nil, &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected one incident, got %d", stats.Total)
	}

	var mined api.PatternsResponse
	if err := client.Call(ctx, "FailurePatterns", nil, &mined); err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if len(mined.Patterns) == 0 || mined.Patterns[0].Prevalence != 1 {
		t.Fatalf("unexpected patterns: %+v", mined.Patterns)
	}
}

func TestRemediationServiceRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	client, _ := newBufconnClient(t, env.gov)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cases := map[string]any{
		"Ingest":          api.IngestRequest{},
		"GetIncident":     api.IncidentRequest{},
		"DependencyChain": map[string]any{"from": "vault"},
		"Simulate":        api.SimulateRequest{Scenario: "unknown"},
		"Correlate":       map[string]any{"limit": 5000},
	}
	for method, req := range cases {
		if err := client.Call(ctx, method, req, nil); status.Code(err) != codes.InvalidArgument {
			t.Fatalf("%s: expected invalid argument, got %v", method, err)
		}
	}

	if err := client.Call(ctx, "Correlate", api.CorrelateRequest{}, nil); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("correlating an empty store should fail precondition, got %v", err)
	}
}
