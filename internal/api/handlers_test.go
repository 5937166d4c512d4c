package api

import (
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestDecodeIngestRequest(t *testing.T) {
	in := mustStruct(t, map[string]any{
		"events": []any{
			map[string]any{
				"source_service": "vault",
				"message":        "vault is sealed",
				"severity":       "critical",
				"timestamp":      "2025-01-10T12:00:00Z",
				"metadata":       map[string]any{"pod": "vault-0"},
			},
		},
	})

	var req IngestRequest
	if err := Decode(in, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(req.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(req.Events))
	}
	ev := req.Events[0]
	if ev.SourceService != "vault" || ev.Severity != models.EventSeverityCritical || ev.Metadata["pod"] != "vault-0" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %s", ev.Timestamp)
	}
}

func TestDecodeRejectsInvalidRequests(t *testing.T) {
	cases := map[string]struct {
		in  map[string]any
		dst any
	}{
		"empty events":  {map[string]any{"events": []any{}}, &IngestRequest{}},
		"event no msg":  {map[string]any{"events": []any{map[string]any{"source_service": "a"}}}, &IngestRequest{}},
		"unknown field": {map[string]any{"action_id": "a", "bogus": true}, &TransitionRequest{}},
		"missing id":    {map[string]any{"actor": "bob"}, &TransitionRequest{}},
		"bad kind":      {map[string]any{"action_id": "a", "kind": "format_disk"}, &ExecuteRequest{}},
		"chain no to":   {map[string]any{"from": "vault"}, &ChainRequest{}},
	}
	for name, tc := range cases {
		err := Decode(mustStruct(t, tc.in), tc.dst)
		if err == nil || !IsDecodeError(err) {
			t.Fatalf("%s: expected decode error, got %v", name, err)
		}
	}
}

func TestExecuteRequestConversion(t *testing.T) {
	in := mustStruct(t, map[string]any{
		"action_id":     "act-1",
		"kind":          "scale",
		"deployment":    "auth-service",
		"replicas":      3,
		"justification": "restore capacity after outage",
	})
	var req ExecuteRequest
	if err := Decode(in, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	execReq := req.ExecutorRequest()
	if execReq.Kind != executor.KindScale || execReq.Replicas != 3 || execReq.ActionID != "act-1" {
		t.Fatalf("unexpected executor request: %+v", execReq)
	}

	var bare ExecuteRequest
	if err := Decode(mustStruct(t, map[string]any{"action_id": "act-2", "justification": "rerun approved restart"}), &bare); err != nil {
		t.Fatalf("kind must be optional: %v", err)
	}
	if bare.ExecutorRequest().Kind != "" {
		t.Fatalf("unexpected kind: %q", bare.ExecutorRequest().Kind)
	}
}

func TestEncodeRoundTripsResponse(t *testing.T) {
	out, err := Encode(ModeResponse{AutoPilot: true, Mode: "Protocol Omega"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out.Fields["mode"].GetStringValue() != "Protocol Omega" || !out.Fields["auto_pilot"].GetBoolValue() {
		t.Fatalf("unexpected struct: %v", out)
	}

	if _, err := Encode([]string{"not", "an", "object"}); err == nil {
		t.Fatalf("expected error for non-object response")
	}
}

func TestTransitionActorDefault(t *testing.T) {
	if got := (TransitionRequest{ActionID: "a"}).ActorOrDefault(); got != DefaultActor {
		t.Fatalf("expected default actor, got %s", got)
	}
	if got := (TransitionRequest{ActionID: "a", Actor: "sre"}).ActorOrDefault(); got != "sre" {
		t.Fatalf("expected explicit actor, got %s", got)
	}
}
