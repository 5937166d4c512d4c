package recommend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

func TestGenerateVaultPlaybook(t *testing.T) {
	engine := NewEngine(nil)
	incident := models.Incident{ID: "inc-1", ScenarioType: "vault_auth_failure"}

	actions := engine.Generate(incident)
	if len(actions) != 4 {
		t.Fatalf("expected 4 actions, got %d", len(actions))
	}
	if actions[0].Title != "Unseal / Restart Vault" || actions[0].RiskLevel != models.RiskHigh {
		t.Fatalf("unexpected first action: %+v", actions[0])
	}
	seen := map[string]bool{}
	for _, a := range actions {
		if a.ApprovalStatus != models.ApprovalPending {
			t.Fatalf("action %q not pending: %s", a.Title, a.ApprovalStatus)
		}
		if a.IncidentID != "inc-1" {
			t.Fatalf("action %q has incident %q", a.Title, a.IncidentID)
		}
		if a.ID == "" || seen[a.ID] {
			t.Fatalf("action ids must be unique and non-empty, got %q", a.ID)
		}
		seen[a.ID] = true
		if !a.RiskLevel.Valid() {
			t.Fatalf("action %q has invalid risk %q", a.Title, a.RiskLevel)
		}
	}
}

func TestGenerateFallback(t *testing.T) {
	engine := NewEngine(nil)
	actions := engine.Generate(models.Incident{ID: "inc-2", ScenarioType: "unknown"})
	if len(actions) != 2 {
		t.Fatalf("expected fallback of 2 actions, got %d", len(actions))
	}
	if actions[0].Title != "Manual Investigation Required" || actions[1].Title != "Escalate to On-Call Engineer" {
		t.Fatalf("unexpected fallback titles: %q, %q", actions[0].Title, actions[1].Title)
	}
	for _, a := range actions {
		if a.RiskLevel != models.RiskLow {
			t.Fatalf("fallback action %q should be low risk", a.Title)
		}
		if a.Execution != nil {
			t.Fatalf("fallback action %q must be advisory", a.Title)
		}
	}
}

func TestGenerateCopiesExecutionSpec(t *testing.T) {
	engine := NewEngine(nil)
	first := engine.Generate(models.Incident{ID: "inc-3", ScenarioType: "vault_auth_failure"})
	restart := first[3]
	if restart.Execution == nil || restart.Execution.Kind != "restart" || restart.Execution.Deployment != "auth-service" {
		t.Fatalf("restart step should carry its execution spec: %+v", restart.Execution)
	}
	restart.Execution.Deployment = "tampered"

	second := engine.Generate(models.Incident{ID: "inc-4", ScenarioType: "vault_auth_failure"})
	if second[3].Execution.Deployment != "auth-service" {
		t.Fatalf("generated actions must not share the playbook spec")
	}
	if second[0].Execution != nil {
		t.Fatalf("vault restart step is advisory")
	}
}

func TestPackRejectsInvalidExecution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playbooks.yaml")
	if err := os.WriteFile(path, []byte(`playbooks:
  disk_full:
    - title: "Wipe node"
      risk_level: low
      execution:
        kind: run_remote_command
        host: node-1
        command: "rm -rf /var/lib/docker"
`), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if _, err := NewEngineFromFile(path, nil); err == nil {
		t.Fatalf("expected denied command to be rejected at load time")
	}

	if err := os.WriteFile(path, []byte(`playbooks:
  disk_full:
    - title: "Scale down batch"
      risk_level: medium
      execution: {kind: scale, deployment: batch-worker, replicas: 1}
`), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	engine, err := NewEngineFromFile(path, nil)
	if err != nil {
		t.Fatalf("valid execution rejected: %v", err)
	}
	actions := engine.Generate(models.Incident{ID: "inc-5", ScenarioType: "disk_full"})
	if actions[0].Execution == nil || actions[0].Execution.Replicas != 1 {
		t.Fatalf("unexpected execution: %+v", actions[0].Execution)
	}
}

func TestGenerateFreshIDsPerCall(t *testing.T) {
	engine := NewEngine(nil)
	incident := models.Incident{ID: "inc-3", ScenarioType: "api_auth_cascade"}
	first := engine.Generate(incident)
	second := engine.Generate(incident)
	if first[0].ID == second[0].ID {
		t.Fatalf("expected fresh ids on each call")
	}
}

func TestPackOverridesScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playbooks.yaml")
	if err := os.WriteFile(path, []byte(`playbooks:
  vault_auth_failure:
    - title: "Page the vault owner"
      description: "Vault is down"
      risk_level: low
  disk_full:
    - title: "Prune old images"
      command_hint: "docker image prune -af"
      risk_level: medium
`), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	engine, err := NewEngineFromFile(path, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	vault := engine.Generate(models.Incident{ScenarioType: "vault_auth_failure"})
	if len(vault) != 1 || vault[0].Title != "Page the vault owner" {
		t.Fatalf("expected override, got %+v", vault)
	}
	disk := engine.Generate(models.Incident{ScenarioType: "disk_full"})
	if len(disk) != 1 || disk[0].RiskLevel != models.RiskMedium {
		t.Fatalf("expected new scenario, got %+v", disk)
	}
	jwt := engine.Generate(models.Incident{ScenarioType: "database_jwt_missing"})
	if len(jwt) != 4 {
		t.Fatalf("built-in playbooks should survive overlay, got %d", len(jwt))
	}
}

func TestPackRequiresRiskLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playbooks.yaml")
	if err := os.WriteFile(path, []byte(`playbooks:
  disk_full:
    - title: "Prune old images"
`), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if _, err := NewEngineFromFile(path, nil); err == nil {
		t.Fatalf("expected error for step without risk level")
	}
}

func TestMissingPackKeepsDefaults(t *testing.T) {
	engine, err := NewEngineFromFile("non-existent.yaml", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := len(engine.Scenarios()); got != 3 {
		t.Fatalf("expected 3 built-in scenarios, got %d", got)
	}
}

func TestReloadFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playbooks.yaml")
	if err := os.WriteFile(path, []byte("playbooks:\n  disk_full:\n    - title: prune\n      risk_level: low\n"), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	engine, err := NewEngineFromFile(path, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := os.WriteFile(path, []byte("playbooks: [not a map"), 0o644); err != nil {
		t.Fatalf("rewrite pack: %v", err)
	}
	if err := engine.Reload(path); err == nil {
		t.Fatalf("expected parse error")
	}
	if got := engine.Generate(models.Incident{ScenarioType: "disk_full"}); len(got) != 1 || got[0].Title != "prune" {
		t.Fatalf("previous playbooks should be kept, got %+v", got)
	}
}
