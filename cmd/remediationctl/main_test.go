package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAuditVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log := executor.NewAuditLog(path)
	_, err := log.Append("scale_deployment", map[string]any{"deployment": "auth-service", "replicas": 3})
	require.NoError(t, err)
	_, err = log.Append("safety_check", map[string]any{"func": "scale", "approved": false})
	require.NoError(t, err)

	out, err := runCLI(t, "audit", "verify", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 2 records verified")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"replicas":3`, `"replicas":30`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	_, err = runCLI(t, "audit", "verify", path)
	require.Error(t, err)
	var corrupt *executor.CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, 1, corrupt.Line)
}

func TestGraphCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`services:
  - {id: vault}
  - {id: eso}
  - {id: api_gateway}
dependencies:
  - {from: vault, to: eso}
  - {from: eso, to: api_gateway}
`), 0o600))

	out, err := runCLI(t, "graph", "impact", "vault", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, "vault -> eso -> api_gateway\n", out)

	out, err = runCLI(t, "graph", "chain", "api_gateway", "vault", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, "api_gateway <- eso <- vault\n", out)

	_, err = runCLI(t, "graph", "chain", "vault", "api_gateway", "--file", path)
	assert.Error(t, err)
}

func TestCorrelateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"source_service": "auth_service", "message": "JWT signing key not found", "timestamp": "2025-01-10T12:00:05Z"},
  {"source_service": "vault", "message": "lease renewal failed", "severity": "high", "timestamp": "2025-01-10T12:00:00Z"},
  {"source_service": "user_service", "message": "401 unauthorized", "timestamp": "2025-01-10T12:00:09Z"}
]`), 0o600))

	out, err := runCLI(t, "correlate", path)
	require.NoError(t, err)

	var incidents []models.Incident
	require.NoError(t, json.Unmarshal([]byte(out), &incidents))
	require.Len(t, incidents, 1)
	assert.Equal(t, "database_jwt_missing", incidents[0].ScenarioType)
	assert.Equal(t, []string{"vault", "auth_service", "user_service"}, incidents[0].AffectedServices)
	assert.Equal(t, models.SeverityHigh, incidents[0].Severity)
}
