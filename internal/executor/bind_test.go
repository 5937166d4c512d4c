package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

func restartAction() models.RemediationAction {
	return models.RemediationAction{
		ID:         "act-1",
		IncidentID: "inc-1",
		Title:      "Restart Auth Service Pods",
		Execution:  &models.ExecutionSpec{Kind: string(KindRestart), Deployment: "auth-service"},
	}
}

func TestBindRequestUsesStoredSpec(t *testing.T) {
	bound, err := BindRequest(restartAction(), Request{ActionID: "act-1"})
	require.NoError(t, err)
	assert.Equal(t, KindRestart, bound.Kind)
	assert.Equal(t, "auth-service", bound.Deployment)
	assert.Equal(t, "act-1", bound.ActionID)

	bound, err = BindRequest(restartAction(), Request{Kind: KindRestart, Deployment: "auth-service", Namespace: "default"})
	require.NoError(t, err)
	assert.Equal(t, "auth-service", bound.Deployment)
}

func TestBindRequestRejectsWidenedScope(t *testing.T) {
	cases := map[string]Request{
		"other kind":       {Kind: KindScale, Deployment: "auth-service"},
		"other deployment": {Deployment: "api-gateway"},
		"other namespace":  {Namespace: "kube-system"},
		"replicas":         {Replicas: 3},
		"host":             {Host: "db-1"},
		"command":          {Command: "kubectl delete ns prod"},
		"payload":          {Payload: map[string]any{"x": 1}},
		"headers":          {Headers: map[string]string{"Authorization": "Bearer x"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BindRequest(restartAction(), req)
			assert.ErrorIs(t, err, ErrRequestMismatch)
		})
	}
}

func TestBindRequestAdvisoryAction(t *testing.T) {
	action := restartAction()
	action.Execution = nil
	_, err := BindRequest(action, Request{Kind: KindScale, Deployment: "api-gateway"})
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestBindRequestDefaultWebhookPayload(t *testing.T) {
	action := restartAction()
	action.Execution = &models.ExecutionSpec{Kind: string(KindWebhook), URL: "https://hooks.example.com/page"}
	bound, err := BindRequest(action, Request{})
	require.NoError(t, err)
	assert.Equal(t, "act-1", bound.Payload["action_id"])
	assert.Equal(t, "inc-1", bound.Payload["incident_id"])

	action.Execution.Payload = map[string]any{"severity": "high"}
	bound, err = BindRequest(action, Request{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"severity": "high"}, bound.Payload)
}

func TestBindRequestDoesNotAliasSpec(t *testing.T) {
	action := restartAction()
	action.Execution = &models.ExecutionSpec{Kind: string(KindWebhook), URL: "https://hooks.example.com/page", Headers: map[string]string{"X-Team": "sre"}}
	bound, err := BindRequest(action, Request{})
	require.NoError(t, err)
	bound.Headers["X-Team"] = "other"
	assert.Equal(t, "sre", action.Execution.Headers["X-Team"])
}
