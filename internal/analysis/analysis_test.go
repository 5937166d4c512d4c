package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

func vaultIncident() models.Incident {
	ts := time.Date(2025, 1, 10, 14, 3, 7, 0, time.UTC)
	return models.Incident{
		ID:               "inc-1",
		ScenarioType:     "vault_auth_failure",
		AffectedServices: []string{"vault", "eso"},
		Timeline: []models.TimelineEntry{
			{Timestamp: ts, SourceService: "vault", Event: "vault is sealed", Severity: models.EventSeverityCritical},
			{Timestamp: ts.Add(time.Second), SourceService: "eso", Event: "failed to authenticate with vault", Severity: models.EventSeverityHigh},
		},
	}
}

func TestHeuristicKnownScenario(t *testing.T) {
	rca, err := Heuristic{}.Analyze(context.Background(), vaultIncident(), "")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, rca.ConfidenceScore, 1e-9)
	assert.Contains(t, rca.RootCause, "Vault")
	assert.Len(t, rca.ReasoningChain, 5)
}

func TestHeuristicUnknownScenarioUsesIncidentServices(t *testing.T) {
	inc := models.Incident{ScenarioType: "unknown", AffectedServices: []string{"billing", "ledger"}}
	rca, err := Heuristic{}.Analyze(context.Background(), inc, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, rca.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"billing", "ledger"}, rca.AffectedServices)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(vaultIncident(), "vault (secrets, tier 0)")
	assert.Contains(t, prompt, "[14:03:07] [CRITICAL] vault: vault is sealed")
	assert.Contains(t, prompt, "vault (secrets, tier 0)")
	assert.Contains(t, prompt, "Scenario Type: vault_auth_failure")

	unknown := BuildPrompt(models.Incident{ScenarioType: "unknown"}, "")
	assert.Contains(t, unknown, "Unclassified")
	assert.Contains(t, unknown, "No dependency information available.")
}

func chatServer(t *testing.T, content string, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   req["model"],
			"choices": []any{map[string]any{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOpenAIAnalyzerParsesJSON(t *testing.T) {
	srv, _ := chatServer(t, "```json\n{\"root_cause\":\"vault sealed\",\"summary\":\"s\",\"reasoning_chain\":[\"a\"],\"confidence_score\":1.4,\"affected_services\":[\"vault\"],\"impact_description\":\"i\"}\n```", http.StatusOK)

	a, err := NewOpenAIAnalyzer(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: time.Second}, nil)
	require.NoError(t, err)
	rca, err := a.Analyze(context.Background(), vaultIncident(), "")
	require.NoError(t, err)
	assert.Equal(t, "vault sealed", rca.RootCause)
	assert.Equal(t, 1.0, rca.ConfidenceScore)
	assert.Equal(t, []string{"vault"}, rca.AffectedServices)
}

func TestOpenAIAnalyzerRequiresKey(t *testing.T) {
	_, err := NewOpenAIAnalyzer(OpenAIConfig{}, nil)
	require.Error(t, err)
}

func TestFallbackOnUpstreamError(t *testing.T) {
	srv, calls := chatServer(t, "", http.StatusServiceUnavailable)
	primary, err := NewOpenAIAnalyzer(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: time.Second}, nil)
	require.NoError(t, err)

	f := &Fallback{Primary: primary, Secondary: Heuristic{}}
	rca, err := f.Analyze(context.Background(), vaultIncident(), "")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, rca.ConfidenceScore, 1e-9)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestFallbackOnMalformedContent(t *testing.T) {
	srv, _ := chatServer(t, "not json at all", http.StatusOK)
	primary, err := NewOpenAIAnalyzer(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	f := &Fallback{Primary: primary, Secondary: Heuristic{}}
	rca, err := f.Analyze(context.Background(), models.Incident{ScenarioType: "api_auth_cascade"}, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.93, rca.ConfidenceScore, 1e-9)
}

type countingAnalyzer struct {
	calls int
	err   error
}

func (c *countingAnalyzer) Name() string { return "counting" }

func (c *countingAnalyzer) Analyze(context.Context, models.Incident, string) (models.RootCauseAnalysis, error) {
	c.calls++
	if c.err != nil {
		return models.RootCauseAnalysis{}, c.err
	}
	return models.RootCauseAnalysis{RootCause: "cached cause", ConfidenceScore: 0.5}, nil
}

func TestCachedAnalyzer(t *testing.T) {
	inner := &countingAnalyzer{}
	c := NewCached(inner, cache.NewMemoryProvider(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rca, err := c.Analyze(ctx, vaultIncident(), "")
		require.NoError(t, err)
		assert.Equal(t, "cached cause", rca.RootCause)
	}
	assert.Equal(t, 1, inner.calls)

	other := vaultIncident()
	other.ID = "inc-2"
	_, err := c.Analyze(ctx, other, "")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedAnalyzerDoesNotCacheErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingAnalyzer{err: boom}
	c := NewCached(inner, nil, time.Minute)

	_, err := c.Analyze(context.Background(), vaultIncident(), "")
	assert.ErrorIs(t, err, boom)
	_, err = c.Analyze(context.Background(), vaultIncident(), "")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, inner.calls)
}
