package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// OpenAIConfig configures any OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIAnalyzer asks a chat model for a JSON root cause analysis.
type OpenAIAnalyzer struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIAnalyzer returns an analyzer for cfg. The API key is required.
func NewOpenAIAnalyzer(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("analyzer api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.3-70b-versatile"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger.Info("initialising analyzer", slog.String("model", cfg.Model), slog.String("base_url", clientCfg.BaseURL))
	return &OpenAIAnalyzer{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

func (a *OpenAIAnalyzer) Name() string { return "openai" }

type modelResponse struct {
	RootCause         string   `json:"root_cause"`
	Summary           string   `json:"summary"`
	ReasoningChain    []string `json:"reasoning_chain"`
	ConfidenceScore   float64  `json:"confidence_score"`
	AffectedServices  []string `json:"affected_services"`
	ImpactDescription string   `json:"impact_description"`
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, incident models.Incident, serviceContext string) (models.RootCauseAnalysis, error) {
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(incident, serviceContext)},
		},
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.RootCauseAnalysis{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return models.RootCauseAnalysis{}, ErrEmptyResponse
	}
	a.logger.Debug("analysis received",
		slog.String("incident_id", incident.ID),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)))

	var out modelResponse
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &out); err != nil {
		return models.RootCauseAnalysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if out.RootCause == "" && out.Summary == "" {
		return models.RootCauseAnalysis{}, ErrEmptyResponse
	}
	affected := out.AffectedServices
	if len(affected) == 0 {
		affected = append([]string(nil), incident.AffectedServices...)
	}
	return models.RootCauseAnalysis{
		Summary:           out.Summary,
		ReasoningChain:    out.ReasoningChain,
		RootCause:         out.RootCause,
		ConfidenceScore:   clampConfidence(out.ConfidenceScore),
		AffectedServices:  affected,
		ImpactDescription: out.ImpactDescription,
	}, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
