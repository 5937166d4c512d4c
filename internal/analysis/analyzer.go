// Package analysis produces root cause analyses for correlated incidents.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

// Analyzer explains an incident. serviceContext is a human-readable
// description of the affected services and their dependencies.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, incident models.Incident, serviceContext string) (models.RootCauseAnalysis, error)
}

// Fallback tries Primary and falls back to Secondary on any error.
type Fallback struct {
	Primary   Analyzer
	Secondary Analyzer
	Logger    *slog.Logger
}

func (f *Fallback) Name() string { return f.Primary.Name() + "+" + f.Secondary.Name() }

func (f *Fallback) Analyze(ctx context.Context, incident models.Incident, serviceContext string) (models.RootCauseAnalysis, error) {
	rca, err := observe(ctx, f.Primary, incident, serviceContext)
	if err == nil {
		return rca, nil
	}
	if ctx.Err() != nil {
		return models.RootCauseAnalysis{}, ctx.Err()
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("primary analyzer failed, falling back",
		slog.String("incident_id", incident.ID),
		slog.String("primary", f.Primary.Name()),
		slog.Any("error", err))
	return observe(ctx, f.Secondary, incident, serviceContext)
}

func observe(ctx context.Context, a Analyzer, incident models.Incident, serviceContext string) (models.RootCauseAnalysis, error) {
	start := time.Now()
	rca, err := a.Analyze(ctx, incident, serviceContext)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveAnalysis(a.Name(), outcome, time.Since(start))
	return rca, err
}

// Cached memoises analyses per incident and scenario.
type Cached struct {
	next  Analyzer
	cache cache.Provider
	ttl   time.Duration
}

// NewCached wraps next with a cache. A nil provider disables caching.
func NewCached(next Analyzer, provider cache.Provider, ttl time.Duration) *Cached {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &Cached{next: next, cache: provider, ttl: ttl}
}

func (c *Cached) Name() string { return c.next.Name() }

func (c *Cached) Analyze(ctx context.Context, incident models.Incident, serviceContext string) (models.RootCauseAnalysis, error) {
	key := fmt.Sprintf("rca:%s:%s", incident.ID, incident.ScenarioType)
	var cached models.RootCauseAnalysis
	err := cache.GetJSON(ctx, c.cache, key, &cached)
	if err == nil {
		return cached, nil
	}

	rca, err := c.next.Analyze(ctx, incident, serviceContext)
	if err != nil {
		return models.RootCauseAnalysis{}, err
	}
	// A failed write only costs a recomputation next time.
	_ = cache.SetJSON(ctx, c.cache, key, rca, c.ttl)
	return rca, nil
}

// ErrEmptyResponse is returned when the model produced no usable content.
var ErrEmptyResponse = errors.New("analyzer returned an empty response")

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
