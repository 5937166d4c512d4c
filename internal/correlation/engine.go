// Package correlation turns a batch of related log events into one incident.
package correlation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/miradorstack/mirador-remediation/internal/graph"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

var tracer = otel.Tracer("mirador.remediation.correlation")

// ErrNoEvents is returned when Correlate is called with an empty batch.
var ErrNoEvents = errors.New("correlation requires at least one event")

// ScenarioUnknown tags incidents that matched no scenario pattern.
const ScenarioUnknown = "unknown"

const unknownTitle = "Correlated Incident - Multiple Service Failures"

// minKeywordMatches is applied to every pattern regardless of its keyword count.
const minKeywordMatches = 2

// ScenarioPattern is a keyword signature for a known failure scenario.
type ScenarioPattern struct {
	ID       string
	Title    string
	Keywords []string
}

// DefaultPatterns is evaluated in order; the first pattern reaching the match
// threshold wins, so reordering it changes classification.
var DefaultPatterns = []ScenarioPattern{
	{
		ID:       "vault_auth_failure",
		Title:    "Vault Authentication Failure - Cascading Service Disruption",
		Keywords: []string{"vault", "sealed", "unreachable", "authenticate with vault"},
	},
	{
		ID:       "database_jwt_missing",
		Title:    "JWT Signing Key Missing - Authentication Cascade",
		Keywords: []string{"jwt", "signing key", "token validation", "unauthorized"},
	},
	{
		ID:       "api_auth_cascade",
		Title:    "TLS Certificate Expiry - API Authentication Cascade",
		Keywords: []string{"tls", "certificate", "expired", "handshake"},
	},
}

var severityRank = map[models.EventSeverity]models.Severity{
	models.EventSeverityCritical: models.SeverityCritical,
	models.EventSeverityHigh:     models.SeverityHigh,
	models.EventSeverityMedium:   models.SeverityMedium,
	models.EventSeverityLow:      models.SeverityLow,
	models.EventSeverityInfo:     models.SeverityLow,
}

var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
}

// Engine correlates event batches. The dependency graph is consulted only to
// describe the blast radius in logs; it never affects classification.
type Engine struct {
	logger   *slog.Logger
	graph    *graph.Graph
	patterns []ScenarioPattern
	now      func() time.Time
}

// NewEngine constructs an Engine. A nil patterns slice selects DefaultPatterns.
func NewEngine(logger *slog.Logger, g *graph.Graph, patterns []ScenarioPattern) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if patterns == nil {
		patterns = DefaultPatterns
	}
	return &Engine{
		logger:   logger,
		graph:    g,
		patterns: patterns,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Correlate builds a detected incident from events.
func (e *Engine) Correlate(ctx context.Context, events []models.LogEvent) (models.Incident, error) {
	if len(events) == 0 {
		return models.Incident{}, ErrNoEvents
	}
	_, span := tracer.Start(ctx, "correlation.Correlate")
	defer span.End()

	sorted := sortByTimestamp(events)
	scenarioID, title := DetectScenario(e.patterns, events)
	now := e.now()

	eventIDs := make([]string, 0, len(events))
	for _, ev := range events {
		eventIDs = append(eventIDs, ev.ID)
	}

	incident := models.Incident{
		ID:               uuid.NewString(),
		Title:            title,
		Severity:         RollUpSeverity(events),
		Status:           models.IncidentDetected,
		EventIDs:         eventIDs,
		Timeline:         timelineFrom(sorted),
		AffectedServices: affectedFrom(sorted),
		ScenarioType:     scenarioID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	span.SetAttributes(
		attribute.String("incident.scenario", incident.ScenarioType),
		attribute.String("incident.severity", string(incident.Severity)),
		attribute.Int("incident.events", len(events)),
	)

	if e.graph != nil && len(incident.AffectedServices) > 0 {
		e.logger.Debug("incident blast radius",
			slog.String("incident_id", incident.ID),
			slog.String("first_service", incident.AffectedServices[0]),
			slog.Any("impact_path", e.graph.ImpactPath(incident.AffectedServices[0])))
	}
	return incident, nil
}

// DetectScenario returns the first pattern, in declaration order, with at
// least two keyword hits in the concatenated lower-cased messages.
func DetectScenario(patterns []ScenarioPattern, events []models.LogEvent) (id, title string) {
	messages := make([]string, 0, len(events))
	for _, ev := range events {
		messages = append(messages, strings.ToLower(ev.Message))
	}
	corpus := strings.Join(messages, " ")

	for _, pattern := range patterns {
		matches := 0
		for _, kw := range pattern.Keywords {
			if kw != "" && strings.Contains(corpus, strings.ToLower(kw)) {
				matches++
			}
		}
		if matches >= minKeywordMatches {
			return pattern.ID, pattern.Title
		}
	}
	return ScenarioUnknown, unknownTitle
}

// RollUpSeverity returns the highest incident severity present among events.
// Info maps to low; unrecognised severities are ignored.
func RollUpSeverity(events []models.LogEvent) models.Severity {
	present := make(map[models.Severity]bool, len(severityOrder))
	for _, ev := range events {
		if sev, ok := severityRank[ev.Severity]; ok {
			present[sev] = true
		}
	}
	for _, sev := range severityOrder {
		if present[sev] {
			return sev
		}
	}
	return models.SeverityLow
}

// BuildTimeline returns events as timeline entries sorted ascending by
// timestamp; equal timestamps keep their input order.
func BuildTimeline(events []models.LogEvent) []models.TimelineEntry {
	return timelineFrom(sortByTimestamp(events))
}

// AffectedServices returns each source service once, in order of first
// appearance after sorting by timestamp.
func AffectedServices(events []models.LogEvent) []string {
	return affectedFrom(sortByTimestamp(events))
}

func sortByTimestamp(events []models.LogEvent) []models.LogEvent {
	sorted := append([]models.LogEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func timelineFrom(sorted []models.LogEvent) []models.TimelineEntry {
	timeline := make([]models.TimelineEntry, 0, len(sorted))
	for _, ev := range sorted {
		timeline = append(timeline, models.TimelineEntry{
			Timestamp:     ev.Timestamp,
			SourceService: ev.SourceService,
			Event:         ev.Message,
			Severity:      ev.Severity,
		})
	}
	return timeline
}

func affectedFrom(sorted []models.LogEvent) []string {
	seen := make(map[string]struct{}, len(sorted))
	services := make([]string, 0, len(sorted))
	for _, ev := range sorted {
		if _, ok := seen[ev.SourceService]; ok {
			continue
		}
		seen[ev.SourceService] = struct{}{}
		services = append(services, ev.SourceService)
	}
	return services
}
