package correlation

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/graph"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func event(id, service string, sev models.EventSeverity, offset time.Duration, msg string) models.LogEvent {
	return models.LogEvent{ID: id, SourceService: service, Severity: sev, Message: msg, Timestamp: base.Add(offset)}
}

func vaultEvents() []models.LogEvent {
	return []models.LogEvent{
		event("e3", "auth_service", models.EventSeverityHigh, 20*time.Second, "FATAL: password authentication failed"),
		event("e1", "vault", models.EventSeverityCritical, 0, "Vault is sealed, returning 503"),
		event("e2", "eso", models.EventSeverityHigh, 10*time.Second, "failed to authenticate with vault: vault unreachable"),
		event("e4", "api_gateway", models.EventSeverityMedium, 30*time.Second, "upstream auth_service returned 502"),
	}
}

func TestCorrelateVaultScenario(t *testing.T) {
	g := graph.New()
	g.AddEdge(models.DependencyEdge{From: "vault", To: "eso"})
	engine := NewEngine(nil, g, nil)

	incident, err := engine.Correlate(context.Background(), vaultEvents())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if incident.ScenarioType != "vault_auth_failure" {
		t.Fatalf("unexpected scenario: %s", incident.ScenarioType)
	}
	if incident.Severity != models.SeverityCritical {
		t.Fatalf("unexpected severity: %s", incident.Severity)
	}
	if incident.Status != models.IncidentDetected {
		t.Fatalf("unexpected status: %s", incident.Status)
	}
	if incident.ID == "" {
		t.Fatalf("expected incident id")
	}
	wantServices := []string{"vault", "eso", "auth_service", "api_gateway"}
	if !reflect.DeepEqual(incident.AffectedServices, wantServices) {
		t.Fatalf("unexpected affected services: %v", incident.AffectedServices)
	}
	if !reflect.DeepEqual(incident.EventIDs, []string{"e3", "e1", "e2", "e4"}) {
		t.Fatalf("event ids should keep input order: %v", incident.EventIDs)
	}
	if len(incident.Timeline) != 4 || incident.Timeline[0].SourceService != "vault" {
		t.Fatalf("unexpected timeline: %+v", incident.Timeline)
	}
}

func TestCorrelateEmpty(t *testing.T) {
	_, err := NewEngine(nil, nil, nil).Correlate(context.Background(), nil)
	if !errors.Is(err, ErrNoEvents) {
		t.Fatalf("expected ErrNoEvents, got %v", err)
	}
}

func TestDetectScenarioThreshold(t *testing.T) {
	cases := []struct {
		name     string
		messages []string
		want     string
	}{
		{"jwt", []string{"jwt verification failed", "no signing key available"}, "database_jwt_missing"},
		{"tls", []string{"TLS handshake error", "remote error"}, "api_auth_cascade"},
		{"single keyword", []string{"certificate rotated"}, ScenarioUnknown},
		{"one keyword repeated", []string{"vault", "vault", "vault"}, ScenarioUnknown},
		{"nothing", []string{"disk 80% full", "gc pause"}, ScenarioUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := make([]models.LogEvent, 0, len(tc.messages))
			for i, msg := range tc.messages {
				events = append(events, event("e", "svc", models.EventSeverityInfo, time.Duration(i), msg))
			}
			got, title := DetectScenario(DefaultPatterns, events)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if title == "" {
				t.Fatalf("expected a title")
			}
		})
	}
}

func TestDetectScenarioFirstMatchWins(t *testing.T) {
	// Matches vault (vault, sealed) and tls (certificate, expired) equally; the
	// vault pattern is declared first.
	events := []models.LogEvent{
		event("e1", "vault", models.EventSeverityHigh, 0, "vault sealed"),
		event("e2", "gw", models.EventSeverityHigh, time.Second, "certificate expired"),
	}
	if id, _ := DetectScenario(DefaultPatterns, events); id != "vault_auth_failure" {
		t.Fatalf("expected declaration order to win, got %s", id)
	}

	reversed := []ScenarioPattern{DefaultPatterns[2], DefaultPatterns[1], DefaultPatterns[0]}
	if id, _ := DetectScenario(reversed, events); id != "api_auth_cascade" {
		t.Fatalf("expected reordered patterns to change the winner, got %s", id)
	}
}

func TestDetectScenarioMatchesAcrossMessages(t *testing.T) {
	events := []models.LogEvent{
		event("e1", "auth", models.EventSeverityHigh, 0, "JWT rejected"),
		event("e2", "gw", models.EventSeverityHigh, time.Second, "401 Unauthorized"),
	}
	if id, _ := DetectScenario(DefaultPatterns, events); id != "database_jwt_missing" {
		t.Fatalf("expected keywords from separate messages to combine, got %s", id)
	}
}

func TestRollUpSeverity(t *testing.T) {
	cases := []struct {
		sevs []models.EventSeverity
		want models.Severity
	}{
		{[]models.EventSeverity{models.EventSeverityInfo, models.EventSeverityHigh, models.EventSeverityLow}, models.SeverityHigh},
		{[]models.EventSeverity{models.EventSeverityInfo}, models.SeverityLow},
		{[]models.EventSeverity{models.EventSeverityMedium, models.EventSeverityInfo}, models.SeverityMedium},
		{[]models.EventSeverity{models.EventSeverityLow, models.EventSeverityCritical}, models.SeverityCritical},
	}
	for _, tc := range cases {
		events := make([]models.LogEvent, 0, len(tc.sevs))
		for _, sev := range tc.sevs {
			events = append(events, models.LogEvent{Severity: sev})
		}
		if got := RollUpSeverity(events); got != tc.want {
			t.Fatalf("severities %v: expected %s, got %s", tc.sevs, tc.want, got)
		}
	}
}

func TestTimelineSortedForAnyPermutation(t *testing.T) {
	events := vaultEvents()
	want := BuildTimeline(events)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.LogEvent(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		timeline := BuildTimeline(shuffled)
		for j := 1; j < len(timeline); j++ {
			if timeline[j].Timestamp.Before(timeline[j-1].Timestamp) {
				t.Fatalf("timeline not sorted: %+v", timeline)
			}
		}
		if !reflect.DeepEqual(timeline, want) {
			t.Fatalf("timeline depends on input order for distinct timestamps")
		}
		if got := AffectedServices(shuffled); !reflect.DeepEqual(got, []string{"vault", "eso", "auth_service", "api_gateway"}) {
			t.Fatalf("unexpected affected services: %v", got)
		}
	}
}

func TestTimelineStableForEqualTimestamps(t *testing.T) {
	events := []models.LogEvent{
		event("a", "svc-b", models.EventSeverityInfo, time.Second, "second"),
		event("b", "svc-a", models.EventSeverityInfo, 0, "tie one"),
		event("c", "svc-c", models.EventSeverityInfo, 0, "tie two"),
	}
	timeline := BuildTimeline(events)
	got := []string{timeline[0].Event, timeline[1].Event, timeline[2].Event}
	if !reflect.DeepEqual(got, []string{"tie one", "tie two", "second"}) {
		t.Fatalf("equal timestamps must keep input order: %v", got)
	}
	if services := AffectedServices(events); !reflect.DeepEqual(services, []string{"svc-a", "svc-c", "svc-b"}) {
		t.Fatalf("affected services must follow sorted order: %v", services)
	}
}

func TestAffectedServicesUnique(t *testing.T) {
	events := []models.LogEvent{
		event("1", "gw", models.EventSeverityInfo, 3*time.Second, "x"),
		event("2", "db", models.EventSeverityInfo, time.Second, "x"),
		event("3", "gw", models.EventSeverityInfo, 0, "x"),
		event("4", "db", models.EventSeverityInfo, 2*time.Second, "x"),
	}
	if got := AffectedServices(events); !reflect.DeepEqual(got, []string{"gw", "db"}) {
		t.Fatalf("unexpected services: %v", got)
	}
}
