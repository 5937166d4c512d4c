package services

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

type sampleEvent struct {
	offset   time.Duration
	service  string
	severity models.EventSeverity
	message  string
	metadata map[string]string
}

// sampleScenarios are the built-in demo incidents replayed by Simulate.
var sampleScenarios = map[string][]sampleEvent{
	"vault_auth_failure": {
		{0, "vault", models.EventSeverityCritical, "Vault is sealed: 503 Service Unavailable on /v1/auth/kubernetes/login", map[string]string{"pod": "vault-0"}},
		{4 * time.Second, "eso", models.EventSeverityHigh, "SecretStore vault-backend: failed to authenticate with vault after 3 retries", map[string]string{"secretstore": "vault-backend"}},
		{9 * time.Second, "eso", models.EventSeverityHigh, "ExternalSecret db-credentials sync failed: vault unreachable", nil},
		{21 * time.Second, "database", models.EventSeverityHigh, "FATAL: password authentication failed for user \"auth_svc\"", nil},
		{26 * time.Second, "auth_service", models.EventSeverityCritical, "connection pool exhausted: 47 requests waiting for database connection", nil},
		{32 * time.Second, "api_gateway", models.EventSeverityCritical, "upstream auth-service unhealthy, circuit breaker open: 502 Bad Gateway", nil},
	},
	"database_jwt_missing": {
		{0, "vault", models.EventSeverityHigh, "lease renewal failed for auth/jwt/signing: lease not found", nil},
		{3 * time.Second, "auth_service", models.EventSeverityCritical, "JWT signing key not found in keystore (0 keys loaded)", nil},
		{7 * time.Second, "auth_service", models.EventSeverityCritical, "token validation failed for 342 req/s: 401 Unauthorized", nil},
		{15 * time.Second, "user_service", models.EventSeverityHigh, "1247 requests rejected as unauthorized by auth-service", nil},
		{22 * time.Second, "api_gateway", models.EventSeverityCritical, "error rate 99.1% exceeds SLA threshold, P1 alert triggered", nil},
	},
	"api_auth_cascade": {
		{0, "cert_manager", models.EventSeverityHigh, "ACME challenge failed for api-gateway.prod: certificate not renewed", nil},
		{6 * time.Second, "api_gateway", models.EventSeverityCritical, "TLS certificate for api-gateway.prod has expired", nil},
		{8 * time.Second, "api_gateway", models.EventSeverityCritical, "TLS handshake failed: SSL_ERROR_EXPIRED_CERT_ALERT (523 errors/sec)", nil},
		{14 * time.Second, "auth_service", models.EventSeverityHigh, "OAuth callback: mTLS peer certificate validation failed", nil},
		{20 * time.Second, "user_service", models.EventSeverityMedium, "auth provider unavailable, serving profiles from cache only", nil},
	},
}

// SampleScenarios lists the scenario ids Simulate accepts.
func SampleScenarios() []string {
	ids := make([]string, 0, len(sampleScenarios))
	for id := range sampleScenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sampleRawEvents(scenario string, base time.Time) []models.RawEvent {
	samples := sampleScenarios[scenario]
	out := make([]models.RawEvent, 0, len(samples))
	for _, s := range samples {
		out = append(out, models.RawEvent{
			SourceService: s.service,
			Severity:      s.severity,
			Message:       s.message,
			Metadata:      s.metadata,
			Timestamp:     base.Add(s.offset),
		})
	}
	return out
}
