package analysis

import (
	"context"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// Heuristic returns canned analyses keyed by scenario. It never fails and
// needs no network, so it backs the model-driven analyzer.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }

func (Heuristic) Analyze(_ context.Context, incident models.Incident, _ string) (models.RootCauseAnalysis, error) {
	if known, ok := knownScenarios[incident.ScenarioType]; ok {
		out := known
		out.ReasoningChain = append([]string(nil), known.ReasoningChain...)
		out.AffectedServices = append([]string(nil), known.AffectedServices...)
		return out, nil
	}
	return models.RootCauseAnalysis{
		RootCause: "Unable to determine root cause: insufficient event data or unknown scenario",
		Summary:   "Multiple service failures detected across the infrastructure. Manual investigation recommended.",
		ReasoningChain: []string{
			"1. Multiple error events detected across services",
			"2. Event correlation suggests a cascading failure pattern",
			"3. Root cause could not be automatically determined",
		},
		ConfidenceScore:   0.3,
		AffectedServices:  append([]string(nil), incident.AffectedServices...),
		ImpactDescription: "Service degradation detected. Impact scope unknown.",
	}, nil
}

var knownScenarios = map[string]models.RootCauseAnalysis{
	"vault_auth_failure": {
		RootCause: "HashiCorp Vault instance became sealed/unreachable, preventing ESO from authenticating and syncing secrets",
		Summary: "Vault service failure caused a cascading authentication breakdown. ESO lost access to secrets, " +
			"database credentials expired without rotation, and the auth service could not establish new database " +
			"connections. This propagated to the API gateway as a full service outage.",
		ReasoningChain: []string{
			"1. Vault pod (vault-0) began returning 503 on the authentication endpoint /v1/auth/kubernetes/login",
			"2. External Secrets Operator (ESO) failed to authenticate with Vault after 3 retries; SecretStore status changed to Error",
			"3. Database credentials managed by ESO could not be rotated; ExternalSecret sync failed",
			"4. Auth service's database connection pool was exhausted as existing credentials expired (FATAL: password authentication failed)",
			"5. API Gateway health checks detected auth-service failure, circuit breaker opened (502 Bad Gateway)",
		},
		ConfidenceScore:  0.95,
		AffectedServices: []string{"vault", "eso", "database", "auth_service", "api_gateway"},
		ImpactDescription: "Complete authentication service outage. All API requests through the gateway are failing " +
			"with 502. 47 requests queued waiting for database connections. User-facing services are fully degraded.",
	},
	"database_jwt_missing": {
		RootCause: "JWT signing key lease in Vault expired and automatic renewal failed, removing all signing keys from the auth service keystore",
		Summary: "JWT signing key lifecycle failure caused a complete authentication breakdown. The auth service lost its " +
			"ability to validate tokens, rejecting 99.8% of requests. This cascaded to all authenticated services and " +
			"breached the P1 SLA threshold.",
		ReasoningChain: []string{
			"1. Vault JWT signing key lease expired; automatic renewal returned 'lease not found' error",
			"2. Auth service keystore became empty (0 signing keys); all JWT verification began failing",
			"3. Token validation endpoint began rejecting all requests at 342 req/s (99.8% error rate)",
			"4. User service lost authentication capability: 1,247 failed requests affecting 89 users",
			"5. API Gateway error rate hit 99.1%, breaching the 0.1% SLA threshold; P1 alert triggered",
		},
		ConfidenceScore:  0.92,
		AffectedServices: []string{"vault", "auth_service", "user_service", "api_gateway"},
		ImpactDescription: "Complete authentication outage affecting all authenticated API calls. 89 active users " +
			"impacted. P1 SLA breach triggered. Error rate at 99.1% across the gateway.",
	},
	"api_auth_cascade": {
		RootCause: "TLS certificate for api-gateway.prod expired due to ACME challenge failure in cert-manager, preventing all client connections",
		Summary: "Certificate renewal failure caused the API gateway TLS certificate to expire. All client connections " +
			"were rejected with SSL errors, and the OAuth callback flow broke due to mTLS validation failure. User " +
			"service degraded to cache-only mode.",
		ReasoningChain: []string{
			"1. Cert-manager failed to renew TLS certificate; ACME challenge failed for api-gateway.prod",
			"2. API Gateway TLS certificate expired, causing handshake failures at 523 errors/sec",
			"3. 2,341 client connections rejected with SSL_ERROR_EXPIRED_CERT_ALERT across 156 clients",
			"4. Auth service OAuth callback endpoint became unreachable; mTLS peer certificate validation failing",
			"5. User service experienced 67% timeout rate, circuit breaker entered half-open state, falling back to cache",
		},
		ConfidenceScore:  0.93,
		AffectedServices: []string{"cert_manager", "api_gateway", "auth_service", "user_service"},
		ImpactDescription: "API gateway fully inaccessible via HTTPS. 156 clients unable to connect. OAuth " +
			"authentication flow broken. User service degraded to stale cached data.",
	},
}
