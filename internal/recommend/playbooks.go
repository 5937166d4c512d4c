package recommend

import "github.com/miradorstack/mirador-remediation/internal/models"

// fallbackPlaybook is used for any scenario without a playbook.
var fallbackPlaybook = []PlaybookStep{
	{
		Title: "Manual Investigation Required",
		Description: "Unable to automatically generate recommendations for this incident type. " +
			"Investigate affected services manually and check logs for more details.",
		RiskLevel: models.RiskLow,
	},
	{
		Title:       "Escalate to On-Call Engineer",
		Description: "Escalate this incident to the on-call SRE for manual triage.",
		RiskLevel:   models.RiskLow,
	},
}

func defaultPlaybooks() map[string][]PlaybookStep {
	return map[string][]PlaybookStep{
		"vault_auth_failure": {
			{
				Title:               "Unseal / Restart Vault",
				Description:         "Check Vault seal status and unseal if necessary. If the Vault pod is unresponsive, perform a controlled restart of the vault-0 pod.",
				CommandHint:         "kubectl exec -it vault-0 -- vault status && kubectl delete pod vault-0",
				RiskLevel:           models.RiskHigh,
				RollbackDescription: "If Vault enters a bad state after restart, restore from the last Raft snapshot backup.",
			},
			{
				Title:               "Reconcile ESO SecretStore",
				Description:         "Force External Secrets Operator to reconcile the vault-backend SecretStore and verify connectivity to Vault.",
				CommandHint:         "kubectl annotate secretstore vault-backend force-sync=$(date +%s) --overwrite",
				RiskLevel:           models.RiskLow,
				RollbackDescription: "Remove the force-sync annotation if reconciliation causes issues.",
			},
			{
				Title:               "Rotate Database Credentials",
				Description:         "Manually rotate the database credentials if automatic rotation via ESO cannot be restored in time.",
				CommandHint:         "kubectl create secret generic db-credentials --from-literal=password=$(openssl rand -base64 32) --dry-run=client -o yaml | kubectl apply -f -",
				RiskLevel:           models.RiskMedium,
				RollbackDescription: "Restore previous database credentials from the Vault KV store.",
			},
			{
				Title:               "Restart Auth Service Pods",
				Description:         "After credentials are restored, restart auth-service pods to reinitialize the database connection pool.",
				CommandHint:         "kubectl rollout restart deployment/auth-service",
				RiskLevel:           models.RiskLow,
				RollbackDescription: "Rollback deployment: kubectl rollout undo deployment/auth-service",
				Execution:           &models.ExecutionSpec{Kind: "restart", Deployment: "auth-service"},
			},
		},
		"database_jwt_missing": {
			{
				Title:               "Create New JWT Signing Key",
				Description:         "Manually create a new JWT signing key in Vault's transit engine or KV store.",
				CommandHint:         "vault write transit/keys/jwt-signing type=ecdsa-p256",
				RiskLevel:           models.RiskMedium,
				RollbackDescription: "Delete the newly created key if it causes signature mismatches.",
				Execution:           &models.ExecutionSpec{Kind: "run_remote_command", Host: "vault-0", Command: "vault write transit/keys/jwt-signing type=ecdsa-p256"},
			},
			{
				Title:               "Restart Auth Service",
				Description:         "Restart auth-service pods to force reload of signing keys from Vault.",
				CommandHint:         "kubectl rollout restart deployment/auth-service",
				RiskLevel:           models.RiskLow,
				RollbackDescription: "Rollback: kubectl rollout undo deployment/auth-service",
				Execution:           &models.ExecutionSpec{Kind: "restart", Deployment: "auth-service"},
			},
			{
				Title:               "Reset API Gateway Circuit Breaker",
				Description:         "Once auth-service is healthy, reset the API gateway circuit breaker to restore traffic flow.",
				CommandHint:         "kubectl exec -it api-gateway-0 -- curl -X POST localhost:9901/reset_circuit_breaker",
				RiskLevel:           models.RiskLow,
				RollbackDescription: "Circuit breaker will automatically re-engage if failures continue.",
				Execution:           &models.ExecutionSpec{Kind: "run_remote_command", Host: "api-gateway-0", Command: "curl -X POST localhost:9901/reset_circuit_breaker"},
			},
			{
				Title:               "Audit Vault Lease Configuration",
				Description:         "Review and extend the JWT signing key lease TTL to prevent future expiry.",
				CommandHint:         "vault read sys/leases/lookup -format=json | jq '.data'",
				RiskLevel:           models.RiskLow,
				RollbackDescription: "No rollback needed, this is an audit action.",
			},
		},
		"api_auth_cascade": {
			{
				Title:               "Emergency TLS Certificate Renewal",
				Description:         "Manually trigger certificate renewal or issue an emergency certificate via cert-manager.",
				CommandHint:         "kubectl delete certificate api-gateway-tls && kubectl apply -f certificate.yaml",
				RiskLevel:           models.RiskMedium,
				RollbackDescription: "Restore the previous certificate secret from backup.",
			},
			{
				Title:               "Investigate ACME Challenge Failure",
				Description:         "Check cert-manager logs and DNS configuration to determine why the ACME challenge failed.",
				CommandHint:         "kubectl logs -l app=cert-manager -n cert-manager --tail=100",
				RiskLevel:           models.RiskLow,
				RollbackDescription: "No rollback needed, this is a diagnostic action.",
			},
			{
				Title:               "Restart API Gateway",
				Description:         "After the certificate is renewed, restart API gateway pods to load the new certificate.",
				CommandHint:         "kubectl rollout restart deployment/api-gateway",
				RiskLevel:           models.RiskMedium,
				RollbackDescription: "Rollback: kubectl rollout undo deployment/api-gateway",
				Execution:           &models.ExecutionSpec{Kind: "restart", Deployment: "api-gateway"},
			},
			{
				Title:               "Implement Certificate Expiry Alerting",
				Description:         "Add Prometheus alerting for certificates expiring within 7 days to prevent future incidents.",
				CommandHint:         "kubectl apply -f cert-expiry-alert-rule.yaml",
				RiskLevel:           models.RiskLow,
				RollbackDescription: "Delete the alert rule if it generates false positives.",
			},
		},
	}
}
