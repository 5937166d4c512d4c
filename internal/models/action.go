package models

import "time"

// RiskLevel rates an action's potential for harm. Only low risk may be auto-approved.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// ApprovalStatus is the authorization state of a remediation action.
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
	ApprovalRolledBack ApprovalStatus = "rolled_back"
)

// RemediationAction is a candidate fix for an incident.
type RemediationAction struct {
	ID                  string         `json:"id"`
	IncidentID          string         `json:"incident_id"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	CommandHint         string         `json:"command_hint"`
	RiskLevel           RiskLevel      `json:"risk_level"`
	ApprovalStatus      ApprovalStatus `json:"approval_status"`
	ApprovedBy          string         `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time     `json:"approved_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	RollbackDescription string         `json:"rollback_description"`
	// Execution is the side effect an approval authorizes. Actions without
	// one are advisory and cannot be executed.
	Execution *ExecutionSpec `json:"execution,omitempty"`
	// LastExecution records the most recent executor call made under this action.
	LastExecution *ExecutionRecord `json:"last_execution,omitempty"`
}

// ExecutionSpec pins the kind and parameters of an executable action.
type ExecutionSpec struct {
	Kind       string            `json:"kind" yaml:"kind"`
	Namespace  string            `json:"namespace,omitempty" yaml:"namespace"`
	Deployment string            `json:"deployment,omitempty" yaml:"deployment"`
	Replicas   int               `json:"replicas,omitempty" yaml:"replicas"`
	Manifest   string            `json:"manifest,omitempty" yaml:"manifest"`
	Host       string            `json:"host,omitempty" yaml:"host"`
	User       string            `json:"user,omitempty" yaml:"user"`
	Port       int               `json:"port,omitempty" yaml:"port"`
	Command    string            `json:"command,omitempty" yaml:"command"`
	URL        string            `json:"url,omitempty" yaml:"url"`
	Payload    map[string]any    `json:"payload,omitempty" yaml:"payload"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers"`
}

// Clone returns a deep copy of s.
func (s *ExecutionSpec) Clone() *ExecutionSpec {
	if s == nil {
		return nil
	}
	out := *s
	if s.Payload != nil {
		out.Payload = make(map[string]any, len(s.Payload))
		for k, v := range s.Payload {
			out.Payload[k] = v
		}
	}
	if s.Headers != nil {
		out.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}

// ExecutionRecord summarises one executor call made under an action.
type ExecutionRecord struct {
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	DryRun  bool      `json:"dry_run"`
	Success bool      `json:"success"`
}

// ActionResult is the outcome of a single executor call. It is never persisted.
type ActionResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	DryRun  bool   `json:"dry_run"`
}
