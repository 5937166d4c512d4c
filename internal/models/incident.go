package models

import "time"

// Severity captures incident impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentStatus tracks an incident through analysis and remediation.
type IncidentStatus string

const (
	IncidentDetected       IncidentStatus = "detected"
	IncidentAnalyzing      IncidentStatus = "analyzing"
	IncidentAnalyzed       IncidentStatus = "analyzed"
	IncidentActionsPending IncidentStatus = "actions_pending"
	IncidentResolved       IncidentStatus = "resolved"
)

// Incident is a correlated group of events representing one failure episode.
type Incident struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Severity          Severity           `json:"severity"`
	Status            IncidentStatus     `json:"status"`
	EventIDs          []string           `json:"event_ids"`
	Timeline          []TimelineEntry    `json:"timeline"`
	AffectedServices  []string           `json:"affected_services"`
	ScenarioType      string             `json:"scenario_type"`
	RootCauseAnalysis *RootCauseAnalysis `json:"root_cause_analysis,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// TimelineEntry is a read-only snapshot of one event that formed an incident.
type TimelineEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	SourceService string        `json:"source_service"`
	Event         string        `json:"event"`
	Severity      EventSeverity `json:"severity"`
}

// RootCauseAnalysis is produced by the analysis collaborator and only stored here.
type RootCauseAnalysis struct {
	Summary           string   `json:"summary"`
	ReasoningChain    []string `json:"reasoning_chain"`
	RootCause         string   `json:"root_cause"`
	ConfidenceScore   float64  `json:"confidence_score"`
	AffectedServices  []string `json:"affected_services"`
	ImpactDescription string   `json:"impact_description"`
}

// IncidentStats summarises stored incidents.
type IncidentStats struct {
	Total      int                    `json:"total_incidents"`
	BySeverity map[Severity]int       `json:"by_severity"`
	ByStatus   map[IncidentStatus]int `json:"by_status"`
}

// FailurePattern is a service that keeps showing up in incident history.
type FailurePattern struct {
	ID          string         `json:"id"`
	Service     string         `json:"service"`
	Incidents   int            `json:"incidents"`
	Prevalence  float64        `json:"prevalence"`
	Score       float64        `json:"score"`
	Hotspot     bool           `json:"hotspot"`
	RootCause   int            `json:"root_cause"`
	Scenarios   map[string]int `json:"scenarios"`
	TopScenario string         `json:"top_scenario,omitempty"`
	LastSeen    time.Time      `json:"last_seen"`
}
