// Package postmortem writes one JSON report per incident: what was seen, what
// the analysis concluded and which actions were approved and run.
package postmortem

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// Report is the on-disk post-mortem document.
type Report struct {
	IncidentID       string                 `json:"incident_id"`
	Title            string                 `json:"title"`
	Severity         models.Severity        `json:"severity"`
	Status           models.IncidentStatus  `json:"status"`
	ScenarioType     string                 `json:"scenario_type,omitempty"`
	OpenedAt         time.Time              `json:"opened_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	GeneratedAt      time.Time              `json:"generated_at"`
	Summary          string                 `json:"summary,omitempty"`
	RootCause        string                 `json:"root_cause,omitempty"`
	ReasoningChain   []string               `json:"reasoning_chain,omitempty"`
	Confidence       float64                `json:"confidence"`
	Impact           string                 `json:"impact,omitempty"`
	AffectedServices []string               `json:"affected_services"`
	Timeline         []models.TimelineEntry `json:"timeline"`
	Actions          []ActionTaken          `json:"actions"`
}

// ActionTaken summarises one remediation action and its last execution.
type ActionTaken struct {
	ID             string                  `json:"id"`
	Title          string                  `json:"title"`
	RiskLevel      models.RiskLevel        `json:"risk_level"`
	ApprovalStatus models.ApprovalStatus   `json:"approval_status"`
	ApprovedBy     string                  `json:"approved_by,omitempty"`
	Executable     bool                    `json:"executable"`
	LastExecution  *models.ExecutionRecord `json:"last_execution,omitempty"`
}

// Build assembles the report for incident and its actions.
func Build(incident models.Incident, actions []models.RemediationAction, now time.Time) Report {
	r := Report{
		IncidentID:       incident.ID,
		Title:            incident.Title,
		Severity:         incident.Severity,
		Status:           incident.Status,
		ScenarioType:     incident.ScenarioType,
		OpenedAt:         incident.CreatedAt,
		UpdatedAt:        incident.UpdatedAt,
		GeneratedAt:      now.UTC(),
		AffectedServices: append([]string{}, incident.AffectedServices...),
		Timeline:         append([]models.TimelineEntry{}, incident.Timeline...),
		Actions:          make([]ActionTaken, 0, len(actions)),
	}
	if rca := incident.RootCauseAnalysis; rca != nil {
		r.Summary = rca.Summary
		r.RootCause = rca.RootCause
		r.ReasoningChain = append([]string(nil), rca.ReasoningChain...)
		r.Confidence = rca.ConfidenceScore
		r.Impact = rca.ImpactDescription
	}
	for _, a := range actions {
		taken := ActionTaken{
			ID:             a.ID,
			Title:          a.Title,
			RiskLevel:      a.RiskLevel,
			ApprovalStatus: a.ApprovalStatus,
			ApprovedBy:     a.ApprovedBy,
			Executable:     a.Execution != nil,
		}
		if a.LastExecution != nil {
			rec := *a.LastExecution
			taken.LastExecution = &rec
		}
		r.Actions = append(r.Actions, taken)
	}
	return r
}

// Writer stores reports as PM_<incident id>.json under a directory. A later
// write for the same incident replaces the earlier report.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter returns a Writer rooted at dir, created on first write.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, logger: logger}
}

// Dir returns the report directory.
func (w *Writer) Dir() string { return w.dir }

// Path returns where the report for incidentID is written.
func (w *Writer) Path(incidentID string) string {
	return filepath.Join(w.dir, "PM_"+incidentID+".json")
}

// Write stores r and returns its path. The file is replaced atomically.
func (w *Writer) Write(r Report) (string, error) {
	if r.IncidentID == "" || strings.ContainsAny(r.IncidentID, `/\`) || r.IncidentID == ".." {
		return "", fmt.Errorf("post-mortem: invalid incident id %q", r.IncidentID)
	}
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("create post-mortem dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode post-mortem: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, ".pm-*.json")
	if err != nil {
		return "", fmt.Errorf("create post-mortem: %w", err)
	}
	_, werr := tmp.Write(append(data, '\n'))
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write post-mortem: %w", err)
	}
	path := w.Path(r.IncidentID)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish post-mortem: %w", err)
	}
	w.logger.Info("post-mortem written",
		slog.String("incident_id", r.IncidentID),
		slog.String("status", string(r.Status)),
		slog.Int("actions", len(r.Actions)),
		slog.String("path", path))
	return path, nil
}

// Read loads the stored report for incidentID.
func (w *Writer) Read(incidentID string) (Report, error) {
	var r Report
	data, err := os.ReadFile(w.Path(incidentID))
	if err != nil {
		return r, fmt.Errorf("read post-mortem: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode post-mortem: %w", err)
	}
	return r, nil
}
