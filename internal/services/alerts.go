package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/miradorstack/mirador-remediation/internal/ingest"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

// AlertmanagerPayload is the subset of the Alertmanager webhook body we read.
type AlertmanagerPayload struct {
	Status string  `json:"status"`
	Alerts []Alert `json:"alerts"`
}

// AcceptsUnknownFields lets the webhook body carry fields we do not read.
func (AlertmanagerPayload) AcceptsUnknownFields() bool { return true }

// Alert is one Alertmanager alert.
type Alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// AlertEvent converts a firing alert into a raw event.
func AlertEvent(alert Alert) models.RawEvent {
	source := alert.Labels["job"]
	if source == "" {
		source = "unknown"
	}
	message := alert.Annotations["summary"]
	if message == "" {
		message = "Infrastructure Alert"
	}
	metadata := map[string]string{"source": "alertmanager"}
	for meta, value := range map[string]string{
		"alertname":   alert.Labels["alertname"],
		"instance":    alert.Labels["instance"],
		"description": alert.Annotations["description"],
	} {
		if value != "" {
			metadata[meta] = value
		}
	}
	return models.RawEvent{
		SourceService: source,
		Severity:      alertSeverity(alert.Labels["severity"], message),
		Message:       message,
		Metadata:      metadata,
	}
}

func alertSeverity(label, message string) models.EventSeverity {
	sev := models.EventSeverity(strings.ToLower(label))
	switch {
	case sev.Valid():
		return sev
	case sev == "error" || sev == "page":
		return models.EventSeverityHigh
	case sev == "warning" || sev == "warn":
		return models.EventSeverityMedium
	default:
		return ingest.DetermineSeverity(message)
	}
}

// HandleAlerts runs every firing alert through the full pipeline as its own
// incident and writes an initial post-mortem for it. Resolved alerts are
// skipped. It returns the number processed.
func (s *GovernanceService) HandleAlerts(ctx context.Context, payload AlertmanagerPayload) (int, error) {
	processed := 0
	for _, alert := range payload.Alerts {
		if strings.EqualFold(alert.Status, "resolved") {
			continue
		}
		events, err := s.Ingest(ctx, "alertmanager", []models.RawEvent{AlertEvent(alert)})
		if err != nil {
			return processed, err
		}
		incident, err := s.correlate(ctx, events)
		if err != nil {
			return processed, err
		}
		incident, _, err = s.Process(ctx, incident.ID)
		if err != nil {
			return processed, fmt.Errorf("alert %s: %w", alert.Labels["alertname"], err)
		}
		s.document(ctx, incident)
		processed++
	}
	s.logger.Info("alert webhook handled", slog.Int("alerts", len(payload.Alerts)), slog.Int("processed", processed))
	return processed, nil
}

const maxAlertBody = 1 << 20

// AlertWebhookHandler serves the Alertmanager webhook receiver.
func AlertWebhookHandler(gov *GovernanceService, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload AlertmanagerPayload
		if err := json.NewDecoder(io.LimitReader(r.Body, maxAlertBody)).Decode(&payload); err != nil {
			http.Error(w, "invalid alertmanager payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		processed, err := gov.HandleAlerts(r.Context(), payload)
		if err != nil {
			logger.Error("alert webhook failed", slog.Int("processed", processed), slog.Any("error", err))
			http.Error(w, "alert processing failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "alerts_processed": processed})
	})
}
