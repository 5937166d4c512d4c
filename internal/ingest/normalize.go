// Package ingest turns raw log lines into stored events.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize validates raw and converts it into an immutable LogEvent. A
// missing severity is derived from the message; a zero timestamp becomes now.
func Normalize(raw models.RawEvent, now time.Time) (models.LogEvent, error) {
	raw.SourceService = strings.TrimSpace(raw.SourceService)
	if err := validate.Struct(raw); err != nil {
		return models.LogEvent{}, utils.NewAppError("ingest.Normalize", "invalid event", err)
	}
	severity := raw.Severity
	if severity == "" {
		severity = DetermineSeverity(raw.Message)
	}
	var metadata map[string]string
	if len(raw.Metadata) > 0 {
		metadata = make(map[string]string, len(raw.Metadata))
		for k, v := range raw.Metadata {
			metadata[k] = v
		}
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return models.LogEvent{
		ID:            uuid.NewString(),
		SourceService: raw.SourceService,
		Severity:      severity,
		Message:       raw.Message,
		Metadata:      metadata,
		Timestamp:     ts.UTC(),
		IngestedAt:    now.UTC(),
	}, nil
}

// NormalizeBatch normalizes every event or none.
func NormalizeBatch(raws []models.RawEvent, now time.Time) ([]models.LogEvent, error) {
	out := make([]models.LogEvent, 0, len(raws))
	for i, raw := range raws {
		ev, err := Normalize(raw, now)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// DetermineSeverity guesses severity from message keywords.
func DetermineSeverity(message string) models.EventSeverity {
	low := strings.ToLower(message)
	switch {
	case containsAny(low, "fatal", "panic", "emergency"):
		return models.EventSeverityCritical
	case containsAny(low, "error", "err"):
		return models.EventSeverityHigh
	case containsAny(low, "warn", "warning"):
		return models.EventSeverityMedium
	default:
		return models.EventSeverityInfo
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
