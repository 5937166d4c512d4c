package models

import "time"

// EventSeverity is the severity reported by a log source for a single event.
type EventSeverity string

const (
	EventSeverityCritical EventSeverity = "critical"
	EventSeverityHigh     EventSeverity = "high"
	EventSeverityMedium   EventSeverity = "medium"
	EventSeverityLow      EventSeverity = "low"
	EventSeverityInfo     EventSeverity = "info"
)

// Valid reports whether s is one of the known event severities.
func (s EventSeverity) Valid() bool {
	switch s {
	case EventSeverityCritical, EventSeverityHigh, EventSeverityMedium, EventSeverityLow, EventSeverityInfo:
		return true
	}
	return false
}

// LogEvent is an ingested log or alert line. Events are immutable once stored.
type LogEvent struct {
	ID            string            `json:"id"`
	SourceService string            `json:"source_service"`
	Severity      EventSeverity     `json:"severity"`
	Message       string            `json:"message"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	IngestedAt    time.Time         `json:"ingested_at"`
}

// RawEvent is what a log source hands over before it becomes a LogEvent.
type RawEvent struct {
	SourceService string            `json:"source_service" validate:"required"`
	Severity      EventSeverity     `json:"severity" validate:"omitempty,oneof=critical high medium low info"`
	Message       string            `json:"message" validate:"required"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
