// Package store persists events, incidents and remediation actions.
package store

import (
	"context"
	"sort"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// EventStore is a pure data sink for ingested events.
type EventStore interface {
	AppendEvents(ctx context.Context, events []models.LogEvent) error
	GetEvent(ctx context.Context, id string) (models.LogEvent, error)
	// RecentEvents returns up to limit of the latest events, ascending by timestamp.
	// A non-positive limit returns every event.
	RecentEvents(ctx context.Context, limit int) ([]models.LogEvent, error)
	CountEvents(ctx context.Context) (int, error)
}

// IncidentStore holds incidents. Incidents are never deleted, only moved through statuses.
type IncidentStore interface {
	SaveIncident(ctx context.Context, incident models.Incident) error
	GetIncident(ctx context.Context, id string) (models.Incident, error)
	// ListIncidents returns incidents newest first.
	ListIncidents(ctx context.Context) ([]models.Incident, error)
	UpdateIncident(ctx context.Context, id string, fn func(*models.Incident) error) (models.Incident, error)
}

// ActionStore holds remediation actions. UpdateAction applies fn atomically:
// concurrent updates of the same id observe each other's result.
type ActionStore interface {
	SaveActions(ctx context.Context, actions []models.RemediationAction) error
	GetAction(ctx context.Context, id string) (models.RemediationAction, error)
	// ListActions returns actions in creation order.
	ListActions(ctx context.Context) ([]models.RemediationAction, error)
	UpdateAction(ctx context.Context, id string, fn func(*models.RemediationAction) error) (models.RemediationAction, error)
}

// Store bundles every repository the service needs.
type Store interface {
	EventStore
	IncidentStore
	ActionStore
	// Reset drops all events, incidents and actions.
	Reset(ctx context.Context) error
	Close() error
}

func sortEvents(events []models.LogEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func tailEvents(events []models.LogEvent, limit int) []models.LogEvent {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}

func sortIncidentsNewestFirst(incidents []models.Incident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		return incidents[i].CreatedAt.After(incidents[j].CreatedAt)
	})
}

func sortActionsByCreation(actions []models.RemediationAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
}

func cloneIncident(in models.Incident) models.Incident {
	out := in
	out.EventIDs = append([]string(nil), in.EventIDs...)
	out.Timeline = append([]models.TimelineEntry(nil), in.Timeline...)
	out.AffectedServices = append([]string(nil), in.AffectedServices...)
	if in.RootCauseAnalysis != nil {
		rca := *in.RootCauseAnalysis
		rca.ReasoningChain = append([]string(nil), rca.ReasoningChain...)
		rca.AffectedServices = append([]string(nil), rca.AffectedServices...)
		out.RootCauseAnalysis = &rca
	}
	return out
}

func cloneAction(in models.RemediationAction) models.RemediationAction {
	out := in
	if in.ApprovedAt != nil {
		t := *in.ApprovedAt
		out.ApprovedAt = &t
	}
	out.Execution = in.Execution.Clone()
	if in.LastExecution != nil {
		rec := *in.LastExecution
		out.LastExecution = &rec
	}
	return out
}
