package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu sync.RWMutex

	events     map[string]models.LogEvent
	eventOrder []string

	incidents     map[string]models.Incident
	incidentOrder []string

	actions     map[string]models.RemediationAction
	actionOrder []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string]models.LogEvent),
		incidents: make(map[string]models.Incident),
		actions:   make(map[string]models.RemediationAction),
	}
}

func (s *MemoryStore) AppendEvents(_ context.Context, events []models.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev.ID == "" {
			return fmt.Errorf("append event: empty id")
		}
		if _, exists := s.events[ev.ID]; exists {
			continue
		}
		s.events[ev.ID] = ev
		s.eventOrder = append(s.eventOrder, ev.ID)
	}
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (models.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return models.LogEvent{}, fmt.Errorf("event %s: %w", id, utils.ErrNotFound)
	}
	return ev, nil
}

func (s *MemoryStore) RecentEvents(_ context.Context, limit int) ([]models.LogEvent, error) {
	s.mu.RLock()
	out := make([]models.LogEvent, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		out = append(out, s.events[id])
	}
	s.mu.RUnlock()
	sortEvents(out)
	return tailEvents(out, limit), nil
}

func (s *MemoryStore) CountEvents(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

func (s *MemoryStore) SaveIncident(_ context.Context, incident models.Incident) error {
	if incident.ID == "" {
		return fmt.Errorf("save incident: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[incident.ID]; !exists {
		s.incidentOrder = append(s.incidentOrder, incident.ID)
	}
	s.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

func (s *MemoryStore) GetIncident(_ context.Context, id string) (models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, fmt.Errorf("incident %s: %w", id, utils.ErrNotFound)
	}
	return cloneIncident(inc), nil
}

func (s *MemoryStore) ListIncidents(context.Context) ([]models.Incident, error) {
	s.mu.RLock()
	out := make([]models.Incident, 0, len(s.incidentOrder))
	for i := len(s.incidentOrder) - 1; i >= 0; i-- {
		out = append(out, cloneIncident(s.incidents[s.incidentOrder[i]]))
	}
	s.mu.RUnlock()
	sortIncidentsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) UpdateIncident(_ context.Context, id string, fn func(*models.Incident) error) (models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, fmt.Errorf("incident %s: %w", id, utils.ErrNotFound)
	}
	working := cloneIncident(inc)
	if err := fn(&working); err != nil {
		return cloneIncident(inc), err
	}
	s.incidents[id] = cloneIncident(working)
	return working, nil
}

func (s *MemoryStore) SaveActions(_ context.Context, actions []models.RemediationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		if a.ID == "" {
			return fmt.Errorf("save action: empty id")
		}
		if _, exists := s.actions[a.ID]; !exists {
			s.actionOrder = append(s.actionOrder, a.ID)
		}
		s.actions[a.ID] = cloneAction(a)
	}
	return nil
}

func (s *MemoryStore) GetAction(_ context.Context, id string) (models.RemediationAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return models.RemediationAction{}, fmt.Errorf("action %s: %w", id, utils.ErrNotFound)
	}
	return cloneAction(a), nil
}

func (s *MemoryStore) ListActions(context.Context) ([]models.RemediationAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RemediationAction, 0, len(s.actionOrder))
	for _, id := range s.actionOrder {
		out = append(out, cloneAction(s.actions[id]))
	}
	return out, nil
}

func (s *MemoryStore) UpdateAction(_ context.Context, id string, fn func(*models.RemediationAction) error) (models.RemediationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return models.RemediationAction{}, fmt.Errorf("action %s: %w", id, utils.ErrNotFound)
	}
	working := cloneAction(a)
	if err := fn(&working); err != nil {
		return cloneAction(a), err
	}
	s.actions[id] = cloneAction(working)
	return working, nil
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]models.LogEvent)
	s.eventOrder = nil
	s.incidents = make(map[string]models.Incident)
	s.incidentOrder = nil
	s.actions = make(map[string]models.RemediationAction)
	s.actionOrder = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
