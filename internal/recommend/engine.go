// Package recommend maps incident scenarios to remediation playbooks.
package recommend

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

// PlaybookStep is one candidate action in a playbook.
type PlaybookStep struct {
	Title               string           `yaml:"title"`
	Description         string           `yaml:"description"`
	CommandHint         string           `yaml:"command_hint"`
	RiskLevel           models.RiskLevel `yaml:"risk_level"`
	RollbackDescription string           `yaml:"rollback_description"`
	// Execution is optional; steps without one are advisory.
	Execution *models.ExecutionSpec `yaml:"execution"`
}

// PackFile is the YAML root of a playbook pack.
type PackFile struct {
	Playbooks map[string][]PlaybookStep `yaml:"playbooks"`
}

// Engine generates pending remediation actions from scenario playbooks.
type Engine struct {
	mu        sync.RWMutex
	playbooks map[string][]PlaybookStep
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine returns an engine holding the built-in playbooks.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		playbooks: defaultPlaybooks(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewEngineFromFile returns an engine with the built-in playbooks overlaid by
// the pack at path. A missing or empty path keeps the built-ins.
func NewEngineFromFile(path string, logger *slog.Logger) (*Engine, error) {
	e := NewEngine(logger)
	if err := e.Reload(path); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the pack at path and atomically swaps the playbook table.
// Scenarios in the pack replace built-ins of the same name.
func (e *Engine) Reload(path string) error {
	pack, err := LoadPack(path)
	if err != nil {
		return err
	}
	merged := defaultPlaybooks()
	for scenario, steps := range pack {
		merged[scenario] = steps
	}

	e.mu.Lock()
	e.playbooks = merged
	e.mu.Unlock()

	if len(pack) > 0 {
		e.logger.Info("playbook pack loaded", slog.String("path", path), slog.Int("scenarios", len(pack)))
	}
	return nil
}

// LoadPack reads and validates a playbook pack. Every step must carry an
// explicit, valid risk level.
func LoadPack(path string) (map[string][]PlaybookStep, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read playbook pack: %w", err)
	}
	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse playbook pack: %w", err)
	}
	for scenario, steps := range pack.Playbooks {
		if len(steps) == 0 {
			return nil, fmt.Errorf("playbook %q has no steps", scenario)
		}
		for i, step := range steps {
			if step.Title == "" {
				return nil, fmt.Errorf("playbook %q step %d: title is required", scenario, i)
			}
			if !step.RiskLevel.Valid() {
				return nil, fmt.Errorf("playbook %q step %q: invalid risk level %q", scenario, step.Title, step.RiskLevel)
			}
			if step.Execution != nil {
				if err := executor.ValidateSpec(*step.Execution); err != nil {
					return nil, fmt.Errorf("playbook %q step %q: execution: %w", scenario, step.Title, err)
				}
			}
		}
	}
	return pack.Playbooks, nil
}

// Generate returns one pending action per playbook step for the incident's
// scenario, or the two-step fallback when the scenario has no playbook.
func (e *Engine) Generate(incident models.Incident) []models.RemediationAction {
	e.mu.RLock()
	steps, ok := e.playbooks[incident.ScenarioType]
	e.mu.RUnlock()
	if !ok {
		steps = fallbackPlaybook
	}

	now := e.now()
	actions := make([]models.RemediationAction, 0, len(steps))
	for _, step := range steps {
		actions = append(actions, models.RemediationAction{
			ID:                  uuid.NewString(),
			IncidentID:          incident.ID,
			Title:               step.Title,
			Description:         step.Description,
			CommandHint:         step.CommandHint,
			RiskLevel:           step.RiskLevel,
			ApprovalStatus:      models.ApprovalPending,
			CreatedAt:           now,
			RollbackDescription: step.RollbackDescription,
			Execution:           step.Execution.Clone(),
		})
	}
	return actions
}

// Scenarios lists the scenario ids that have a playbook, sorted.
func (e *Engine) Scenarios() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.playbooks))
	for id := range e.playbooks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
