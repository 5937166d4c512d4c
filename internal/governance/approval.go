// Package governance owns the authorization lifecycle of remediation actions.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/store"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

// Governance mode names reported to operators.
const (
	ModeManual    = "Protocol Alpha"
	ModeAutoPilot = "Protocol Omega"

	// AutoPilotActor is recorded as approver for auto-approved actions.
	AutoPilotActor = "auto-pilot"
)

// ErrInvalidTransition means the action does not exist or is not in the
// state the requested transition starts from. State is left unchanged.
var ErrInvalidTransition = errors.New("invalid approval transition")

// ErrNotApproved is returned by ExecuteApproved for actions that are not
// approved at the moment of execution.
var ErrNotApproved = fmt.Errorf("%w: action is not approved", ErrInvalidTransition)

// Manager is the only mutator of an action's approval fields.
type Manager struct {
	actions   store.ActionStore
	autoPilot atomic.Bool
	// locks serialises transitions and executions per action id.
	locks  sync.Map
	logger *slog.Logger
	now       func() time.Time
}

// NewManager builds a Manager over the given action store.
func NewManager(actions store.ActionStore, autoPilot bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		actions: actions,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	m.autoPilot.Store(autoPilot)
	return m
}

// Register stores actions as pending. With auto-pilot on, low-risk actions are
// approved immediately on behalf of AutoPilotActor.
func (m *Manager) Register(ctx context.Context, actions []models.RemediationAction) ([]models.RemediationAction, error) {
	auto := m.autoPilot.Load()
	now := m.now()
	out := make([]models.RemediationAction, len(actions))
	for i, a := range actions {
		a.ApprovalStatus = models.ApprovalPending
		a.ApprovedBy = ""
		a.ApprovedAt = nil
		if auto && a.RiskLevel == models.RiskLow {
			ts := now
			a.ApprovalStatus = models.ApprovalApproved
			a.ApprovedBy = AutoPilotActor
			a.ApprovedAt = &ts
			m.logger.Info("action auto-approved",
				slog.String("action_id", a.ID),
				slog.String("incident_id", a.IncidentID),
				slog.String("title", a.Title))
		}
		out[i] = a
	}
	if err := m.actions.SaveActions(ctx, out); err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}
	return out, nil
}

// Approve moves a pending action to approved.
func (m *Manager) Approve(ctx context.Context, id, actor string) (models.RemediationAction, error) {
	return m.transition(ctx, id, actor, models.ApprovalPending, models.ApprovalApproved)
}

// Reject moves a pending action to rejected.
func (m *Manager) Reject(ctx context.Context, id, actor string) (models.RemediationAction, error) {
	return m.transition(ctx, id, actor, models.ApprovalPending, models.ApprovalRejected)
}

// Rollback marks an approved action as rolled back. It records intent only;
// no infrastructure is touched.
func (m *Manager) Rollback(ctx context.Context, id, actor string) (models.RemediationAction, error) {
	return m.transition(ctx, id, actor, models.ApprovalApproved, models.ApprovalRolledBack)
}

func (m *Manager) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) transition(ctx context.Context, id, actor string, from, to models.ApprovalStatus) (models.RemediationAction, error) {
	unlock := m.lock(id)
	defer unlock()
	updated, err := m.actions.UpdateAction(ctx, id, func(a *models.RemediationAction) error {
		if a.ApprovalStatus != from {
			return fmt.Errorf("%w: action %s is %s, want %s", ErrInvalidTransition, id, a.ApprovalStatus, from)
		}
		a.ApprovalStatus = to
		if to != models.ApprovalRolledBack {
			ts := m.now()
			a.ApprovedBy = actor
			a.ApprovedAt = &ts
		}
		return nil
	})
	if err != nil {
		if utils.IsNotFound(err) {
			return models.RemediationAction{}, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return updated, err
	}
	m.logger.Info("action transitioned",
		slog.String("action_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("actor", actor))
	return updated, nil
}

// ExecuteApproved runs run for the action with the given id. The approved
// status is checked inside the store update, and the action stays locked
// against Approve, Reject and Rollback until run returns. Successful runs are
// recorded on the action as its last execution.
func (m *Manager) ExecuteApproved(ctx context.Context, id string, run func(models.RemediationAction) (models.ActionResult, error)) (models.ActionResult, error) {
	unlock := m.lock(id)
	defer unlock()

	action, err := m.actions.UpdateAction(ctx, id, func(a *models.RemediationAction) error {
		if a.ApprovalStatus != models.ApprovalApproved {
			return fmt.Errorf("%w: %s is %s", ErrNotApproved, id, a.ApprovalStatus)
		}
		return nil
	})
	if err != nil {
		if utils.IsNotFound(err) {
			return models.ActionResult{}, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return models.ActionResult{}, err
	}

	result, err := run(action)
	if err != nil {
		return result, err
	}
	record := &models.ExecutionRecord{At: m.now(), DryRun: result.DryRun, Success: result.Success}
	if action.Execution != nil {
		record.Kind = action.Execution.Kind
	}
	if _, err := m.actions.UpdateAction(ctx, id, func(a *models.RemediationAction) error {
		a.LastExecution = record
		return nil
	}); err != nil {
		m.logger.Warn("record execution failed", slog.String("action_id", id), slog.Any("error", err))
	}
	return result, nil
}

// ToggleAutoPilot flips the governance mode and returns the new state.
func (m *Manager) ToggleAutoPilot() (bool, string) {
	for {
		old := m.autoPilot.Load()
		if m.autoPilot.CompareAndSwap(old, !old) {
			mode := modeName(!old)
			m.logger.Warn("governance mode changed", slog.String("mode", mode), slog.Bool("auto_pilot", !old))
			return !old, mode
		}
	}
}

// AutoPilot reports whether low-risk actions are auto-approved.
func (m *Manager) AutoPilot() bool { return m.autoPilot.Load() }

// Mode returns the operator-facing name of the current mode.
func (m *Manager) Mode() string { return modeName(m.autoPilot.Load()) }

func modeName(auto bool) string {
	if auto {
		return ModeAutoPilot
	}
	return ModeManual
}

// Get returns one action.
func (m *Manager) Get(ctx context.Context, id string) (models.RemediationAction, error) {
	return m.actions.GetAction(ctx, id)
}

// All returns every action in creation order.
func (m *Manager) All(ctx context.Context) ([]models.RemediationAction, error) {
	return m.actions.ListActions(ctx)
}

// ByIncident returns the actions generated for one incident.
func (m *Manager) ByIncident(ctx context.Context, incidentID string) ([]models.RemediationAction, error) {
	return m.filter(ctx, func(a models.RemediationAction) bool { return a.IncidentID == incidentID })
}

// Pending returns the actions awaiting an operator decision.
func (m *Manager) Pending(ctx context.Context) ([]models.RemediationAction, error) {
	return m.filter(ctx, func(a models.RemediationAction) bool { return a.ApprovalStatus == models.ApprovalPending })
}

func (m *Manager) filter(ctx context.Context, keep func(models.RemediationAction) bool) ([]models.RemediationAction, error) {
	all, err := m.actions.ListActions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.RemediationAction, 0, len(all))
	for _, a := range all {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}
