package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/analysis"
	"github.com/miradorstack/mirador-remediation/internal/correlation"
	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/governance"
	"github.com/miradorstack/mirador-remediation/internal/graph"
	"github.com/miradorstack/mirador-remediation/internal/ingest"
	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/patterns"
	"github.com/miradorstack/mirador-remediation/internal/postmortem"
	"github.com/miradorstack/mirador-remediation/internal/recommend"
	"github.com/miradorstack/mirador-remediation/internal/store"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

// DefaultRecentEvents bounds Correlate when no event ids are given.
const DefaultRecentEvents = 50

var (
	// ErrUnknownScenario is returned by Simulate for scenarios without sample data.
	ErrUnknownScenario = errors.New("unknown scenario")
	// ErrActionNotApproved is returned by Execute for actions that are not approved.
	ErrActionNotApproved = governance.ErrNotApproved
)

// Dependencies bundles the collaborators of GovernanceService.
type Dependencies struct {
	Store       store.Store
	Graph       *graph.Graph
	Correlator  *correlation.Engine
	Analyzer    analysis.Analyzer
	Recommender *recommend.Engine
	Approvals   *governance.Manager
	Executor    *executor.SafeExecutor
	// PostMortems is optional; nil disables post-mortem reports.
	PostMortems *postmortem.Writer
	// Window and MinEvents control batch grouping in CorrelateEvents.
	Window    time.Duration
	MinEvents int
}

// GovernanceService drives incidents from raw events to governed, executed
// remediation. It is transport agnostic; RemediationService exposes it over gRPC.
type GovernanceService struct {
	logger    *slog.Logger
	deps      Dependencies
	latencies *utils.LatencyTracker
	miner     *patterns.Miner
	now       func() time.Time
}

// NewGovernanceService validates deps and builds the service.
func NewGovernanceService(logger *slog.Logger, deps Dependencies) (*GovernanceService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("governance service: store is required")
	case deps.Correlator == nil:
		return nil, errors.New("governance service: correlator is required")
	case deps.Recommender == nil:
		return nil, errors.New("governance service: recommender is required")
	case deps.Approvals == nil:
		return nil, errors.New("governance service: approval manager is required")
	case deps.Executor == nil:
		return nil, errors.New("governance service: executor is required")
	}
	if deps.Graph == nil {
		deps.Graph = graph.New()
	}
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.Heuristic{}
	}
	if deps.Window <= 0 {
		deps.Window = time.Minute
	}
	if deps.MinEvents < 1 {
		deps.MinEvents = 2
	}
	return &GovernanceService{
		logger:    logger,
		deps:      deps,
		latencies: utils.NewLatencyTracker(512),
		miner:     patterns.NewMiner(logger),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Graph exposes the shared dependency graph.
func (s *GovernanceService) Graph() *graph.Graph { return s.deps.Graph }

// Ingest normalizes and stores raw events.
func (s *GovernanceService) Ingest(ctx context.Context, source string, raws []models.RawEvent) ([]models.LogEvent, error) {
	events, err := ingest.NormalizeBatch(raws, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.AppendEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("store events: %w", err)
	}
	if source == "" {
		source = "api"
	}
	metrics.ObserveIngest(source, len(events))
	return events, nil
}

// Correlate builds and stores an incident from the given stored events, or
// from the most recent limit events when ids is empty.
func (s *GovernanceService) Correlate(ctx context.Context, ids []string, limit int) (models.Incident, error) {
	var events []models.LogEvent
	if len(ids) == 0 {
		if limit <= 0 {
			limit = DefaultRecentEvents
		}
		recent, err := s.deps.Store.RecentEvents(ctx, limit)
		if err != nil {
			return models.Incident{}, fmt.Errorf("load recent events: %w", err)
		}
		events = recent
	} else {
		events = make([]models.LogEvent, 0, len(ids))
		for _, id := range ids {
			ev, err := s.deps.Store.GetEvent(ctx, id)
			if err != nil {
				return models.Incident{}, fmt.Errorf("event %s: %w", id, err)
			}
			events = append(events, ev)
		}
	}
	return s.correlate(ctx, events)
}

// CorrelateEvents splits events into time windows and correlates each group
// that reaches the minimum size.
func (s *GovernanceService) CorrelateEvents(ctx context.Context, events []models.LogEvent) ([]models.Incident, error) {
	groups := correlation.GroupByWindow(events, s.deps.Window, s.deps.MinEvents)
	incidents := make([]models.Incident, 0, len(groups))
	for _, group := range groups {
		incident, err := s.correlate(ctx, group)
		if err != nil {
			return incidents, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, nil
}

func (s *GovernanceService) correlate(ctx context.Context, events []models.LogEvent) (models.Incident, error) {
	incident, err := s.deps.Correlator.Correlate(ctx, events)
	if err != nil {
		return models.Incident{}, err
	}
	if err := s.deps.Store.SaveIncident(ctx, incident); err != nil {
		return models.Incident{}, fmt.Errorf("store incident: %w", err)
	}
	metrics.ObserveIncident(incident.ScenarioType, string(incident.Severity))
	s.logger.Info("incident detected",
		slog.String("incident_id", incident.ID),
		slog.String("scenario", incident.ScenarioType),
		slog.String("severity", string(incident.Severity)),
		slog.Int("events", len(incident.EventIDs)))
	return incident, nil
}

// Analyze runs root cause analysis for a stored incident. On failure the
// incident returns to its previous status.
func (s *GovernanceService) Analyze(ctx context.Context, incidentID string) (models.Incident, error) {
	var previous models.IncidentStatus
	incident, err := s.deps.Store.UpdateIncident(ctx, incidentID, func(inc *models.Incident) error {
		previous = inc.Status
		inc.Status = models.IncidentAnalyzing
		inc.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return models.Incident{}, err
	}

	start := time.Now()
	serviceContext := s.deps.Graph.ServiceContext(incident.AffectedServices)
	rca, err := s.deps.Analyzer.Analyze(ctx, incident, serviceContext)
	if err != nil {
		if _, rerr := s.deps.Store.UpdateIncident(context.WithoutCancel(ctx), incidentID, func(inc *models.Incident) error {
			inc.Status = previous
			inc.UpdatedAt = s.now()
			return nil
		}); rerr != nil {
			s.logger.Warn("restore incident status failed", slog.String("incident_id", incidentID), slog.Any("error", rerr))
		}
		return models.Incident{}, fmt.Errorf("analyze incident %s: %w", incidentID, err)
	}
	s.observeLatency(time.Since(start))

	return s.deps.Store.UpdateIncident(ctx, incidentID, func(inc *models.Incident) error {
		inc.RootCauseAnalysis = &rca
		inc.Status = models.IncidentAnalyzed
		inc.UpdatedAt = s.now()
		return nil
	})
}

func (s *GovernanceService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

// RegisterActions generates the playbook for an incident and registers the
// actions with the approval manager.
func (s *GovernanceService) RegisterActions(ctx context.Context, incidentID string) ([]models.RemediationAction, error) {
	incident, err := s.deps.Store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	actions, err := s.deps.Approvals.Register(ctx, s.deps.Recommender.Generate(incident))
	if err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}
	for _, a := range actions {
		metrics.ObserveTransition(string(a.ApprovalStatus))
	}
	if _, err := s.deps.Store.UpdateIncident(ctx, incidentID, func(inc *models.Incident) error {
		if inc.Status != models.IncidentResolved {
			inc.Status = models.IncidentActionsPending
		}
		inc.UpdatedAt = s.now()
		return nil
	}); err != nil {
		return nil, err
	}
	return actions, nil
}

// Process analyzes an incident and registers its remediation actions.
func (s *GovernanceService) Process(ctx context.Context, incidentID string) (models.Incident, []models.RemediationAction, error) {
	if _, err := s.Analyze(ctx, incidentID); err != nil {
		return models.Incident{}, nil, err
	}
	actions, err := s.RegisterActions(ctx, incidentID)
	if err != nil {
		return models.Incident{}, nil, err
	}
	incident, err := s.deps.Store.GetIncident(ctx, incidentID)
	if err != nil {
		return models.Incident{}, nil, err
	}
	return incident, actions, nil
}

// HandleBatch correlates a freshly polled batch and processes every incident
// it yields. Errors are logged; the poller keeps running.
func (s *GovernanceService) HandleBatch(ctx context.Context, events []models.LogEvent) {
	incidents, err := s.CorrelateEvents(ctx, events)
	if err != nil {
		s.logger.Error("correlate polled batch failed", slog.Any("error", err))
	}
	for _, incident := range incidents {
		if _, _, err := s.Process(ctx, incident.ID); err != nil {
			s.logger.Error("process incident failed", slog.String("incident_id", incident.ID), slog.Any("error", err))
		}
	}
}

// ResolveIncident closes an incident and writes its final post-mortem.
func (s *GovernanceService) ResolveIncident(ctx context.Context, incidentID string) (models.Incident, error) {
	incident, err := s.deps.Store.UpdateIncident(ctx, incidentID, func(inc *models.Incident) error {
		if inc.Status == models.IncidentResolved {
			return fmt.Errorf("%w: incident %s is already resolved", governance.ErrInvalidTransition, incidentID)
		}
		inc.Status = models.IncidentResolved
		inc.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return models.Incident{}, err
	}
	s.document(ctx, incident)
	return incident, nil
}

// document writes the post-mortem for incident. Failures are logged only.
func (s *GovernanceService) document(ctx context.Context, incident models.Incident) {
	if s.deps.PostMortems == nil {
		return
	}
	actions, err := s.Actions(ctx, incident.ID, false)
	if err != nil {
		s.logger.Warn("post-mortem skipped", slog.String("incident_id", incident.ID), slog.Any("error", err))
		return
	}
	if _, err := s.deps.PostMortems.Write(postmortem.Build(incident, actions, s.now())); err != nil {
		s.logger.Warn("post-mortem failed", slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
}

// GetIncident returns a stored incident.
func (s *GovernanceService) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	return s.deps.Store.GetIncident(ctx, id)
}

// ListIncidents returns every incident, newest first.
func (s *GovernanceService) ListIncidents(ctx context.Context) ([]models.Incident, error) {
	return s.deps.Store.ListIncidents(ctx)
}

// Stats counts incidents by severity and status.
func (s *GovernanceService) Stats(ctx context.Context) (models.IncidentStats, error) {
	incidents, err := s.deps.Store.ListIncidents(ctx)
	if err != nil {
		return models.IncidentStats{}, err
	}
	stats := models.IncidentStats{
		Total:      len(incidents),
		BySeverity: map[models.Severity]int{},
		ByStatus:   map[models.IncidentStatus]int{},
	}
	for _, inc := range incidents {
		stats.BySeverity[inc.Severity]++
		stats.ByStatus[inc.Status]++
	}
	return stats, nil
}

// Patterns mines per-service failure hotspots from every stored incident.
func (s *GovernanceService) Patterns(ctx context.Context) ([]models.FailurePattern, error) {
	incidents, err := s.deps.Store.ListIncidents(ctx)
	if err != nil {
		return nil, err
	}
	return s.miner.Mine(ctx, incidents)
}

// Approve approves a pending action.
func (s *GovernanceService) Approve(ctx context.Context, actionID, actor string) (models.RemediationAction, error) {
	return s.observed(s.deps.Approvals.Approve(ctx, actionID, actor))
}

// Reject rejects a pending action.
func (s *GovernanceService) Reject(ctx context.Context, actionID, actor string) (models.RemediationAction, error) {
	return s.observed(s.deps.Approvals.Reject(ctx, actionID, actor))
}

// Rollback marks an approved action as rolled back.
func (s *GovernanceService) Rollback(ctx context.Context, actionID, actor string) (models.RemediationAction, error) {
	return s.observed(s.deps.Approvals.Rollback(ctx, actionID, actor))
}

func (s *GovernanceService) observed(action models.RemediationAction, err error) (models.RemediationAction, error) {
	if err == nil {
		metrics.ObserveTransition(string(action.ApprovalStatus))
	}
	return action, err
}

// ToggleAutoPilot flips the governance mode.
func (s *GovernanceService) ToggleAutoPilot() (bool, string) {
	return s.deps.Approvals.ToggleAutoPilot()
}

// Mode reports the current auto-pilot state and mode name.
func (s *GovernanceService) Mode() (bool, string) {
	return s.deps.Approvals.AutoPilot(), s.deps.Approvals.Mode()
}

// Action returns a single action.
func (s *GovernanceService) Action(ctx context.Context, id string) (models.RemediationAction, error) {
	return s.deps.Approvals.Get(ctx, id)
}

// Actions lists actions, optionally filtered by incident or pending state.
func (s *GovernanceService) Actions(ctx context.Context, incidentID string, pendingOnly bool) ([]models.RemediationAction, error) {
	var (
		actions []models.RemediationAction
		err     error
	)
	switch {
	case incidentID != "":
		actions, err = s.deps.Approvals.ByIncident(ctx, incidentID)
	case pendingOnly:
		return s.deps.Approvals.Pending(ctx)
	default:
		return s.deps.Approvals.All(ctx)
	}
	if err != nil || !pendingOnly {
		return actions, err
	}
	pending := actions[:0]
	for _, a := range actions {
		if a.ApprovalStatus == models.ApprovalPending {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// Execute runs the side effect an approved action authorizes. The request
// is built from the action's stored execution spec; req may only restate
// kind and target, which must match. Only the approval token decides between
// dry-run and live.
func (s *GovernanceService) Execute(ctx context.Context, req executor.Request, justification, approvalToken string) (models.ActionResult, error) {
	if strings.TrimSpace(req.ActionID) == "" {
		return models.ActionResult{}, &executor.ValidationError{Field: "action_id", Reason: "action id is required"}
	}
	return s.deps.Approvals.ExecuteApproved(ctx, req.ActionID, func(action models.RemediationAction) (models.ActionResult, error) {
		bound, err := executor.BindRequest(action, req)
		if err != nil {
			s.logger.Warn("execution refused",
				slog.String("action_id", action.ID),
				slog.String("requested_kind", string(req.Kind)),
				slog.Any("error", err))
			return models.ActionResult{}, err
		}
		result, err := s.deps.Executor.Perform(ctx, bound, justification, approvalToken)
		if err != nil {
			return models.ActionResult{}, err
		}
		s.logger.Info("action executed",
			slog.String("action_id", action.ID),
			slog.String("kind", string(bound.Kind)),
			slog.Bool("dry_run", result.DryRun),
			slog.Bool("success", result.Success))
		return result, nil
	})
}

// ImpactPath returns the services a failure of service would reach.
func (s *GovernanceService) ImpactPath(service string) []string {
	return s.deps.Graph.ImpactPath(service)
}

// DependencyChain returns the upstream path from one service to another.
func (s *GovernanceService) DependencyChain(from, to string) []string {
	return s.deps.Graph.DependencyChain(from, to)
}

// Dependencies returns the direct upstream and downstream neighbours of service.
func (s *GovernanceService) Dependencies(service string) (upstream, downstream []string) {
	return s.deps.Graph.Upstream(service), s.deps.Graph.Downstream(service)
}

// GraphSnapshot exports the dependency graph.
func (s *GovernanceService) GraphSnapshot() models.GraphSnapshot {
	return s.deps.Graph.Snapshot()
}

// SimulationResult summarises one simulated scenario.
type SimulationResult struct {
	Scenario         string          `json:"scenario"`
	IncidentID       string          `json:"incident_id"`
	Title            string          `json:"title"`
	Severity         models.Severity `json:"severity"`
	EventsIngested   int             `json:"events_ingested"`
	RootCause        string          `json:"root_cause"`
	Confidence       float64         `json:"confidence"`
	ActionsGenerated int             `json:"actions_generated"`
}

// Simulate replays one built-in scenario, or all of them when scenario is
// empty, through ingest, correlation, analysis and action registration.
func (s *GovernanceService) Simulate(ctx context.Context, scenario string) ([]SimulationResult, error) {
	scenarios := SampleScenarios()
	if scenario != "" {
		if _, ok := sampleScenarios[scenario]; !ok {
			return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownScenario, scenario, strings.Join(scenarios, ", "))
		}
		scenarios = []string{scenario}
	}

	base := s.now()
	results := make([]SimulationResult, 0, len(scenarios))
	for _, id := range scenarios {
		events, err := s.Ingest(ctx, "simulation", sampleRawEvents(id, base))
		if err != nil {
			return results, err
		}
		incident, err := s.correlate(ctx, events)
		if err != nil {
			return results, err
		}
		incident, actions, err := s.Process(ctx, incident.ID)
		if err != nil {
			return results, err
		}
		res := SimulationResult{
			Scenario:         id,
			IncidentID:       incident.ID,
			Title:            incident.Title,
			Severity:         incident.Severity,
			EventsIngested:   len(events),
			ActionsGenerated: len(actions),
		}
		if incident.RootCauseAnalysis != nil {
			res.RootCause = incident.RootCauseAnalysis.RootCause
			res.Confidence = incident.RootCauseAnalysis.ConfidenceScore
		}
		results = append(results, res)
		base = base.Add(5 * time.Minute)
	}
	return results, nil
}

// Reset clears events, incidents and actions.
func (s *GovernanceService) Reset(ctx context.Context) error {
	if err := s.deps.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	s.logger.Warn("all events, incidents and actions cleared")
	return nil
}
