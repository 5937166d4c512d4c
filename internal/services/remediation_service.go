package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-remediation/internal/api"
	"github.com/miradorstack/mirador-remediation/internal/correlation"
	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/governance"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

// RemediationService implements the gRPC RemediationEngine service.
type RemediationService struct {
	logger *slog.Logger
	gov    *GovernanceService
}

var _ api.RemediationEngineServer = (*RemediationService)(nil)

// NewRemediationService constructs the gRPC facade over gov.
func NewRemediationService(logger *slog.Logger, gov *GovernanceService) *RemediationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemediationService{logger: logger, gov: gov}
}

// handle decodes a Req, runs fn and encodes its result, mapping domain errors
// onto gRPC status codes.
func handle[Req any](s *RemediationService, ctx context.Context, op string, in *structpb.Struct, fn func(context.Context, Req) (any, error)) (*structpb.Struct, error) {
	if s.gov == nil {
		return nil, status.Error(codes.FailedPrecondition, "governance service not configured")
	}
	var req Req
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := fn(ctx, req)
	if err != nil {
		st := toStatus(err)
		if st.Code() == codes.Internal {
			s.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
		} else {
			s.logger.Debug("request rejected", slog.String("op", op), slog.String("code", st.Code().String()), slog.Any("error", err))
		}
		return nil, st.Err()
	}
	resp, err := api.Encode(out)
	if err != nil {
		s.logger.Error("encode response failed", slog.String("op", op), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return resp, nil
}

func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	var (
		validationErr *executor.ValidationError
		fieldErrs     validator.ValidationErrors
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err)
	case errors.Is(err, executor.ErrRequestMismatch):
		return status.New(codes.PermissionDenied, err.Error())
	case errors.As(err, &validationErr),
		errors.As(err, &fieldErrs),
		errors.Is(err, executor.ErrInsufficientJustification),
		errors.Is(err, ErrUnknownScenario),
		api.IsDecodeError(err):
		return status.New(codes.InvalidArgument, err.Error())
	case utils.IsNotFound(err):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, governance.ErrInvalidTransition),
		errors.Is(err, executor.ErrNotExecutable),
		errors.Is(err, correlation.ErrNoEvents):
		return status.New(codes.FailedPrecondition, err.Error())
	default:
		return status.New(codes.Internal, err.Error())
	}
}

// Ingest stores raw events.
func (s *RemediationService) Ingest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "Ingest", in, func(ctx context.Context, req api.IngestRequest) (any, error) {
		events, err := s.gov.Ingest(ctx, "api", req.Events)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		return api.IngestResponse{Count: len(ids), EventIDs: ids}, nil
	})
}

// Correlate groups stored events into a new incident.
func (s *RemediationService) Correlate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "Correlate", in, func(ctx context.Context, req api.CorrelateRequest) (any, error) {
		incident, err := s.gov.Correlate(ctx, req.EventIDs, req.Limit)
		return api.IncidentResponse{Incident: incident}, err
	})
}

// AnalyzeIncident runs root cause analysis.
func (s *RemediationService) AnalyzeIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "AnalyzeIncident", in, func(ctx context.Context, req api.IncidentRequest) (any, error) {
		incident, err := s.gov.Analyze(ctx, req.IncidentID)
		return api.IncidentResponse{Incident: incident}, err
	})
}

// RegisterActions generates and registers remediation actions.
func (s *RemediationService) RegisterActions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "RegisterActions", in, func(ctx context.Context, req api.IncidentRequest) (any, error) {
		actions, err := s.gov.RegisterActions(ctx, req.IncidentID)
		return api.ActionsResponse{Actions: actions}, err
	})
}

// ResolveIncident closes an incident.
func (s *RemediationService) ResolveIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "ResolveIncident", in, func(ctx context.Context, req api.IncidentRequest) (any, error) {
		incident, err := s.gov.ResolveIncident(ctx, req.IncidentID)
		return api.IncidentResponse{Incident: incident}, err
	})
}

// GetIncident returns one incident.
func (s *RemediationService) GetIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "GetIncident", in, func(ctx context.Context, req api.IncidentRequest) (any, error) {
		incident, err := s.gov.GetIncident(ctx, req.IncidentID)
		return api.IncidentResponse{Incident: incident}, err
	})
}

// ListIncidents returns every incident, newest first.
func (s *RemediationService) ListIncidents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "ListIncidents", in, func(ctx context.Context, _ api.Empty) (any, error) {
		incidents, err := s.gov.ListIncidents(ctx)
		return api.IncidentsResponse{Incidents: incidents}, err
	})
}

// IncidentStats counts incidents by severity and status.
func (s *RemediationService) IncidentStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "IncidentStats", in, func(ctx context.Context, _ api.Empty) (any, error) {
		stats, err := s.gov.Stats(ctx)
		return stats, err
	})
}

// FailurePatterns mines recurring failure hotspots from incident history.
func (s *RemediationService) FailurePatterns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "FailurePatterns", in, func(ctx context.Context, _ api.Empty) (any, error) {
		patterns, err := s.gov.Patterns(ctx)
		return api.PatternsResponse{Patterns: patterns}, err
	})
}

// ListActions lists actions.
func (s *RemediationService) ListActions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "ListActions", in, func(ctx context.Context, req api.ListActionsRequest) (any, error) {
		actions, err := s.gov.Actions(ctx, req.IncidentID, req.PendingOnly)
		return api.ActionsResponse{Actions: actions}, err
	})
}

// ApproveAction approves a pending action.
func (s *RemediationService) ApproveAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, "ApproveAction", in, s.gov.Approve)
}

// RejectAction rejects a pending action.
func (s *RemediationService) RejectAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, "RejectAction", in, s.gov.Reject)
}

// RollbackAction marks an approved action as rolled back.
func (s *RemediationService) RollbackAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, "RollbackAction", in, s.gov.Rollback)
}

func (s *RemediationService) transition(ctx context.Context, op string, in *structpb.Struct, fn func(context.Context, string, string) (models.RemediationAction, error)) (*structpb.Struct, error) {
	return handle(s, ctx, op, in, func(ctx context.Context, req api.TransitionRequest) (any, error) {
		action, err := fn(ctx, req.ActionID, req.ActorOrDefault())
		return api.ActionResponse{Action: action}, err
	})
}

// ToggleAutoPilot flips the governance mode.
func (s *RemediationService) ToggleAutoPilot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "ToggleAutoPilot", in, func(context.Context, api.Empty) (any, error) {
		enabled, mode := s.gov.ToggleAutoPilot()
		return api.ModeResponse{AutoPilot: enabled, Mode: mode}, nil
	})
}

// GovernanceMode reports the governance mode.
func (s *RemediationService) GovernanceMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "GovernanceMode", in, func(context.Context, api.Empty) (any, error) {
		enabled, mode := s.gov.Mode()
		return api.ModeResponse{AutoPilot: enabled, Mode: mode}, nil
	})
}

// ExecuteAction runs an approved action through the safe executor.
func (s *RemediationService) ExecuteAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "ExecuteAction", in, func(ctx context.Context, req api.ExecuteRequest) (any, error) {
		result, err := s.gov.Execute(ctx, req.ExecutorRequest(), req.Justification, req.ApprovalToken)
		return api.ExecuteResponse{Result: result}, err
	})
}

// ImpactPath returns the blast radius of a service failure.
func (s *RemediationService) ImpactPath(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "ImpactPath", in, func(_ context.Context, req api.ServiceRequest) (any, error) {
		return api.PathResponse{Path: s.gov.ImpactPath(req.Service)}, nil
	})
}

// DependencyChain returns the upstream path between two services.
func (s *RemediationService) DependencyChain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "DependencyChain", in, func(_ context.Context, req api.ChainRequest) (any, error) {
		return api.PathResponse{Path: s.gov.DependencyChain(req.From, req.To)}, nil
	})
}

// ServiceDependencies lists direct neighbours of a service.
func (s *RemediationService) ServiceDependencies(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "ServiceDependencies", in, func(_ context.Context, req api.ServiceRequest) (any, error) {
		up, down := s.gov.Dependencies(req.Service)
		return api.DependenciesResponse{Service: req.Service, Upstream: up, Downstream: down}, nil
	})
}

// GraphSnapshot exports the dependency graph.
func (s *RemediationService) GraphSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "GraphSnapshot", in, func(context.Context, api.Empty) (any, error) {
		return s.gov.GraphSnapshot(), nil
	})
}

// Simulate replays built-in scenarios.
func (s *RemediationService) Simulate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "Simulate", in, func(ctx context.Context, req api.SimulateRequest) (any, error) {
		results, err := s.gov.Simulate(ctx, req.Scenario)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results}, nil
	})
}

// Reset clears all stored data.
func (s *RemediationService) Reset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "Reset", in, func(ctx context.Context, _ api.Empty) (any, error) {
		return api.Empty{}, s.gov.Reset(ctx)
	})
}

// HandleAlerts runs an Alertmanager payload through the pipeline.
func (s *RemediationService) HandleAlerts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(s, ctx, "HandleAlerts", in, func(ctx context.Context, req AlertmanagerPayload) (any, error) {
		n, err := s.gov.HandleAlerts(ctx, req)
		return api.AlertsResponse{Processed: n}, err
	})
}
