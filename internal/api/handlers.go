package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-remediation/internal/executor"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultActor is recorded on approval transitions that name no actor.
const DefaultActor = "admin"

// DecodeError reports a malformed or invalid request message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "invalid request: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownFieldsAcceptor is implemented by request types whose senders add
// fields this service does not read, such as Alertmanager webhook bodies.
type UnknownFieldsAcceptor interface {
	AcceptsUnknownFields() bool
}

// Decode maps a Struct message onto v and validates it. Unknown fields are
// rejected unless v is an UnknownFieldsAcceptor.
func Decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return &DecodeError{Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if acceptor, ok := v.(UnknownFieldsAcceptor); !ok || !acceptor.AcceptsUnknownFields() {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return &DecodeError{Err: err}
	}
	if err := validate.Struct(v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// decodeLoose maps a response Struct onto v without validation.
func decodeLoose(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Encode maps v, which must marshal to a JSON object, onto a Struct message.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// IsDecodeError reports whether err came from Decode.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Empty carries no fields.
type Empty struct{}

// IngestRequest submits raw events.
type IngestRequest struct {
	Events []models.RawEvent `json:"events" validate:"required,min=1,dive"`
}

// IngestResponse lists the ids assigned to ingested events.
type IngestResponse struct {
	Count    int      `json:"count"`
	EventIDs []string `json:"event_ids"`
}

// CorrelateRequest selects stored events by id, or the most recent Limit events.
type CorrelateRequest struct {
	EventIDs []string `json:"event_ids" validate:"omitempty,dive,required"`
	Limit    int      `json:"limit" validate:"gte=0,lte=1000"`
}

// IncidentRequest names an incident.
type IncidentRequest struct {
	IncidentID string `json:"incident_id" validate:"required"`
}

// IncidentResponse wraps one incident.
type IncidentResponse struct {
	Incident models.Incident `json:"incident"`
}

// IncidentsResponse wraps a list of incidents.
type IncidentsResponse struct {
	Incidents []models.Incident `json:"incidents"`
}

// PatternsResponse wraps mined failure patterns.
type PatternsResponse struct {
	Patterns []models.FailurePattern `json:"patterns"`
}

// ListActionsRequest filters actions by incident and/or pending state.
type ListActionsRequest struct {
	IncidentID  string `json:"incident_id"`
	PendingOnly bool   `json:"pending_only"`
}

// ActionsResponse wraps a list of actions.
type ActionsResponse struct {
	Actions []models.RemediationAction `json:"actions"`
}

// TransitionRequest approves, rejects or rolls back one action.
type TransitionRequest struct {
	ActionID string `json:"action_id" validate:"required"`
	Actor    string `json:"actor"`
}

// ActorOrDefault returns the requesting actor or DefaultActor.
func (r TransitionRequest) ActorOrDefault() string {
	if r.Actor == "" {
		return DefaultActor
	}
	return r.Actor
}

// ActionResponse wraps one action.
type ActionResponse struct {
	Action models.RemediationAction `json:"action"`
}

// ModeResponse reports the governance mode.
type ModeResponse struct {
	AutoPilot bool   `json:"auto_pilot"`
	Mode      string `json:"mode"`
}

// ExecuteRequest runs the side effect an approved action authorizes.
type ExecuteRequest struct {
	ActionID      string            `json:"action_id" validate:"required"`
	Kind          string            `json:"kind" validate:"omitempty,oneof=patch_manifest scale restart run_remote_command trigger_webhook"`
	Justification string            `json:"justification"`
	ApprovalToken string            `json:"approval_token"`
	Namespace     string            `json:"namespace"`
	Manifest      string            `json:"manifest"`
	Deployment    string            `json:"deployment"`
	Replicas      int               `json:"replicas"`
	Host          string            `json:"host"`
	User          string            `json:"user"`
	Port          int               `json:"port" validate:"gte=0,lte=65535"`
	Command       string            `json:"command"`
	URL           string            `json:"url"`
	Payload       map[string]any    `json:"payload"`
	Headers       map[string]string `json:"headers"`
}

// ExecutorRequest converts r into an executor request. Kind and target fields
// are optional restatements checked against the approved action.
func (r ExecuteRequest) ExecutorRequest() executor.Request {
	return executor.Request{
		Kind:       executor.ActionKind(r.Kind),
		ActionID:   r.ActionID,
		Namespace:  r.Namespace,
		Manifest:   r.Manifest,
		Deployment: r.Deployment,
		Replicas:   r.Replicas,
		Host:       r.Host,
		User:       r.User,
		Port:       r.Port,
		Command:    r.Command,
		URL:        r.URL,
		Payload:    r.Payload,
		Headers:    r.Headers,
	}
}

// ExecuteResponse wraps an executor result.
type ExecuteResponse struct {
	Result models.ActionResult `json:"result"`
}

// ServiceRequest names a service in the dependency graph.
type ServiceRequest struct {
	Service string `json:"service" validate:"required"`
}

// ChainRequest asks for the upstream path between two services.
type ChainRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// PathResponse is an ordered list of service ids.
type PathResponse struct {
	Path []string `json:"path"`
}

// DependenciesResponse lists direct neighbours of a service.
type DependenciesResponse struct {
	Service    string   `json:"service"`
	Upstream   []string `json:"upstream"`
	Downstream []string `json:"downstream"`
}

// SimulateRequest picks a built-in scenario; empty runs all of them.
type SimulateRequest struct {
	Scenario string `json:"scenario"`
}

// AlertsResponse reports how many alerts went through the pipeline.
type AlertsResponse struct {
	Processed int `json:"processed"`
}
