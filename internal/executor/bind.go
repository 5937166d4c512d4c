package executor

import (
	"errors"
	"fmt"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

var (
	// ErrNotExecutable is returned for advisory actions that carry no execution spec.
	ErrNotExecutable = errors.New("action has no executable step")
	// ErrRequestMismatch is returned when a caller restates a kind or target
	// that differs from what the action was approved for.
	ErrRequestMismatch = errors.New("request does not match the approved action")
)

// RequestFromSpec builds the executor request an ExecutionSpec authorizes.
func RequestFromSpec(actionID string, spec models.ExecutionSpec) Request {
	c := spec.Clone()
	return Request{
		Kind:       ActionKind(c.Kind),
		ActionID:   actionID,
		Namespace:  c.Namespace,
		Manifest:   c.Manifest,
		Deployment: c.Deployment,
		Replicas:   c.Replicas,
		Host:       c.Host,
		User:       c.User,
		Port:       c.Port,
		Command:    c.Command,
		URL:        c.URL,
		Payload:    c.Payload,
		Headers:    c.Headers,
	}
}

// BindRequest returns the request that may run under action. Everything
// executed comes from the action's ExecutionSpec; req may restate the kind and
// target fields, and any restated value must match. Payload and headers are
// never taken from the caller.
func BindRequest(action models.RemediationAction, req Request) (Request, error) {
	if action.Execution == nil {
		return Request{}, fmt.Errorf("%w: %s (%q)", ErrNotExecutable, action.ID, action.Title)
	}
	bound := RequestFromSpec(action.ID, *action.Execution)
	if bound.Payload == nil && bound.Kind == KindWebhook {
		bound.Payload = map[string]any{
			"action_id":   action.ID,
			"incident_id": action.IncidentID,
			"title":       action.Title,
		}
	}

	mismatch := func(field string, got, want any) error {
		return fmt.Errorf("%w: %s is %v, approved %v", ErrRequestMismatch, field, got, want)
	}
	switch {
	case req.Kind != "" && req.Kind != bound.Kind:
		return Request{}, mismatch("kind", req.Kind, bound.Kind)
	case req.Namespace != "" && req.namespace() != bound.namespace():
		return Request{}, mismatch("namespace", req.Namespace, bound.namespace())
	case req.Deployment != "" && req.Deployment != bound.Deployment:
		return Request{}, mismatch("deployment", req.Deployment, bound.Deployment)
	case req.Replicas != 0 && req.Replicas != bound.Replicas:
		return Request{}, mismatch("replicas", req.Replicas, bound.Replicas)
	case req.Manifest != "" && req.Manifest != bound.Manifest:
		return Request{}, mismatch("manifest", "<supplied>", "<approved>")
	case req.Host != "" && req.Host != bound.Host:
		return Request{}, mismatch("host", req.Host, bound.Host)
	case req.User != "" && req.User != bound.User:
		return Request{}, mismatch("user", req.User, bound.User)
	case req.Port != 0 && req.port() != bound.port():
		return Request{}, mismatch("port", req.Port, bound.port())
	case req.Command != "" && req.Command != bound.Command:
		return Request{}, mismatch("command", req.Command, bound.Command)
	case req.URL != "" && req.URL != bound.URL:
		return Request{}, mismatch("url", req.URL, bound.URL)
	case len(req.Payload) > 0 || len(req.Headers) > 0:
		return Request{}, fmt.Errorf("%w: payload and headers come from the approved action", ErrRequestMismatch)
	}
	return bound, nil
}

// ValidateSpec checks spec against its kind's validation rule.
func ValidateSpec(spec models.ExecutionSpec) error {
	return Validate(RequestFromSpec("", spec))
}
