package executor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// ActionKind is the closed set of side effects the executor knows how to perform.
type ActionKind string

const (
	KindPatchManifest ActionKind = "patch_manifest"
	KindScale         ActionKind = "scale"
	KindRestart       ActionKind = "restart"
	KindRemoteCommand ActionKind = "run_remote_command"
	KindWebhook       ActionKind = "trigger_webhook"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []ActionKind {
	return []ActionKind{KindPatchManifest, KindScale, KindRestart, KindRemoteCommand, KindWebhook}
}

// ParseKind converts a wire value into an ActionKind.
func ParseKind(s string) (ActionKind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown action kind %q", s)}
}

// Request carries the parameters of one executor call. Only the fields
// relevant to Kind are read.
type Request struct {
	Kind ActionKind `json:"kind"`
	// ActionID links the call to a governed remediation action, if any.
	ActionID string `json:"action_id,omitempty"`

	// patch_manifest, scale, restart
	Namespace  string `json:"namespace,omitempty"`
	Manifest   string `json:"manifest,omitempty"`
	Deployment string `json:"deployment,omitempty"`
	Replicas   int    `json:"replicas,omitempty"`

	// run_remote_command
	Host    string `json:"host,omitempty"`
	User    string `json:"user,omitempty"`
	Port    int    `json:"port,omitempty"`
	Command string `json:"command,omitempty"`

	// trigger_webhook
	URL     string            `json:"url,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (r Request) namespace() string {
	if r.Namespace == "" {
		return "default"
	}
	return r.Namespace
}

func (r Request) port() int {
	if r.Port <= 0 {
		return 22
	}
	return r.Port
}

// handler binds a kind to its audit name, validation rule, audit details,
// dry-run description and live implementation.
type handler struct {
	auditName string
	validate  func(Request) error
	details   func(Request) map[string]any
	describe  func(Request) string
	live      func(e *Executor, ctx context.Context, req Request) models.ActionResult
}

func dispatchTable() map[ActionKind]handler {
	return map[ActionKind]handler{
		KindPatchManifest: {
			auditName: "patch_k8s_manifest",
			validate:  func(r Request) error { return ValidateManifest(r.Manifest) },
			details: func(r Request) map[string]any {
				return map[string]any{"namespace": r.namespace()}
			},
			describe: func(Request) string { return "validated (dry-run)" },
			live:     (*Executor).patchManifest,
		},
		KindScale: {
			auditName: "scale_deployment",
			validate:  func(r Request) error { return ValidateDeployment(r.Deployment, r.Replicas) },
			details: func(r Request) map[string]any {
				return map[string]any{"name": r.Deployment, "replicas": r.Replicas, "namespace": r.namespace()}
			},
			describe: func(r Request) string {
				return fmt.Sprintf("would scale %s to %d replicas", r.Deployment, r.Replicas)
			},
			live: (*Executor).scale,
		},
		KindRestart: {
			auditName: "restart_deployment",
			validate:  func(r Request) error { return ValidateDeployment(r.Deployment, 0) },
			details: func(r Request) map[string]any {
				return map[string]any{"name": r.Deployment, "namespace": r.namespace()}
			},
			describe: func(r Request) string { return "would restart deployment " + r.Deployment },
			live:     (*Executor).restart,
		},
		KindRemoteCommand: {
			auditName: "run_ssh_command",
			validate:  func(r Request) error { return ValidateRemoteCommand(r.Host, r.Command) },
			details: func(r Request) map[string]any {
				return map[string]any{"host": r.Host, "user": r.User, "command": r.Command, "port": r.port()}
			},
			describe: func(r Request) string {
				return fmt.Sprintf("would ssh %s:%s '%s'", sshTarget(r), strconv.Itoa(r.port()), r.Command)
			},
			live: (*Executor).remoteCommand,
		},
		KindWebhook: {
			auditName: "trigger_webhook",
			validate:  func(r Request) error { return ValidateWebhookURL(r.URL) },
			details: func(r Request) map[string]any {
				return map[string]any{"url": r.URL, "payload": r.Payload}
			},
			describe: func(r Request) string { return "would POST to " + r.URL },
			live:     (*Executor).webhook,
		},
	}
}

func sshTarget(r Request) string {
	if r.User == "" {
		return r.Host
	}
	return r.User + "@" + r.Host
}
