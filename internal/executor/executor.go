// Package executor performs validated, audited remediation side effects.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

var tracer = otel.Tracer("mirador.remediation.executor")

// Config controls executor behaviour.
type Config struct {
	// DryRun is the default mode for Execute.
	DryRun         bool
	CommandTimeout time.Duration
	WebhookTimeout time.Duration
	KubectlBinary  string
	SSHBinary      string
}

// DefaultConfig is dry-run with conservative timeouts.
func DefaultConfig() Config {
	return Config{
		DryRun:         true,
		CommandTimeout: 30 * time.Second,
		WebhookTimeout: 10 * time.Second,
		KubectlBinary:  "kubectl",
		SSHBinary:      "ssh",
	}
}

// commandRunner runs an external binary and returns its output. A non-nil
// error means the process could not run or exited non-zero.
type commandRunner func(ctx context.Context, bin string, args []string, stdin string) (stdout, stderr string, err error)

// Executor dispatches requests through the kind table. Every call that passes
// validation is audited before its side effect.
type Executor struct {
	cfg        Config
	audit      *AuditLog
	handlers   map[ActionKind]handler
	httpClient *http.Client
	lookPath   func(string) (string, error)
	run        commandRunner
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs an Executor writing to the given audit log.
func New(cfg Config, audit *AuditLog, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = def.WebhookTimeout
	}
	if cfg.KubectlBinary == "" {
		cfg.KubectlBinary = def.KubectlBinary
	}
	if cfg.SSHBinary == "" {
		cfg.SSHBinary = def.SSHBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:        cfg,
		audit:      audit,
		handlers:   dispatchTable(),
		httpClient: &http.Client{Timeout: cfg.WebhookTimeout},
		lookPath:   exec.LookPath,
		run:        runCommand,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DryRun reports the default mode.
func (e *Executor) DryRun() bool { return e.cfg.DryRun }

// Audit exposes the underlying audit log.
func (e *Executor) Audit() *AuditLog { return e.audit }

// Execute runs req in the executor's default mode.
func (e *Executor) Execute(ctx context.Context, req Request) (models.ActionResult, error) {
	return e.ExecuteMode(ctx, req, e.cfg.DryRun)
}

// ExecuteMode runs req in the given mode. The returned error is non-nil only
// for a *ValidationError or an audit write failure; both stop the call before
// any side effect. Tool and execution failures are reported in the result.
func (e *Executor) ExecuteMode(ctx context.Context, req Request, dryRun bool) (models.ActionResult, error) {
	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("action.kind", string(req.Kind)),
		attribute.Bool("action.dry_run", dryRun),
	)

	h, ok := e.handlers[req.Kind]
	if !ok {
		err := &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown action kind %q", req.Kind)}
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveValidationFailure(string(req.Kind))
		return models.ActionResult{}, err
	}
	if err := h.validate(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveValidationFailure(string(req.Kind))
		e.logger.Warn("action rejected by validator", slog.String("kind", string(req.Kind)), slog.Any("error", err))
		return models.ActionResult{}, err
	}

	details := h.details(req)
	details["dry_run"] = dryRun
	details["timestamp"] = e.now().Format(time.RFC3339Nano)
	if req.ActionID != "" {
		details["action_id"] = req.ActionID
	}
	if _, err := e.audit.Append(h.auditName, details); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.ActionResult{}, fmt.Errorf("audit %s: %w", h.auditName, err)
	}

	start := time.Now()
	var result models.ActionResult
	if dryRun {
		result = models.ActionResult{Success: true, Stdout: h.describe(req), DryRun: true}
	} else {
		result = h.live(e, ctx, req)
		result.DryRun = false
	}
	metrics.ObserveExecution(string(req.Kind), dryRun, result.Success, time.Since(start))

	if !result.Success {
		span.SetStatus(codes.Error, result.Stderr)
		e.logger.Error("action failed",
			slog.String("kind", string(req.Kind)),
			slog.String("action_id", req.ActionID),
			slog.String("stderr", result.Stderr))
	} else {
		e.logger.Info("action executed",
			slog.String("kind", string(req.Kind)),
			slog.String("action_id", req.ActionID),
			slog.Bool("dry_run", dryRun))
	}
	return result, nil
}

// PatchManifest applies a Kubernetes manifest.
func (e *Executor) PatchManifest(ctx context.Context, manifest, namespace string) (models.ActionResult, error) {
	return e.Execute(ctx, Request{Kind: KindPatchManifest, Manifest: manifest, Namespace: namespace})
}

// ScaleDeployment sets a deployment's replica count.
func (e *Executor) ScaleDeployment(ctx context.Context, name string, replicas int, namespace string) (models.ActionResult, error) {
	return e.Execute(ctx, Request{Kind: KindScale, Deployment: name, Replicas: replicas, Namespace: namespace})
}

// RestartDeployment triggers a rollout restart.
func (e *Executor) RestartDeployment(ctx context.Context, name, namespace string) (models.ActionResult, error) {
	return e.Execute(ctx, Request{Kind: KindRestart, Deployment: name, Namespace: namespace})
}

// RunRemoteCommand runs command on host over ssh.
func (e *Executor) RunRemoteCommand(ctx context.Context, host, user, command string, port int) (models.ActionResult, error) {
	return e.Execute(ctx, Request{Kind: KindRemoteCommand, Host: host, User: user, Command: command, Port: port})
}

// TriggerWebhook POSTs payload as JSON to url.
func (e *Executor) TriggerWebhook(ctx context.Context, url string, payload map[string]any, headers map[string]string) (models.ActionResult, error) {
	return e.Execute(ctx, Request{Kind: KindWebhook, URL: url, Payload: payload, Headers: headers})
}

func (e *Executor) patchManifest(ctx context.Context, req Request) models.ActionResult {
	return e.tool(ctx, e.cfg.KubectlBinary, []string{"apply", "-f", "-", "-n", req.namespace()}, req.Manifest)
}

func (e *Executor) scale(ctx context.Context, req Request) models.ActionResult {
	args := []string{"scale", "deployment", req.Deployment, "--replicas=" + strconv.Itoa(req.Replicas), "-n", req.namespace()}
	return e.tool(ctx, e.cfg.KubectlBinary, args, "")
}

func (e *Executor) restart(ctx context.Context, req Request) models.ActionResult {
	return e.tool(ctx, e.cfg.KubectlBinary, []string{"rollout", "restart", "deployment", req.Deployment, "-n", req.namespace()}, "")
}

func (e *Executor) remoteCommand(ctx context.Context, req Request) models.ActionResult {
	args := []string{"-p", strconv.Itoa(req.port()), "-o", "BatchMode=yes", sshTarget(req), req.Command}
	return e.tool(ctx, e.cfg.SSHBinary, args, "")
}

// tool resolves bin on PATH and runs it under the command timeout.
func (e *Executor) tool(ctx context.Context, bin string, args []string, stdin string) models.ActionResult {
	path, err := e.lookPath(bin)
	if err != nil {
		return models.ActionResult{Success: false, Stderr: bin + " not found on PATH"}
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()

	stdout, stderr, err := e.run(ctx, path, args, stdin)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			stderr = fmt.Sprintf("%s timed out after %s", bin, e.cfg.CommandTimeout)
		} else if stderr == "" {
			stderr = err.Error()
		}
		return models.ActionResult{Success: false, Stdout: stdout, Stderr: stderr}
	}
	return models.ActionResult{Success: true, Stdout: stdout, Stderr: stderr}
}

func (e *Executor) webhook(ctx context.Context, req Request) models.ActionResult {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return models.ActionResult{Success: false, Stderr: err.Error()}
	}
	ctx, span := tracer.Start(ctx, "executor.webhook", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.WebhookTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return models.ActionResult{Success: false, Stderr: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.ActionResult{Success: false, Stderr: err.Error()}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	result := models.ActionResult{Success: resp.StatusCode < 300, Stderr: strconv.Itoa(resp.StatusCode)}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	result.Stdout = string(respBody)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		result.Stderr += ": read body: " + err.Error()
	}
	return result
}

func runCommand(ctx context.Context, bin string, args []string, stdin string) (string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
