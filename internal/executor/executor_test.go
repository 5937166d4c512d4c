package executor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

type recordedCall struct {
	bin   string
	args  []string
	stdin string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []recordedCall
	stdout string
	stderr string
	err    error
	block  bool
}

func (f *fakeRunner) run(ctx context.Context, bin string, args []string, stdin string) (string, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{bin: bin, args: args, stdin: stdin})
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	return f.stdout, f.stderr, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestExecutor(t *testing.T, dryRun bool) (*Executor, *fakeRunner, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "actions.log")
	exec := New(Config{DryRun: dryRun, CommandTimeout: time.Second, WebhookTimeout: time.Second}, NewAuditLog(path), nil)
	runner := &fakeRunner{}
	exec.run = runner.run
	exec.lookPath = func(bin string) (string, error) { return "/usr/bin/" + bin, nil }
	return exec, runner, path
}

func auditLines(t *testing.T, path string) []models.AuditEntry {
	t.Helper()
	entries, err := ReadAuditLog(path)
	require.NoError(t, err)
	return entries
}

func TestDryRunAuditsAndSkipsSideEffect(t *testing.T) {
	exec, runner, path := newTestExecutor(t, true)

	res, err := exec.ScaleDeployment(context.Background(), "auth-service", 3, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Equal(t, "would scale auth-service to 3 replicas", res.Stdout)
	assert.Zero(t, runner.count())

	entries := auditLines(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "scale_deployment", entries[0].Record.Action)
	assert.Equal(t, "auth-service", entries[0].Record.Details["name"])
	assert.Equal(t, "default", entries[0].Record.Details["namespace"])
	assert.Equal(t, true, entries[0].Record.Details["dry_run"])
}

func TestValidationFailureWritesNoAudit(t *testing.T) {
	exec, runner, path := newTestExecutor(t, false)

	_, err := exec.RunRemoteCommand(context.Background(), "db-1", "root", "rm -rf /", 22)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Zero(t, runner.count())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "audit log must not be created for rejected actions")
}

func TestLiveRunsKubectl(t *testing.T) {
	exec, runner, path := newTestExecutor(t, false)
	runner.stdout = "deployment.apps/auth-service restarted"

	res, err := exec.RestartDeployment(context.Background(), "auth-service", "prod")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.DryRun)
	assert.Equal(t, runner.stdout, res.Stdout)

	require.Equal(t, 1, runner.count())
	assert.Equal(t, "/usr/bin/kubectl", runner.calls[0].bin)
	assert.Equal(t, []string{"rollout", "restart", "deployment", "auth-service", "-n", "prod"}, runner.calls[0].args)
	assert.Len(t, auditLines(t, path), 1)
}

func TestPatchManifestPassesManifestOnStdin(t *testing.T) {
	exec, runner, _ := newTestExecutor(t, false)
	manifest := "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: x\n"

	_, err := exec.PatchManifest(context.Background(), manifest, "")
	require.NoError(t, err)
	require.Equal(t, 1, runner.count())
	assert.Equal(t, manifest, runner.calls[0].stdin)
	assert.Equal(t, []string{"apply", "-f", "-", "-n", "default"}, runner.calls[0].args)
}

func TestMissingToolIsFailedResult(t *testing.T) {
	exec, runner, path := newTestExecutor(t, false)
	exec.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	res, err := exec.ScaleDeployment(context.Background(), "auth-service", 2, "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.DryRun)
	assert.Contains(t, res.Stderr, "kubectl")
	assert.Zero(t, runner.count())
	assert.Len(t, auditLines(t, path), 1, "attempt must still be audited")
}

func TestExecutionFailureKeepsStderr(t *testing.T) {
	exec, runner, _ := newTestExecutor(t, false)
	runner.stderr = "Error from server (NotFound): deployments.apps \"ghost\" not found"
	runner.err = errors.New("exit status 1")

	res, err := exec.RestartDeployment(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, runner.stderr, res.Stderr)
}

func TestRemoteCommandTimesOut(t *testing.T) {
	exec, runner, _ := newTestExecutor(t, false)
	exec.cfg.CommandTimeout = 20 * time.Millisecond
	runner.block = true

	start := time.Now()
	res, err := exec.RunRemoteCommand(context.Background(), "db-1", "ops", "uptime", 2222)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Stderr, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Equal(t, 1, runner.count())
	assert.Equal(t, "/usr/bin/ssh", runner.calls[0].bin)
	assert.Contains(t, runner.calls[0].args, "ops@db-1")
	assert.Contains(t, runner.calls[0].args, "2222")
}

func TestWebhookLive(t *testing.T) {
	var gotBody string
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotHeader = r.Header.Get("X-Token")
		if strings.Contains(gotBody, "fail") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	exec, _, _ := newTestExecutor(t, false)
	res, err := exec.TriggerWebhook(context.Background(), srv.URL, map[string]any{"incident": "inc-1"}, map[string]string{"X-Token": "t"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, "200", res.Stderr)
	assert.JSONEq(t, `{"incident":"inc-1"}`, gotBody)
	assert.Equal(t, "t", gotHeader)

	res, err = exec.TriggerWebhook(context.Background(), srv.URL, map[string]any{"mode": "fail"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "500", res.Stderr)
}

func TestWebhookTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	exec, _, _ := newTestExecutor(t, false)
	exec.cfg.WebhookTimeout = 30 * time.Millisecond

	res, err := exec.TriggerWebhook(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Stderr)
}

func TestWebhookReportsTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "64")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
	}))
	defer srv.Close()

	exec, _, _ := newTestExecutor(t, false)
	res, err := exec.TriggerWebhook(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "partial", res.Stdout)
	assert.True(t, strings.HasPrefix(res.Stderr, "200: read body: "), res.Stderr)
}

func TestAuditWrittenBeforeSideEffect(t *testing.T) {
	exec, _, path := newTestExecutor(t, false)
	var linesAtRun int
	exec.run = func(ctx context.Context, bin string, args []string, stdin string) (string, string, error) {
		entries, err := ReadAuditLog(path)
		require.NoError(t, err)
		linesAtRun = len(entries)
		return "", "boom", errors.New("exit status 1")
	}

	_, err := exec.ScaleDeployment(context.Background(), "auth-service", 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, linesAtRun)
}

func TestActionIDIsAudited(t *testing.T) {
	exec, _, path := newTestExecutor(t, true)
	_, err := exec.Execute(context.Background(), Request{Kind: KindRestart, Deployment: "api-gateway", ActionID: "act-9"})
	require.NoError(t, err)
	entries := auditLines(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "act-9", entries[0].Record.Details["action_id"])
}
