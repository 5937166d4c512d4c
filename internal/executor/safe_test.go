package executor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSafe(t *testing.T, secret string) (*SafeExecutor, *fakeRunner, string) {
	t.Helper()
	exec, runner, path := newTestExecutor(t, true)
	safe := NewSafeExecutor(exec, "", nil)
	safe.secret = func() string { return secret }
	return safe, runner, path
}

var restartReq = Request{Kind: KindRestart, Deployment: "auth-service"}

func TestShortJustificationRejectedBeforeAudit(t *testing.T) {
	safe, runner, path := newSafe(t, "s3cret")

	for _, justification := range []string{"  too short  ", "修复数据库连接", "  ключ jwt  "} {
		_, err := safe.Perform(context.Background(), restartReq, justification, "s3cret")
		assert.ErrorIs(t, err, ErrInsufficientJustification, justification)
	}
	assert.Zero(t, runner.count())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestJustificationCountsCharacters(t *testing.T) {
	safe, _, path := newSafe(t, "s3cret")

	res, err := safe.Perform(context.Background(), restartReq, "修复数据库连接池后重启认证服务", "wrong")
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Len(t, auditLines(t, path), 2)
}

func TestWithoutTokenRunsDryAndAudits(t *testing.T) {
	safe, runner, path := newSafe(t, "s3cret")

	res, err := safe.Perform(context.Background(), restartReq, "auth pods stuck after vault unseal", "wrong")
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, runner.count())

	entries := auditLines(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "safety_check", entries[0].Record.Action)
	assert.Equal(t, false, entries[0].Record.Details["approved"])
	assert.Equal(t, "restart_deployment", entries[1].Record.Action)
}

func TestDryRunEvenWhenExecutorDefaultsLive(t *testing.T) {
	exec, runner, _ := newTestExecutor(t, false)
	safe := NewSafeExecutor(exec, "", nil)
	safe.secret = func() string { return "s3cret" }

	res, err := safe.Perform(context.Background(), restartReq, "auth pods stuck after vault unseal", "")
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, runner.count())
}

func TestMatchingTokenPromotesSingleCall(t *testing.T) {
	safe, runner, path := newSafe(t, "s3cret")
	ctx := context.Background()

	res, err := safe.Perform(ctx, restartReq, "auth pods stuck after vault unseal", "s3cret")
	require.NoError(t, err)
	assert.False(t, res.DryRun)
	assert.Equal(t, 1, runner.count())

	res, err = safe.Perform(ctx, restartReq, "auth pods stuck after vault unseal", "")
	require.NoError(t, err)
	assert.True(t, res.DryRun, "promotion must not outlive the call")
	assert.Equal(t, 1, runner.count())
	assert.True(t, safe.exec.DryRun())

	entries := auditLines(t, path)
	require.Len(t, entries, 4)
	assert.Equal(t, true, entries[0].Record.Details["approved"])
	assert.Equal(t, false, entries[1].Record.Details["dry_run"])
}

func TestEmptySecretNeverPromotes(t *testing.T) {
	safe, runner, _ := newSafe(t, "")
	res, err := safe.Perform(context.Background(), restartReq, "auth pods stuck after vault unseal", "")
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, runner.count())
}

func TestSecretReadFromEnvironment(t *testing.T) {
	t.Setenv("TEST_APPROVAL_TOKEN", "from-env")
	exec, runner, _ := newTestExecutor(t, true)
	safe := NewSafeExecutor(exec, "TEST_APPROVAL_TOKEN", nil)

	res, err := safe.Perform(context.Background(), restartReq, "auth pods stuck after vault unseal", "from-env")
	require.NoError(t, err)
	assert.False(t, res.DryRun)
	assert.Equal(t, 1, runner.count())
}

func TestInvalidRequestRejectedBeforeSafetyAudit(t *testing.T) {
	safe, _, path := newSafe(t, "s3cret")
	_, err := safe.Perform(context.Background(), Request{Kind: KindRemoteCommand, Host: "h", Command: "reboot"}, "node wedged, needs reboot now", "s3cret")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConcurrentPromotionDoesNotLeak(t *testing.T) {
	safe, _, _ := newSafe(t, "s3cret")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := safe.Perform(ctx, restartReq, "auth pods stuck after vault unseal", "s3cret")
			assert.NoError(t, err)
			assert.False(t, res.DryRun)
		}()
		go func() {
			defer wg.Done()
			res, err := safe.Perform(ctx, restartReq, "auth pods stuck after vault unseal", "")
			assert.NoError(t, err)
			assert.True(t, res.DryRun)
		}()
	}
	wg.Wait()
}
