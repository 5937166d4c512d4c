package executor

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

// DefaultApprovalTokenEnv names the environment variable holding the approval secret.
const DefaultApprovalTokenEnv = "GOVERNANCE_APPROVAL_TOKEN"

const minJustificationLen = 10

// ErrInsufficientJustification is returned when the trimmed justification is
// shorter than ten characters.
var ErrInsufficientJustification = errors.New("justification required (min 10 characters)")

// SafeExecutor requires a justification for every call and runs live only
// when the caller presents the configured approval token. The mode is decided
// per call, so a promotion never leaks into other calls.
type SafeExecutor struct {
	exec   *Executor
	secret func() string
	logger *slog.Logger
}

// NewSafeExecutor reads the approval secret from the environment variable
// tokenEnv on every call, so rotating it needs no restart.
func NewSafeExecutor(exec *Executor, tokenEnv string, logger *slog.Logger) *SafeExecutor {
	if tokenEnv == "" {
		tokenEnv = DefaultApprovalTokenEnv
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeExecutor{
		exec:   exec,
		secret: func() string { return os.Getenv(tokenEnv) },
		logger: logger,
	}
}

// Perform validates the justification, records a safety_check audit entry and
// delegates to the executor. Without a matching token the call is a dry run,
// whatever the executor's default mode.
func (s *SafeExecutor) Perform(ctx context.Context, req Request, justification, approvalToken string) (models.ActionResult, error) {
	if utf8.RuneCountInString(strings.TrimSpace(justification)) < minJustificationLen {
		return models.ActionResult{}, ErrInsufficientJustification
	}
	if err := Validate(req); err != nil {
		metrics.ObserveValidationFailure(string(req.Kind))
		return models.ActionResult{}, err
	}

	approved := s.tokenMatches(approvalToken)
	details := map[string]any{
		"func":          string(req.Kind),
		"justification": justification,
		"approved":      approved,
	}
	if req.ActionID != "" {
		details["action_id"] = req.ActionID
	}
	if _, err := s.exec.audit.Append("safety_check", details); err != nil {
		return models.ActionResult{}, err
	}
	metrics.ObserveSafetyCheck(approved)

	dryRun := true
	if approved {
		dryRun = false
		s.logger.Warn("approval token accepted, executing live",
			slog.String("kind", string(req.Kind)),
			slog.String("action_id", req.ActionID))
	}
	return s.exec.ExecuteMode(ctx, req, dryRun)
}

func (s *SafeExecutor) tokenMatches(token string) bool {
	secret := s.secret()
	if token == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
