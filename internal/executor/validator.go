package executor

import (
	"fmt"
	"strings"
)

// forbiddenCommandPatterns are rejected anywhere in a remote command, case-insensitively.
var forbiddenCommandPatterns = []string{"rm -rf", ":(){:|:&};:", "shutdown", "reboot"}

// ValidationError reports a request rejected before any audit or side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validate applies the rule for req.Kind.
func Validate(req Request) error {
	h, ok := dispatchTable()[req.Kind]
	if !ok {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown action kind %q", req.Kind)}
	}
	return h.validate(req)
}

// ValidateManifest requires a non-blank manifest declaring apiVersion and kind.
func ValidateManifest(manifest string) error {
	if strings.TrimSpace(manifest) == "" {
		return &ValidationError{Field: "manifest", Reason: "empty manifest"}
	}
	if !strings.Contains(manifest, "apiVersion:") || !strings.Contains(manifest, "kind:") {
		return &ValidationError{Field: "manifest", Reason: "manifest missing apiVersion or kind"}
	}
	return nil
}

// ValidateRemoteCommand rejects commands containing a forbidden pattern.
func ValidateRemoteCommand(host, command string) error {
	if strings.TrimSpace(host) == "" {
		return &ValidationError{Field: "host", Reason: "host required"}
	}
	if strings.TrimSpace(command) == "" {
		return &ValidationError{Field: "command", Reason: "command required"}
	}
	low := strings.ToLower(command)
	for _, pat := range forbiddenCommandPatterns {
		if strings.Contains(low, pat) {
			return &ValidationError{Field: "command", Reason: "command contains forbidden pattern: " + pat}
		}
	}
	return nil
}

// ValidateWebhookURL requires an http or https URL.
func ValidateWebhookURL(url string) error {
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return &ValidationError{Field: "url", Reason: "webhook URL must be http(s)"}
	}
	return nil
}

// ValidateDeployment requires a deployment name and a non-negative replica count.
func ValidateDeployment(name string, replicas int) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "deployment", Reason: "deployment name required"}
	}
	if replicas < 0 {
		return &ValidationError{Field: "replicas", Reason: "replicas must be >= 0"}
	}
	return nil
}
