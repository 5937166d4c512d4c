package executor

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// AuditLog appends tamper-evident JSONL entries to a file.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog returns an AuditLog writing to path. The file is created lazily.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Path returns the log location.
func (l *AuditLog) Path() string { return l.path }

// Digest returns the hex SHA-256 of the record's canonical form: compact JSON
// of {"action", "details"} with object keys sorted at every level.
func Digest(rec models.AuditRecord) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"action":  rec.Action,
		"details": rec.Details,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalise audit record: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Append writes one entry and syncs it before returning.
func (l *AuditLog) Append(action string, details map[string]any) (models.AuditEntry, error) {
	rec := models.AuditRecord{Action: action, Details: details}
	digest, err := Digest(rec)
	if err != nil {
		return models.AuditEntry{}, err
	}
	entry := models.AuditEntry{Record: rec, SHA256: digest}
	line, err := json.Marshal(entry)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("encode audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return models.AuditEntry{}, fmt.Errorf("create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return models.AuditEntry{}, fmt.Errorf("write audit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return models.AuditEntry{}, fmt.Errorf("sync audit log: %w", err)
	}
	return entry, nil
}

// CorruptionError identifies the first audit line that fails verification.
type CorruptionError struct {
	Line   int
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("audit log corrupted at line %d: %s", e.Line, e.Reason)
}

// VerifyAuditLog recomputes every digest in the file at path and returns the
// number of verified entries. A missing file verifies as empty.
func VerifyAuditLog(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo, verified := 0, 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return verified, &CorruptionError{Line: lineNo, Reason: "malformed entry: " + err.Error()}
		}
		digest, err := Digest(entry.Record)
		if err != nil {
			return verified, &CorruptionError{Line: lineNo, Reason: err.Error()}
		}
		if digest != entry.SHA256 {
			return verified, &CorruptionError{Line: lineNo, Reason: "digest mismatch"}
		}
		verified++
	}
	if err := scanner.Err(); err != nil {
		return verified, fmt.Errorf("read audit log: %w", err)
	}
	return verified, nil
}

// ReadAuditLog returns every entry without verifying digests.
func ReadAuditLog(path string) ([]models.AuditEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var out []models.AuditEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return out, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, scanner.Err()
}
