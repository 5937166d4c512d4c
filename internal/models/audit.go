package models

// AuditRecord is one append-only entry of the executor audit log.
type AuditRecord struct {
	Action  string         `json:"action"`
	Details map[string]any `json:"details"`
}

// AuditEntry is the on-disk line: the record plus the digest of its canonical form.
type AuditEntry struct {
	Record AuditRecord `json:"record"`
	SHA256 string      `json:"sha256"`
}
