package compliance

import "context"

// Repository persists findings and the remediation log.
type Repository interface {
	InsertFinding(ctx context.Context, rec *FindingRecord) error
	InsertRemediation(ctx context.Context, rem *Remediation) error
	ListFindings(ctx context.Context, filter FindingFilter, limit, offset int) ([]*FindingRecord, int, error)
	ListRemediations(ctx context.Context, findingID string, limit, offset int) ([]*Remediation, int, error)
}

// FindingFilter selects findings for the read API.
type FindingFilter struct {
	Severity    string
	FindingType string
	AccountID   string
}
