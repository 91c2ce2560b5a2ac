// Package audit stores the append-only audit trail. Records are written by
// the API middleware, the document pipeline, and the compliance engine, and
// read back through the query API. Writes are best effort: a failing store
// must never fail the operation being audited.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the trail.
const (
	ActionCreate      = "CREATE"
	ActionRead        = "READ"
	ActionUpdate      = "UPDATE"
	ActionDelete      = "DELETE"
	ActionProcessed   = "PROCESSED"
	ActionQuarantined = "QUARANTINED"
	ActionRemediated  = "REMEDIATED"
)

// Sources that write audit records.
const (
	SourceAPI        = "api"
	SourcePipeline   = "pipeline"
	SourceCompliance = "compliance"
)

// Record maps to the audit_log table.
type Record struct {
	ID               uuid.UUID              `db:"id" json:"id"`
	OccurredAt       time.Time              `db:"occurred_at" json:"occurred_at"`
	Actor            string                 `db:"actor" json:"actor"`
	Action           string                 `db:"action" json:"action"`
	ResourceType     string                 `db:"resource_type" json:"resource_type"`
	ResourceID       string                 `db:"resource_id" json:"resource_id,omitempty"`
	Source           string                 `db:"source" json:"source"`
	RiskLevel        string                 `db:"risk_level" json:"risk_level,omitempty"`
	EntitiesDetected int                    `db:"entities_detected" json:"entities_detected,omitempty"`
	PHICount         int                    `db:"phi_count" json:"phi_count,omitempty"`
	DurationMS       int64                  `db:"duration_ms" json:"duration_ms,omitempty"`
	Detail           map[string]interface{} `db:"detail" json:"detail,omitempty"`
}

// Filter selects records for the read API.
type Filter struct {
	Action       string
	ResourceType string
	Actor        string
	Source       string
	Since        *time.Time
	Until        *time.Time
}
