package labresult

import (
	"time"

	"github.com/google/uuid"
)

// Lab result statuses. Transitions only move forward, except that a final
// result may be amended. Amended and cancelled are terminal.
const (
	StatusRegistered  = "registered"
	StatusPreliminary = "preliminary"
	StatusFinal       = "final"
	StatusAmended     = "amended"
	StatusCancelled   = "cancelled"
)

// LabResult maps to the lab_results table.
type LabResult struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	TestCode       string     `db:"test_code" json:"test_code"`
	TestName       string     `db:"test_name" json:"test_name"`
	Value          string     `db:"value" json:"value"`
	Unit           *string    `db:"unit" json:"unit,omitempty"`
	ReferenceRange *string    `db:"reference_range" json:"reference_range,omitempty"`
	Status         string     `db:"status" json:"status"`
	EffectiveTime  time.Time  `db:"effective_time" json:"effective_time"`
	Performer      *string    `db:"performer" json:"performer,omitempty"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// SearchParams are the supported lab result filters.
type SearchParams struct {
	PatientID uuid.UUID
	Status    string
	TestCode  string
}
