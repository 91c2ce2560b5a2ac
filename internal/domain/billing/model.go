package billing

import (
	"time"

	"github.com/google/uuid"
)

// Claim statuses. Paid, denied, and void are terminal.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusApproved  = "approved"
	StatusDenied    = "denied"
	StatusPaid      = "paid"
	StatusVoid      = "void"
)

// Claim maps to the billing_claims table. Amounts are integer cents.
type Claim struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	ClaimNumber  string     `db:"claim_number" json:"claim_number"`
	AmountCents  int64      `db:"amount_cents" json:"amount_cents"`
	Currency     string     `db:"currency" json:"currency"`
	Status       string     `db:"status" json:"status"`
	ServiceStart time.Time  `db:"service_start" json:"service_start"`
	ServiceEnd   *time.Time `db:"service_end" json:"service_end,omitempty"`
	Payer        *string    `db:"payer" json:"payer,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
