package patient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table. Records are soft deleted: DeletedAt is
// set and Active cleared, and reads treat such rows as absent.
type Patient struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Identifiers   json.RawMessage `db:"identifiers" json:"identifiers,omitempty"`
	FamilyName    string          `db:"family_name" json:"family_name"`
	GivenName     string          `db:"given_name" json:"given_name"`
	MiddleName    *string         `db:"middle_name" json:"middle_name,omitempty"`
	Gender        string          `db:"gender" json:"gender"`
	BirthDate     *time.Time      `db:"birth_date" json:"birth_date,omitempty"`
	Telecom       json.RawMessage `db:"telecom" json:"telecom,omitempty"`
	Address       json.RawMessage `db:"address" json:"address,omitempty"`
	MaritalStatus *string         `db:"marital_status" json:"marital_status,omitempty"`
	Active        bool            `db:"active" json:"active"`
	PHIDetected   bool            `db:"phi_detected" json:"phi_detected"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// SearchParams are the supported patient search filters.
type SearchParams struct {
	FamilyName string
	GivenName  string
	Gender     string
	Active     *bool
}
