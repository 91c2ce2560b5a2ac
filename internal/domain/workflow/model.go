package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Execution statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Step is one ordered entry in a definition. Handler names a registered step
// handler; Params are passed to it verbatim.
type Step struct {
	Name    string          `json:"name"`
	Handler string          `json:"handler"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Definition maps to the workflow_definitions table.
type Definition struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Version   int       `db:"version" json:"version"`
	Steps     []Step    `db:"steps" json:"steps"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Execution maps to the workflow_executions table.
type Execution struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	DefinitionID uuid.UUID       `db:"definition_id" json:"definition_id"`
	Status       string          `db:"status" json:"status"`
	CurrentStep  int             `db:"current_step" json:"current_step"`
	Input        json.RawMessage `db:"input" json:"input,omitempty"`
	Output       json.RawMessage `db:"output" json:"output,omitempty"`
	Error        *string         `db:"error" json:"error,omitempty"`
	StartedAt    time.Time       `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}
