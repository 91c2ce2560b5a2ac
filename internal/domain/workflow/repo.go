package workflow

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateDefinition(ctx context.Context, d *Definition) error
	GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error)
	ListDefinitions(ctx context.Context, limit, offset int) ([]*Definition, int, error)

	CreateExecution(ctx context.Context, e *Execution) error
	UpdateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error)
	ListExecutions(ctx context.Context, definitionID uuid.UUID, status string, limit, offset int) ([]*Execution, int, error)
}
