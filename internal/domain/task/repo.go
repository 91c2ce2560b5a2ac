package task

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*Task, int, error)
	DeleteExpired(ctx context.Context) (int64, error)
}
