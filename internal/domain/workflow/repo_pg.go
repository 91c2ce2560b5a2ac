package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careguard/careguard/internal/platform/db"
)

var (
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrExecutionNotFound  = errors.New("workflow execution not found")
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) CreateDefinition(ctx context.Context, d *Definition) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO workflow_definitions (id, name, version, steps)
		VALUES ($1,$2,$3,$4)`,
		d.ID, d.Name, d.Version, d.Steps,
	)
	return err
}

func (r *repoPG) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	var d Definition
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, version, steps, created_at
		FROM workflow_definitions WHERE id = $1`, id).Scan(
		&d.ID, &d.Name, &d.Version, &d.Steps, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) ListDefinitions(ctx context.Context, limit, offset int) ([]*Definition, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM workflow_definitions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, version, steps, created_at
		FROM workflow_definitions ORDER BY name, version DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.ID, &d.Name, &d.Version, &d.Steps, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		defs = append(defs, &d)
	}
	return defs, total, nil
}

func (r *repoPG) CreateExecution(ctx context.Context, e *Execution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO workflow_executions (id, definition_id, status, current_step, input, output, error, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.DefinitionID, e.Status, e.CurrentStep, e.Input, e.Output, e.Error, e.StartedAt,
	)
	return err
}

func (r *repoPG) UpdateExecution(ctx context.Context, e *Execution) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE workflow_executions SET
			status=$2, current_step=$3, output=$4, error=$5, finished_at=$6
		WHERE id = $1`,
		e.ID, e.Status, e.CurrentStep, e.Output, e.Error, e.FinishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (r *repoPG) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var e Execution
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, definition_id, status, current_step, input, output, error, started_at, finished_at
		FROM workflow_executions WHERE id = $1`, id).Scan(
		&e.ID, &e.DefinitionID, &e.Status, &e.CurrentStep, &e.Input, &e.Output, &e.Error, &e.StartedAt, &e.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) ListExecutions(ctx context.Context, definitionID uuid.UUID, status string, limit, offset int) ([]*Execution, int, error) {
	where := ""
	var args []interface{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(clause, len(args))
	}

	if definitionID != uuid.Nil {
		add("definition_id = $%d", definitionID)
	}
	if status != "" {
		add("status = $%d", status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM workflow_executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, definition_id, status, current_step, input, output, error, started_at, finished_at
		FROM workflow_executions%s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(
			&e.ID, &e.DefinitionID, &e.Status, &e.CurrentStep, &e.Input, &e.Output, &e.Error, &e.StartedAt, &e.FinishedAt,
		); err != nil {
			return nil, 0, err
		}
		execs = append(execs, &e)
	}
	return execs, total, nil
}
