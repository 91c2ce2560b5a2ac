package labresult

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

var ErrNotFound = errors.New("lab result not found")

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

const lrCols = `id, patient_id, test_code, test_name, value, unit, reference_range,
	status, effective_time, performer, notes, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, lr *LabResult) error {
	if lr.ID == uuid.Nil {
		lr.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_results (
			id, patient_id, test_code, test_name, value, unit, reference_range,
			status, effective_time, performer, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		lr.ID, lr.PatientID, lr.TestCode, lr.TestName, lr.Value, lr.Unit, lr.ReferenceRange,
		lr.Status, lr.EffectiveTime, lr.Performer, lr.Notes,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	lr, err := scanResult(r.conn(ctx).QueryRow(ctx, `SELECT `+lrCols+` FROM lab_results WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lr, err
}

func (r *repoPG) Update(ctx context.Context, lr *LabResult) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_results SET
			test_code=$2, test_name=$3, value=$4, unit=$5, reference_range=$6,
			status=$7, effective_time=$8, performer=$9, notes=$10, updated_at=NOW()
		WHERE id = $1`,
		lr.ID, lr.TestCode, lr.TestName, lr.Value, lr.Unit, lr.ReferenceRange,
		lr.Status, lr.EffectiveTime, lr.Performer, lr.Notes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	return r.Search(ctx, SearchParams{PatientID: patientID}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*LabResult, int, error) {
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

	if params.PatientID != uuid.Nil {
		add("patient_id = $%d", params.PatientID)
	}
	if params.Status != "" {
		add("status = $%d", params.Status)
	}
	if params.TestCode != "" {
		add("test_code = $%d", params.TestCode)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_results`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM lab_results%s ORDER BY effective_time DESC LIMIT $%d OFFSET $%d`,
		lrCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*LabResult
	for rows.Next() {
		var lr LabResult
		if err := rows.Scan(
			&lr.ID, &lr.PatientID, &lr.TestCode, &lr.TestName, &lr.Value, &lr.Unit, &lr.ReferenceRange,
			&lr.Status, &lr.EffectiveTime, &lr.Performer, &lr.Notes, &lr.CreatedAt, &lr.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		results = append(results, &lr)
	}
	return results, total, nil
}

func scanResult(row pgx.Row) (*LabResult, error) {
	var lr LabResult
	err := row.Scan(
		&lr.ID, &lr.PatientID, &lr.TestCode, &lr.TestName, &lr.Value, &lr.Unit, &lr.ReferenceRange,
		&lr.Status, &lr.EffectiveTime, &lr.Performer, &lr.Notes, &lr.CreatedAt, &lr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lr, nil
}
