package patient

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

// ErrNotFound is returned for missing or soft-deleted patients.
var ErrNotFound = errors.New("patient not found")

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

const patientCols = `id, identifiers, family_name, given_name, middle_name, gender,
	birth_date, telecom, address, marital_status, active, phi_detected,
	created_at, updated_at, deleted_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (
			id, identifiers, family_name, given_name, middle_name, gender,
			birth_date, telecom, address, marital_status, active, phi_detected
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.Identifiers, p.FamilyName, p.GivenName, p.MiddleName, p.Gender,
		p.BirthDate, p.Telecom, p.Address, p.MaritalStatus, p.Active, p.PHIDetected,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET
			identifiers=$2, family_name=$3, given_name=$4, middle_name=$5, gender=$6,
			birth_date=$7, telecom=$8, address=$9, marital_status=$10, active=$11,
			phi_detected=$12, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		p.ID, p.Identifiers, p.FamilyName, p.GivenName, p.MiddleName, p.Gender,
		p.BirthDate, p.Telecom, p.Address, p.MaritalStatus, p.Active, p.PHIDetected,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET active = FALSE, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	where := " WHERE deleted_at IS NULL"
	var args []interface{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		where += " AND " + fmt.Sprintf(clause, len(args))
	}

	if params.FamilyName != "" {
		add("family_name ILIKE $%d", params.FamilyName+"%")
	}
	if params.GivenName != "" {
		add("given_name ILIKE $%d", params.GivenName+"%")
	}
	if params.Gender != "" {
		add("gender = $%d", params.Gender)
	}
	if params.Active != nil {
		add("active = $%d", *params.Active)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY family_name, given_name LIMIT $%d OFFSET $%d`,
		patientCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(
			&p.ID, &p.Identifiers, &p.FamilyName, &p.GivenName, &p.MiddleName, &p.Gender,
			&p.BirthDate, &p.Telecom, &p.Address, &p.MaritalStatus, &p.Active, &p.PHIDetected,
			&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
		); err != nil {
			return nil, 0, err
		}
		patients = append(patients, &p)
	}
	return patients, total, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Identifiers, &p.FamilyName, &p.GivenName, &p.MiddleName, &p.Gender,
		&p.BirthDate, &p.Telecom, &p.Address, &p.MaritalStatus, &p.Active, &p.PHIDetected,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
