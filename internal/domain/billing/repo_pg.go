package billing

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

var ErrNotFound = errors.New("claim not found")

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

const claimCols = `id, patient_id, claim_number, amount_cents, currency, status,
	service_start, service_end, payer, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_claims (
			id, patient_id, claim_number, amount_cents, currency, status,
			service_start, service_end, payer
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.PatientID, c.ClaimNumber, c.AmountCents, c.Currency, c.Status,
		c.ServiceStart, c.ServiceEnd, c.Payer,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	var c Claim
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM billing_claims WHERE id = $1`, id).Scan(
		&c.ID, &c.PatientID, &c.ClaimNumber, &c.AmountCents, &c.Currency, &c.Status,
		&c.ServiceStart, &c.ServiceEnd, &c.Payer, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) Update(ctx context.Context, c *Claim) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE billing_claims SET
			amount_cents=$2, currency=$3, status=$4, service_start=$5, service_end=$6,
			payer=$7, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.AmountCents, c.Currency, c.Status, c.ServiceStart, c.ServiceEnd, c.Payer,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Claim, int, error) {
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

	if patientID != uuid.Nil {
		add("patient_id = $%d", patientID)
	}
	if status != "" {
		add("status = $%d", status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM billing_claims`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM billing_claims%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		claimCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(
			&c.ID, &c.PatientID, &c.ClaimNumber, &c.AmountCents, &c.Currency, &c.Status,
			&c.ServiceStart, &c.ServiceEnd, &c.Payer, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		claims = append(claims, &c)
	}
	return claims, total, nil
}
