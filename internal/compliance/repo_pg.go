package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careguard/careguard/internal/platform/db"
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

func (r *repoPG) InsertFinding(ctx context.Context, rec *FindingRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO compliance_findings (
			id, finding_id, finding_type, severity, title, account_id,
			compliance_status, raw, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.FindingID, rec.FindingType, rec.Severity, rec.Title,
		rec.AccountID, rec.ComplianceStatus, rec.Raw, rec.CreatedAt,
	)
	return err
}

func (r *repoPG) InsertRemediation(ctx context.Context, rem *Remediation) error {
	if rem.ID == uuid.Nil {
		rem.ID = uuid.New()
	}
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO compliance_remediations (
			id, finding_id, status, actions, resource, reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rem.ID, rem.FindingID, rem.Status, rem.Actions, rem.Resource, rem.Reason, rem.CreatedAt,
	)
	return err
}

const findingCols = `id, finding_id, finding_type, severity, title, account_id,
	compliance_status, raw, created_at`

func (r *repoPG) ListFindings(ctx context.Context, filter FindingFilter, limit, offset int) ([]*FindingRecord, int, error) {
	where := ""
	args := []interface{}{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(clause, len(args))
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.FindingType != "" {
		add("finding_type = $%d", filter.FindingType)
	}
	if filter.AccountID != "" {
		add("account_id = $%d", filter.AccountID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM compliance_findings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+findingCols+` FROM compliance_findings`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*FindingRecord
	for rows.Next() {
		var rec FindingRecord
		if err := rows.Scan(
			&rec.ID, &rec.FindingID, &rec.FindingType, &rec.Severity, &rec.Title,
			&rec.AccountID, &rec.ComplianceStatus, &rec.Raw, &rec.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, &rec)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListRemediations(ctx context.Context, findingID string, limit, offset int) ([]*Remediation, int, error) {
	where := ""
	args := []interface{}{}
	if findingID != "" {
		where = " WHERE finding_id = $1"
		args = append(args, findingID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM compliance_remediations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, finding_id, status, actions, resource, reason, created_at
		FROM compliance_remediations`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Remediation
	for rows.Next() {
		var rem Remediation
		if err := rows.Scan(
			&rem.ID, &rem.FindingID, &rem.Status, &rem.Actions, &rem.Resource,
			&rem.Reason, &rem.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, &rem)
	}
	return out, total, rows.Err()
}
