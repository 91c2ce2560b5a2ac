package audit

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

const auditCols = `id, occurred_at, actor, action, resource_type, resource_id,
	source, risk_level, entities_detected, phi_count, duration_ms, detail`

func (r *repoPG) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (
			id, occurred_at, actor, action, resource_type, resource_id,
			source, risk_level, entities_detected, phi_count, duration_ms, detail
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.OccurredAt, rec.Actor, rec.Action, rec.ResourceType, rec.ResourceID,
		rec.Source, rec.RiskLevel, rec.EntitiesDetected, rec.PHICount, rec.DurationMS, rec.Detail,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+auditCols+` FROM audit_log WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, filter Filter, limit, offset int) ([]*Record, int, error) {
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

	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.Since != nil {
		add("occurred_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("occurred_at <= $%d", *filter.Until)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_log%s ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`,
		auditCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.OccurredAt, &rec.Actor, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&rec.Source, &rec.RiskLevel, &rec.EntitiesDetected, &rec.PHICount, &rec.DurationMS, &rec.Detail,
		); err != nil {
			return nil, 0, err
		}
		recs = append(recs, &rec)
	}
	return recs, total, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.OccurredAt, &rec.Actor, &rec.Action, &rec.ResourceType, &rec.ResourceID,
		&rec.Source, &rec.RiskLevel, &rec.EntitiesDetected, &rec.PHICount, &rec.DurationMS, &rec.Detail,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
