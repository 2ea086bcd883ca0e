package shift

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
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

const shiftCols = `id, doctor_id, start_hour, end_hour, status, effective_from, effective_to, created_at`

func (r *repoPG) Create(ctx context.Context, s *DoctorShift) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_shifts (id, doctor_id, start_hour, end_hour, status, effective_from, effective_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		s.ID, s.DoctorID, s.StartHour, s.EndHour, s.Status, s.EffectiveFrom, s.EffectiveTo,
	).Scan(&s.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorShift, error) {
	s, err := scanShift(r.conn(ctx).QueryRow(ctx, `SELECT `+shiftCols+` FROM doctor_shifts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeNotFound, "doctor shift %s not found", id)
	}
	return s, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*DoctorShift, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor_shifts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+shiftCols+` FROM doctor_shifts ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	shifts, err := collectShifts(rows)
	return shifts, total, err
}

func (r *repoPG) ListActive(ctx context.Context, at time.Time) ([]*DoctorShift, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+shiftCols+` FROM doctor_shifts
		WHERE status = 'ACTIVE'
		  AND effective_from <= $1
		  AND (effective_to IS NULL OR effective_to > $1)
		ORDER BY created_at DESC`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectShifts(rows)
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE doctor_shifts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(apperr.CodeNotFound, "doctor shift %s not found", id)
	}
	return nil
}

func scanShift(row pgx.Row) (*DoctorShift, error) {
	var s DoctorShift
	err := row.Scan(&s.ID, &s.DoctorID, &s.StartHour, &s.EndHour, &s.Status,
		&s.EffectiveFrom, &s.EffectiveTo, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectShifts(rows pgx.Rows) ([]*DoctorShift, error) {
	var out []*DoctorShift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
