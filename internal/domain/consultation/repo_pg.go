package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

const consultationCols = `id, patient_id, doctor_id, consultation_type, status, is_active,
	symptoms, diagnosis, payment, session_id, is_recovered, recovery_reason, status_history,
	started_at, completed_at, cancelled_at, expires_at, created_at, updated_at`

const notTerminal = `status NOT IN ('COMPLETED', 'CANCELLED', 'EXPIRED')`

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	symptoms, err := marshalNullable(c.Symptoms)
	if err != nil {
		return err
	}
	diag, err := marshalNullable(c.Diagnosis)
	if err != nil {
		return err
	}
	payment, err := marshalNullable(c.Payment)
	if err != nil {
		return err
	}
	history, err := json.Marshal(nonNilHistory(c.StatusHistory))
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO consultations (
			id, patient_id, doctor_id, consultation_type, status, is_active,
			symptoms, diagnosis, payment, session_id, is_recovered, recovery_reason, status_history,
			expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.ID, c.PatientID, c.DoctorID, c.Type, c.Status, c.IsActive,
		symptoms, diag, payment, c.SessionID, c.IsRecovered, c.RecoveryReason, history,
		c.ExpiresAt, c.CreatedAt, c.UpdatedAt,
	)
	if c.Payment != nil {
		return paymentConflict(err, c.Payment.PaymentID)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return c, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Consultation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultations WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectConsultations(rows)
	return items, total, err
}

func (r *repoPG) ApplyTransition(ctx context.Context, u TransitionUpdate) (*Consultation, error) {
	entry, err := json.Marshal([]StatusChange{u.Change})
	if err != nil {
		return nil, err
	}
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx, `
		UPDATE consultations SET
			status = $3, is_active = $4,
			started_at = $5, completed_at = $6, cancelled_at = $7,
			updated_at = $8,
			status_history = status_history || $9::jsonb
		WHERE id = $1 AND status = $2
		RETURNING `+consultationCols,
		u.ID, u.From, u.Change.Status, u.IsActive,
		u.StartedAt, u.CompletedAt, u.CancelledAt, u.UpdatedAt, entry,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missOrStale(ctx, u.ID, u.From)
	}
	return c, activeConflict(err, u.ID)
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, at time.Time) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx, `
		UPDATE consultations SET is_active = TRUE, updated_at = $2
		WHERE id = $1 AND `+notTerminal+`
		RETURNING `+consultationCols, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, staleUpdate(id, "a non-terminal status")
	}
	return c, activeConflict(err, id)
}

// activeConflict maps a hit on uq_consultations_patient_active, which fires
// when a concurrent activation for the same patient committed first.
func activeConflict(err error, id uuid.UUID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_consultations_patient_active" {
		return apperr.Conflict(apperr.CodeActiveConsultationExists,
			"another consultation was activated concurrently; %s left inactive", id)
	}
	return err
}

// paymentConflict maps a hit on uq_consultations_payment, which fires when
// the same payment is confirmed twice.
func paymentConflict(err error, paymentID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_consultations_payment" {
		return paymentConfirmed(paymentID)
	}
	return err
}

func (r *repoPG) DeactivateOthers(ctx context.Context, patientID string, keep uuid.UUID, change BulkChange) (int64, error) {
	return r.bulkStatus(ctx, StatusCancelled, `patient_id = $5 AND id <> $6 AND is_active AND `+notTerminal,
		change, patientID, keep)
}

func (r *repoPG) ExpireDue(ctx context.Context, change BulkChange) (int64, error) {
	return r.bulkStatus(ctx, StatusExpired, `expires_at <= $1 AND `+notTerminal, change)
}

// bulkStatus sets status on every row matching where and appends a history
// entry whose previous_status is the row's own status. where may use $1
// (timestamp) and placeholders from $5 on.
func (r *repoPG) bulkStatus(ctx context.Context, to Status, where string, change BulkChange, args ...interface{}) (int64, error) {
	meta, err := json.Marshal(change.Metadata)
	if err != nil {
		return 0, err
	}
	cancelledAt := "cancelled_at"
	if to == StatusCancelled {
		cancelledAt = "$1"
	}
	sql := fmt.Sprintf(`
		UPDATE consultations SET
			status = '%s', is_active = FALSE, cancelled_at = %s, updated_at = $1,
			status_history = status_history || jsonb_build_array(jsonb_build_object(
				'status', '%s',
				'previous_status', status,
				'timestamp', $1::timestamptz,
				'actor', $2::text,
				'reason', $3::text,
				'metadata', $4::jsonb))
		WHERE %s`, to, cancelledAt, to, where)

	params := append([]interface{}{change.Timestamp.UTC(), change.Actor, change.Reason, meta}, args...)
	tag, err := r.conn(ctx).Exec(ctx, sql, params...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) FindActiveByPatient(ctx context.Context, patientID string) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations
		 WHERE patient_id = $1 AND is_active AND `+notTerminal+`
		 ORDER BY updated_at DESC LIMIT 1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *repoPG) FindByPaymentID(ctx context.Context, paymentID string) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE payment->>'payment_id' = $1`, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *repoPG) missOrStale(ctx context.Context, id uuid.UUID, from Status) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return staleUpdate(id, from)
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var (
		c                       Consultation
		symptoms, diag, payment []byte
		history                 []byte
	)
	err := row.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.Type, &c.Status, &c.IsActive,
		&symptoms, &diag, &payment, &c.SessionID, &c.IsRecovered, &c.RecoveryReason, &history,
		&c.StartedAt, &c.CompletedAt, &c.CancelledAt, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalNullable(symptoms, &c.Symptoms); err != nil {
		return nil, fmt.Errorf("decode symptoms: %w", err)
	}
	if err := unmarshalNullable(diag, &c.Diagnosis); err != nil {
		return nil, fmt.Errorf("decode diagnosis: %w", err)
	}
	if err := unmarshalNullable(payment, &c.Payment); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	if err := unmarshalNullable(history, &c.StatusHistory); err != nil {
		return nil, fmt.Errorf("decode status history: %w", err)
	}
	return &c, nil
}

func collectConsultations(rows pgx.Rows) ([]*Consultation, error) {
	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nonNilHistory(h []StatusChange) []StatusChange {
	if h == nil {
		return []StatusChange{}
	}
	return h
}
