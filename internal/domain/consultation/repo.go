package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
)

// DeactivatedReason is recorded on consultations cancelled because another
// one of the same patient was activated.
const DeactivatedReason = "Deactivated due to new active consultation"

// ExpiredReason is recorded by the expiry sweep.
const ExpiredReason = "Consultation expired"

// BulkChange describes the history entry a bulk update appends to every
// matched record. PreviousStatus is taken from each record.
type BulkChange struct {
	Timestamp time.Time
	Actor     string
	Reason    string
	Metadata  map[string]any
}

type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Consultation, int, error)
	// ApplyTransition writes u only if the record is still in u.From.
	// Returns STALE_UPDATE when another writer moved it first.
	ApplyTransition(ctx context.Context, u TransitionUpdate) (*Consultation, error)
	// SetActive flags a non-terminal record active without changing status.
	SetActive(ctx context.Context, id uuid.UUID, at time.Time) (*Consultation, error)
	// DeactivateOthers cancels every other active, non-terminal record of
	// the patient and returns how many were changed.
	DeactivateOthers(ctx context.Context, patientID string, keep uuid.UUID, change BulkChange) (int64, error)
	// FindActiveByPatient returns nil when the patient has no active record.
	FindActiveByPatient(ctx context.Context, patientID string) (*Consultation, error)
	// FindByPaymentID returns nil when no record carries the payment.
	FindByPaymentID(ctx context.Context, paymentID string) (*Consultation, error)
	// ExpireDue moves every non-terminal record with expires_at <= change.Timestamp
	// to EXPIRED, bypassing the transition table.
	ExpireDue(ctx context.Context, change BulkChange) (int64, error)
}

// TxRunner runs fn so that repository calls made with its context share one
// store transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func notFound(id uuid.UUID) error {
	return apperr.NotFound(apperr.CodeConsultationNotFound, "consultation %s not found", id)
}

func paymentConfirmed(paymentID string) error {
	return apperr.Conflict(apperr.CodePaymentAlreadyConfirmed, "payment %s is already confirmed", paymentID)
}

func staleUpdate(id uuid.UUID, from Status) error {
	return apperr.Conflict(apperr.CodeStaleUpdate, "consultation %s is no longer in status %s", id, from)
}
