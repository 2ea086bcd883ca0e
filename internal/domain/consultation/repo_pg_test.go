package consultation

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/telecare/telecare/internal/platform/apperr"
)

func TestActiveConflict(t *testing.T) {
	id := uuid.New()

	err := activeConflict(&pgconn.PgError{Code: "23505", ConstraintName: "uq_consultations_patient_active"}, id)
	if !apperr.HasCode(err, apperr.CodeActiveConsultationExists) {
		t.Fatalf("expected ACTIVE_CONSULTATION_EXISTS, got %v", err)
	}

	other := &pgconn.PgError{Code: "23505", ConstraintName: "consultations_pkey"}
	if got := activeConflict(other, id); !errors.Is(got, other) {
		t.Errorf("unrelated unique violation should pass through, got %v", got)
	}
	if activeConflict(nil, id) != nil {
		t.Error("nil stays nil")
	}
}

func TestPaymentConflict(t *testing.T) {
	err := paymentConflict(&pgconn.PgError{Code: "23505", ConstraintName: "uq_consultations_payment"}, "pay_9")
	if !apperr.HasCode(err, apperr.CodePaymentAlreadyConfirmed) {
		t.Fatalf("expected PAYMENT_ALREADY_CONFIRMED, got %v", err)
	}

	other := &pgconn.PgError{Code: "23505", ConstraintName: "uq_consultations_patient_active"}
	if got := paymentConflict(other, "pay_9"); !errors.Is(got, other) {
		t.Errorf("unrelated unique violation should pass through, got %v", got)
	}
	if paymentConflict(nil, "pay_9") != nil {
		t.Error("nil stays nil")
	}
}
