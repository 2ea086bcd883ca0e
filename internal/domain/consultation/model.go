package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/diagnosis"
)

type Status string

const (
	StatusDraft                     Status = "DRAFT"
	StatusPending                   Status = "PENDING"
	StatusPaymentPending            Status = "PAYMENT_PENDING"
	StatusPaymentConfirmed          Status = "PAYMENT_CONFIRMED"
	StatusClinicalAssessmentPending Status = "CLINICAL_ASSESSMENT_PENDING"
	StatusActive                    Status = "ACTIVE"
	StatusDoctorReviewPending       Status = "DOCTOR_REVIEW_PENDING"
	StatusDoctorAssigned            Status = "DOCTOR_ASSIGNED"
	StatusInProgress                Status = "IN_PROGRESS"
	StatusOnHold                    Status = "ON_HOLD"
	StatusCompleted                 Status = "COMPLETED"
	StatusCancelled                 Status = "CANCELLED"
	StatusExpired                   Status = "EXPIRED"
)

// terminalStatuses is also used verbatim in store queries.
var terminalStatuses = []Status{StatusCompleted, StatusCancelled, StatusExpired}

func (s Status) IsTerminal() bool {
	for _, t := range terminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := allowedTransitions[s]
	return ok
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status         Status         `json:"status" bson:"status"`
	PreviousStatus Status         `json:"previous_status,omitempty" bson:"previous_status,omitempty"`
	Timestamp      time.Time      `json:"timestamp" bson:"timestamp"`
	Actor          string         `json:"actor" bson:"actor"`
	Reason         string         `json:"reason,omitempty" bson:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

type PaymentInfo struct {
	PaymentID     string    `json:"payment_id" bson:"payment_id"`
	TransactionID string    `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	Amount        int64     `json:"amount" bson:"amount"`
	Currency      string    `json:"currency" bson:"currency"`
	PaidAt        time.Time `json:"paid_at" bson:"paid_at"`
}

// Consultation is the durable record of one paid encounter between a
// patient and a doctor. It is never deleted; cancellation is a status.
type Consultation struct {
	ID             uuid.UUID                  `json:"id" bson:"-"`
	PatientID      string                     `json:"patient_id" bson:"patient_id"`
	DoctorID       *uuid.UUID                 `json:"doctor_id,omitempty" bson:"-"`
	Type           diagnosis.ConsultationType `json:"consultation_type" bson:"consultation_type"`
	Status         Status                     `json:"status" bson:"status"`
	IsActive       bool                       `json:"is_active" bson:"is_active"`
	Symptoms       *diagnosis.Request         `json:"symptoms,omitempty" bson:"symptoms,omitempty"`
	Diagnosis      *diagnosis.Result          `json:"diagnosis,omitempty" bson:"diagnosis,omitempty"`
	Payment        *PaymentInfo               `json:"payment,omitempty" bson:"payment,omitempty"`
	SessionID      *uuid.UUID                 `json:"session_id,omitempty" bson:"-"`
	IsRecovered    bool                       `json:"is_recovered" bson:"is_recovered"`
	RecoveryReason string                     `json:"recovery_reason,omitempty" bson:"recovery_reason,omitempty"`
	StatusHistory  []StatusChange             `json:"status_history" bson:"status_history"`
	StartedAt      *time.Time                 `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CancelledAt    *time.Time                 `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	ExpiresAt      time.Time                  `json:"expires_at" bson:"expires_at"`
	CreatedAt      time.Time                  `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at" bson:"updated_at"`
}

// CreateInput carries what consultation creation needs from intake and
// payment.
type CreateInput struct {
	PatientID      string
	Type           diagnosis.ConsultationType
	Symptoms       *diagnosis.Request
	Diagnosis      *diagnosis.Result
	Payment        *PaymentInfo
	SessionID      *uuid.UUID
	IsRecovered    bool
	RecoveryReason string
	Actor          string
	// ReplaceActive skips the one-active-consultation check; activation
	// later cancels the previous one.
	ReplaceActive bool
}
