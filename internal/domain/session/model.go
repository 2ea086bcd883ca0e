package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/platform/apperr"
)

// Phase is a step of the pre-consultation intake flow.
type Phase string

const (
	PhaseSymptomCollection     Phase = "symptom_collection"
	PhaseConsultationSelection Phase = "consultation_selection"
	PhasePaymentPending        Phase = "payment_pending"
	PhasePaymentConfirmed      Phase = "payment_confirmed"
	PhaseDetailedCollection    Phase = "detailed_collection"
	PhaseConsultationCreated   Phase = "consultation_created"
)

var phaseOrder = []Phase{
	PhaseSymptomCollection,
	PhaseConsultationSelection,
	PhasePaymentPending,
	PhasePaymentConfirmed,
	PhaseDetailedCollection,
	PhaseConsultationCreated,
}

func (p Phase) Valid() bool {
	return indexOf(phaseOrder, p) >= 0
}

// CanMoveTo reports whether a session in p may be written in phase next:
// the same phase or the one directly after it.
func (p Phase) CanMoveTo(next Phase) bool {
	return canAdvance(phaseOrder, p, next)
}

func indexOf[P comparable](order []P, p P) int {
	for i, o := range order {
		if o == p {
			return i
		}
	}
	return -1
}

func canAdvance[P comparable](order []P, from, to P) bool {
	i, j := indexOf(order, from), indexOf(order, to)
	if i < 0 || j < 0 {
		return false
	}
	return j == i || j == i+1
}

type Intake struct {
	Symptoms  *diagnosis.Request `json:"symptoms,omitempty"`
	Diagnosis *diagnosis.Result  `json:"diagnosis,omitempty"`
}

type Selection struct {
	ConsultationType diagnosis.ConsultationType `json:"consultation_type"`
	Price            int64                      `json:"price"`
	Currency         string                     `json:"currency"`
}

type Payment struct {
	PaymentID     string `json:"payment_id"`
	OrderStatus   string `json:"order_status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type Detailed struct {
	Answers map[string]string `json:"answers,omitempty"`
}

type ConsultationRef struct {
	ConsultationID uuid.UUID `json:"consultation_id"`
}

// Data holds one optional section per intake step. A write in a given phase
// may only carry that phase's section.
type Data struct {
	Intake       *Intake          `json:"intake,omitempty"`
	Selection    *Selection       `json:"selection,omitempty"`
	Payment      *Payment         `json:"payment,omitempty"`
	Detailed     *Detailed        `json:"detailed,omitempty"`
	Consultation *ConsultationRef `json:"consultation,omitempty"`
}

func (d Data) validFor(phase Phase) error {
	owned := map[Phase]bool{
		PhaseSymptomCollection:     d.Intake != nil,
		PhaseConsultationSelection: d.Selection != nil,
		PhasePaymentPending:        d.Payment != nil,
		PhaseDetailedCollection:    d.Detailed != nil,
		PhaseConsultationCreated:   d.Consultation != nil,
	}
	for p, present := range owned {
		if !present || p == phase {
			continue
		}
		if p == PhasePaymentPending && phase == PhasePaymentConfirmed {
			continue
		}
		return apperr.Validation(apperr.CodeInvalidInput,
			"data for phase %s cannot be written in phase %s", p, phase)
	}
	return nil
}

// clientWritable rejects sections only the service writes: diagnosis
// results, priced selections, payment state and the consultation link.
func (d Data) clientWritable() error {
	switch {
	case d.Intake != nil && d.Intake.Diagnosis != nil:
		return apperr.Validation(apperr.CodeInvalidInput, "diagnosis is generated by the service")
	case d.Selection != nil:
		return apperr.Validation(apperr.CodeInvalidInput, "use the selection endpoint to choose a consultation type")
	case d.Payment != nil:
		return apperr.Validation(apperr.CodeInvalidInput, "payment data is written by payment processing")
	case d.Consultation != nil:
		return apperr.Validation(apperr.CodeInvalidInput, "consultation link is written by payment confirmation")
	}
	return nil
}

// merge replaces each section present in patch.
func (d *Data) merge(patch Data) {
	if patch.Intake != nil {
		d.Intake = patch.Intake
	}
	if patch.Selection != nil {
		d.Selection = patch.Selection
	}
	if patch.Payment != nil {
		d.Payment = patch.Payment
	}
	if patch.Detailed != nil {
		d.Detailed = patch.Detailed
	}
	if patch.Consultation != nil {
		d.Consultation = patch.Consultation
	}
}

// Session is the cache-resident record of a patient's intake flow.
type Session struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`
	Phase     Phase     `json:"phase"`
	Data      Data      `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SelectionRecord is written once the patient picks a consultation type. It
// is the first place payment confirmation looks for intake data.
type SelectionRecord struct {
	SessionID        uuid.UUID                  `json:"session_id"`
	PatientID        string                     `json:"patient_id"`
	ConsultationType diagnosis.ConsultationType `json:"consultation_type"`
	Price            int64                      `json:"price"`
	Currency         string                     `json:"currency"`
	Symptoms         *diagnosis.Request         `json:"symptoms,omitempty"`
	Diagnosis        *diagnosis.Result          `json:"diagnosis,omitempty"`
	SelectedAt       time.Time                  `json:"selected_at"`
	ExpiresAt        time.Time                  `json:"expires_at"`
}

func sessionKey(id uuid.UUID) string   { return "session:" + id.String() }
func selectionKey(id uuid.UUID) string { return "session:" + id.String() + "_selection" }
