package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/consultation"
	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/audit"
)

// SessionStore is implemented by *session.Store.
type SessionStore interface {
	SessionReader
	ValidateSessionPhase(ctx context.Context, id uuid.UUID, expected session.Phase, patientID string) (*session.Session, error)
	UpdateSession(ctx context.Context, id uuid.UUID, phase session.Phase, patch session.Data, patientID string) (*session.Session, error)
	DestroySession(ctx context.Context, id uuid.UUID) error
}

// Consultations is implemented by *consultation.Service.
type Consultations interface {
	CreateConsultation(ctx context.Context, in consultation.CreateInput) (*consultation.Consultation, error)
	ActivateConsultation(ctx context.Context, id uuid.UUID, patientID, actor string) (*consultation.Consultation, error)
}

// ClinicalSessions is implemented by *session.ClinicalStore.
type ClinicalSessions interface {
	Create(ctx context.Context, consultationID uuid.UUID, patientID string) (*session.ClinicalSession, error)
}

type Service struct {
	gateway       Gateway
	sessions      SessionStore
	recovery      *Recovery
	consultations Consultations
	clinical      ClinicalSessions
	tariff        session.Tariff
	audit         audit.Sink
	logger        zerolog.Logger
}

func NewService(gateway Gateway, sessions SessionStore, consultations Consultations, clinical ClinicalSessions,
	sink audit.Sink, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		gateway:       gateway,
		sessions:      sessions,
		recovery:      NewRecovery(sessions, logger),
		consultations: consultations,
		clinical:      clinical,
		tariff:        session.DefaultTariff,
		audit:         sink,
		logger:        logger,
	}
}

// WithRecovery replaces the default recovery pipeline.
func (s *Service) WithRecovery(r *Recovery) *Service {
	s.recovery = r
	return s
}

// WithTariff sets the prices orders are charged at and paid amounts are
// checked against.
func (s *Service) WithTariff(t session.Tariff) *Service {
	if t != nil {
		s.tariff = t
	}
	return s
}

// CreatePaymentOrder opens a gateway order for the selected consultation
// type, priced from the tariff, and moves the session to payment_pending.
func (s *Service) CreatePaymentOrder(ctx context.Context, sessionID uuid.UUID, patientID string) (*Order, error) {
	sess, err := s.sessions.ValidateSessionPhase(ctx, sessionID, session.PhaseConsultationSelection, patientID)
	if err != nil {
		return nil, err
	}
	sel := sess.Data.Selection
	if sel == nil {
		return nil, apperr.PhaseMismatch("session %s has no consultation selection", sessionID)
	}
	price, err := s.tariff.Price(sel.ConsultationType)
	if err != nil {
		return nil, err
	}
	if sel.Price != price {
		s.logger.Warn().Str("session_id", sessionID.String()).Int64("selected", sel.Price).
			Int64("tariff", price).Msg("selection price differs from tariff; charging tariff")
	}

	order, err := s.gateway.CreateOrder(ctx, OrderRequest{
		SessionID:        sessionID,
		PatientID:        sess.PatientID,
		ConsultationType: sel.ConsultationType,
		Amount:           price,
		Currency:         sel.Currency,
	})
	if err != nil {
		return nil, gatewayErr(err, "create payment order")
	}

	_, err = s.sessions.UpdateSession(ctx, sessionID, session.PhasePaymentPending, session.Data{
		Payment: &session.Payment{
			PaymentID:   order.PaymentID,
			OrderStatus: string(order.Status),
			Amount:      order.Amount,
			Currency:    order.Currency,
		},
	}, patientID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("session_id", sessionID.String()).Str("payment_id", order.PaymentID).
		Int64("amount", order.Amount).Str("currency", order.Currency).Msg("payment order created")
	return order, nil
}

func (s *Service) VerifyPayment(ctx context.Context, paymentID string) (*Verification, error) {
	if paymentID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "payment id is required")
	}
	v, err := s.gateway.Verify(ctx, paymentID)
	if err != nil {
		return nil, gatewayErr(err, "verify payment")
	}
	return v, nil
}

type ConfirmInput struct {
	SessionID uuid.UUID
	PatientID string
	PaymentID string
	Actor     string
	// Answers are the detailed intake answers given at confirmation.
	Answers map[string]string
}

type Confirmation struct {
	Consultation    *consultation.Consultation `json:"consultation"`
	ClinicalSession *session.ClinicalSession   `json:"clinical_session,omitempty"`
	IsRecovered     bool                       `json:"is_recovered"`
	RecoveryReason  string                     `json:"recovery_reason,omitempty"`
}

// ConfirmPayment turns a completed payment into an active consultation. The
// gateway is checked before any session data is read, and the payment must
// have been ordered for this session and patient. A surviving session must
// be awaiting payment and is walked through the remaining intake phases;
// missing session data is recovered rather than failing the purchase. A
// payment backs at most one consultation.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmInput) (*Confirmation, error) {
	v, err := s.VerifyPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusCompleted {
		return nil, apperr.Conflict(apperr.CodePaymentNotCompleted,
			"payment %s is %s, not completed", in.PaymentID, v.Status)
	}
	if v.SessionID != uuid.Nil && v.SessionID != in.SessionID {
		return nil, apperr.Validation(apperr.CodeInvalidInput,
			"payment %s was not ordered for session %s", in.PaymentID, in.SessionID)
	}
	if in.PatientID != "" && v.PatientID != "" && v.PatientID != in.PatientID {
		return nil, apperr.Conflict(apperr.CodePatientMismatch,
			"payment %s belongs to a different patient", in.PaymentID)
	}
	patientID := in.PatientID
	if patientID == "" {
		patientID = v.PatientID
	}

	live, err := s.pendingSession(ctx, in.SessionID, patientID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.recovery.Resolve(ctx, in.SessionID, patientID)
	if err != nil {
		return nil, err
	}
	if patientID == "" {
		patientID = resolved.PatientID
	}
	if patientID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "patient id is required when no session data survives")
	}
	if resolved.IsRecovered && v.ConsultationType.Valid() {
		resolved.ConsultationType = v.ConsultationType
	}
	if err := s.checkPaidAmount(v, resolved); err != nil {
		return nil, err
	}

	if live != nil && live.Phase == session.PhasePaymentPending {
		s.advance(ctx, in.SessionID, session.PhasePaymentConfirmed, session.Data{
			Payment: &session.Payment{
				PaymentID:     v.PaymentID,
				OrderStatus:   string(v.Status),
				Amount:        v.Amount,
				Currency:      v.Currency,
				TransactionID: v.TransactionID,
			},
		}, patientID)
	}

	diag := resolved.Diagnosis
	if resolved.IsRecovered && diag != nil {
		recovered := diag.AsRecovered()
		diag = &recovered
	}
	paidAt := time.Now().UTC()
	if v.PaidAt != nil {
		paidAt = *v.PaidAt
	}
	actor := in.Actor
	if actor == "" {
		actor = patientID
	}
	sessionID := in.SessionID

	created, err := s.consultations.CreateConsultation(ctx, consultation.CreateInput{
		PatientID: patientID,
		Type:      resolved.ConsultationType,
		Symptoms:  resolved.Symptoms,
		Diagnosis: diag,
		Payment: &consultation.PaymentInfo{
			PaymentID:     v.PaymentID,
			TransactionID: v.TransactionID,
			Amount:        v.Amount,
			Currency:      v.Currency,
			PaidAt:        paidAt,
		},
		SessionID:      &sessionID,
		IsRecovered:    resolved.IsRecovered,
		RecoveryReason: resolved.RecoveryReason,
		Actor:          actor,
		ReplaceActive:  true,
	})
	if err != nil {
		return nil, err
	}
	active, err := s.consultations.ActivateConsultation(ctx, created.ID, patientID, actor)
	if err != nil {
		return nil, err
	}

	if live != nil {
		s.advance(ctx, in.SessionID, session.PhaseDetailedCollection,
			session.Data{Detailed: &session.Detailed{Answers: in.Answers}}, patientID)
		s.advance(ctx, in.SessionID, session.PhaseConsultationCreated,
			session.Data{Consultation: &session.ConsultationRef{ConsultationID: active.ID}}, patientID)
	}

	out := &Confirmation{
		Consultation:   active,
		IsRecovered:    resolved.IsRecovered,
		RecoveryReason: resolved.RecoveryReason,
	}
	if s.clinical != nil {
		cs, err := s.clinical.Create(ctx, active.ID, patientID)
		if err != nil {
			s.logger.Error().Err(err).Str("consultation_id", active.ID.String()).Msg("failed to open clinical session")
		} else {
			out.ClinicalSession = cs
		}
	}

	if err := s.sessions.DestroySession(ctx, in.SessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", in.SessionID.String()).Msg("session cleanup failed")
	}

	s.audit.LogDataAccess(ctx, audit.Entry{
		Actor:      actor,
		Resource:   "payment",
		Action:     "confirm",
		ResourceID: v.PaymentID,
		PatientID:  patientID,
		Metadata: map[string]any{
			"consultation_id": active.ID.String(),
			"is_recovered":    resolved.IsRecovered,
			"recovery_reason": resolved.RecoveryReason,
		},
	})
	s.logger.Info().Str("payment_id", v.PaymentID).Str("consultation_id", active.ID.String()).
		Bool("is_recovered", resolved.IsRecovered).Msg("payment confirmed")
	return out, nil
}

// pendingSession returns the intake session when it still exists, after
// checking it belongs to patientID and is awaiting payment. A session left
// in payment_confirmed by an earlier attempt is accepted. It returns nil
// when the session is gone so recovery can rebuild its data.
func (s *Service) pendingSession(ctx context.Context, id uuid.UUID, patientID string) (*session.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			s.logger.Warn().Err(err).Str("session_id", id.String()).Msg("session unreadable at confirmation; recovering")
		}
		return nil, nil
	}
	if patientID != "" && sess.PatientID != patientID {
		return nil, apperr.Conflict(apperr.CodePatientMismatch, "session %s belongs to a different patient", id)
	}
	if sess.Phase != session.PhasePaymentPending && sess.Phase != session.PhasePaymentConfirmed {
		return nil, apperr.PhaseMismatch("session %s is in phase %s, expected %s", id, sess.Phase, session.PhasePaymentPending)
	}
	return sess, nil
}

// checkPaidAmount rejects a payment below the tariff of the consultation
// being created. Differences from the quoted price are only logged.
func (s *Service) checkPaidAmount(v *Verification, resolved *Resolved) error {
	price, err := s.tariff.Price(resolved.ConsultationType)
	if err != nil {
		return err
	}
	if v.Amount < price {
		return apperr.Validation(apperr.CodeInvalidInput,
			"payment %s of %d is below the %s tariff of %d", v.PaymentID, v.Amount, resolved.ConsultationType, price)
	}
	if resolved.Price > 0 && resolved.Price != v.Amount {
		s.logger.Warn().Str("payment_id", v.PaymentID).Int64("paid", v.Amount).
			Int64("quoted", resolved.Price).Msg("paid amount differs from quoted price")
	}
	return nil
}

// advance moves a live session forward. Failures are logged, not returned.
func (s *Service) advance(ctx context.Context, id uuid.UUID, phase session.Phase, patch session.Data, patientID string) {
	if _, err := s.sessions.UpdateSession(ctx, id, phase, patch, patientID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id.String()).Str("phase", string(phase)).
			Msg("session phase update failed")
	}
}

// gatewayErr keeps taxonomy errors and reports anything else as an
// unavailable upstream.
func gatewayErr(err error, msg string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.ServiceUnavailable(err, "%s", msg)
}
