package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/platform/apperr"
)

const (
	ReasonReconstructed = "reconstructed_from_base_session"
	ReasonPlaceholder   = "payment_recovery"
)

// Placeholders used when no intake data survived until payment.
const (
	placeholderSymptom   = "Symptoms not captured (payment recovery)"
	placeholderDuration  = "unknown"
	placeholderDiagnosis = "General consultation required"
)

// SessionReader is implemented by *session.Store.
type SessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error)
	GetSelection(ctx context.Context, sessionID uuid.UUID) (*session.SelectionRecord, error)
}

// Resolved is the intake data a consultation is created from.
type Resolved struct {
	PatientID        string
	SessionID        uuid.UUID
	Symptoms         *diagnosis.Request
	Diagnosis        *diagnosis.Result
	ConsultationType diagnosis.ConsultationType
	Price            int64
	Currency         string
	IsRecovered      bool
	RecoveryReason   string
}

// Recovery reconstructs intake data at payment confirmation, falling back
// from the selection entry to the base session to fixed placeholders.
type Recovery struct {
	sessions SessionReader
	logger   zerolog.Logger
	now      func() time.Time
}

func NewRecovery(sessions SessionReader, logger zerolog.Logger) *Recovery {
	return &Recovery{sessions: sessions, logger: logger, now: time.Now}
}

func (r *Recovery) WithClock(now func() time.Time) *Recovery {
	r.now = now
	return r
}

// Resolve always yields creatable data. The only error is a selection entry
// owned by a different patient.
func (r *Recovery) Resolve(ctx context.Context, sessionID uuid.UUID, patientID string) (*Resolved, error) {
	log := r.logger.With().Str("session_id", sessionID.String()).Str("patient_id", patientID).Logger()

	sel, err := r.sessions.GetSelection(ctx, sessionID)
	switch {
	case err == nil && patientID != "" && sel.PatientID != patientID:
		return nil, apperr.Conflict(apperr.CodePatientMismatch, "session %s belongs to a different patient", sessionID)
	case err == nil:
		return &Resolved{
			PatientID:        sel.PatientID,
			SessionID:        sessionID,
			Symptoms:         sel.Symptoms,
			Diagnosis:        sel.Diagnosis,
			ConsultationType: orChat(sel.ConsultationType),
			Price:            sel.Price,
			Currency:         sel.Currency,
		}, nil
	default:
		r.logAbsent(log, "selection", err)
	}

	sess, err := r.sessions.GetSession(ctx, sessionID)
	switch {
	case err == nil && patientID != "" && sess.PatientID != patientID:
		log.Warn().Str("owner", sess.PatientID).Msg("ignoring base session owned by another patient")
	case err == nil:
		out := &Resolved{
			PatientID:        sess.PatientID,
			SessionID:        sessionID,
			ConsultationType: diagnosis.TypeChat,
			IsRecovered:      true,
			RecoveryReason:   ReasonReconstructed,
		}
		if in := sess.Data.Intake; in != nil {
			out.Symptoms = in.Symptoms
			out.Diagnosis = in.Diagnosis
		}
		if s := sess.Data.Selection; s != nil {
			out.ConsultationType = orChat(s.ConsultationType)
			out.Price = s.Price
			out.Currency = s.Currency
		}
		if out.Symptoms == nil || out.Diagnosis == nil {
			fillPlaceholders(out, r.now())
		}
		log.Info().Str("recovery_reason", out.RecoveryReason).Msg("payment data reconstructed from base session")
		return out, nil
	default:
		r.logAbsent(log, "base session", err)
	}

	out := &Resolved{
		PatientID:        patientID,
		SessionID:        sessionID,
		ConsultationType: diagnosis.TypeChat,
		IsRecovered:      true,
		RecoveryReason:   ReasonPlaceholder,
	}
	fillPlaceholders(out, r.now())
	log.Warn().Str("recovery_reason", out.RecoveryReason).Msg("no session data survived; using placeholders")
	return out, nil
}

func (r *Recovery) logAbsent(log zerolog.Logger, what string, err error) {
	if apperr.Is(err, apperr.KindNotFound) {
		log.Debug().Msgf("%s entry absent", what)
		return
	}
	log.Warn().Err(err).Msgf("%s entry unreadable; treating as absent", what)
}

func fillPlaceholders(out *Resolved, now time.Time) {
	if out.Symptoms == nil {
		out.Symptoms = &diagnosis.Request{
			PrimarySymptom: placeholderSymptom,
			Duration:       placeholderDuration,
			Severity:       diagnosis.DeclaredModerate,
		}
	}
	if out.Diagnosis == nil {
		out.Diagnosis = &diagnosis.Result{
			Diagnosis:        placeholderDiagnosis,
			Confidence:       diagnosis.RecoveredConfidenceCap,
			Severity:         diagnosis.SeverityMedium,
			ConsultationType: diagnosis.TypeChat,
			IsRecovered:      true,
			GeneratedAt:      now.UTC(),
		}
	}
}

func orChat(t diagnosis.ConsultationType) diagnosis.ConsultationType {
	if t.Valid() {
		return t
	}
	return diagnosis.TypeChat
}
