package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/platform/apperr"
)

// Diagnoser is implemented by *diagnosis.Orchestrator.
type Diagnoser interface {
	GetDiagnosis(ctx context.Context, actor string, req *diagnosis.Request) (*diagnosis.Result, error)
}

// IntakeService drives a session through symptom collection and
// consultation selection.
type IntakeService struct {
	store     *Store
	diagnoser Diagnoser
	tariff    Tariff
	currency  string
	logger    zerolog.Logger
}

func NewIntakeService(store *Store, diagnoser Diagnoser, tariff Tariff, currency string, logger zerolog.Logger) *IntakeService {
	if tariff == nil {
		tariff = DefaultTariff
	}
	if currency == "" {
		currency = "USD"
	}
	return &IntakeService{store: store, diagnoser: diagnoser, tariff: tariff, currency: currency, logger: logger}
}

// SubmitSymptoms diagnoses req and records both on the session. The session
// stays in symptom_collection so symptoms can be resubmitted.
func (s *IntakeService) SubmitSymptoms(ctx context.Context, id uuid.UUID, patientID string, req *diagnosis.Request) (*Session, error) {
	sess, err := s.store.ValidateSessionPhase(ctx, id, PhaseSymptomCollection, patientID)
	if err != nil {
		return nil, err
	}
	result, err := s.diagnoser.GetDiagnosis(ctx, sess.PatientID, req)
	if err != nil {
		return nil, err
	}
	return s.store.UpdateSession(ctx, id, PhaseSymptomCollection,
		Data{Intake: &Intake{Symptoms: req, Diagnosis: result}}, patientID)
}

// SelectConsultation prices the chosen consultation type, moves the session
// to consultation_selection and writes the selection entry. An empty kind
// takes the type the diagnosis recommended.
func (s *IntakeService) SelectConsultation(ctx context.Context, id uuid.UUID, patientID string, kind diagnosis.ConsultationType) (*Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(sess.PatientID, patientID); err != nil {
		return nil, err
	}
	if sess.Phase != PhaseSymptomCollection && sess.Phase != PhaseConsultationSelection {
		return nil, apperr.PhaseMismatch("session %s is in phase %s; consultation type can no longer change", id, sess.Phase)
	}
	if sess.Data.Intake == nil || sess.Data.Intake.Diagnosis == nil {
		return nil, apperr.PhaseMismatch("session %s has no diagnosis yet; submit symptoms first", id)
	}

	if kind == "" {
		kind = sess.Data.Intake.Diagnosis.ConsultationType
	}
	price, err := s.tariff.Price(kind)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateSession(ctx, id, PhaseConsultationSelection,
		Data{Selection: &Selection{ConsultationType: kind, Price: price, Currency: s.currency}}, patientID)
	if err != nil {
		return nil, err
	}

	rec := &SelectionRecord{
		SessionID:        id,
		PatientID:        updated.PatientID,
		ConsultationType: kind,
		Price:            price,
		Currency:         s.currency,
		Symptoms:         updated.Data.Intake.Symptoms,
		Diagnosis:        updated.Data.Intake.Diagnosis,
	}
	if err := s.store.SaveSelection(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", id.String()).Str("consultation_type", string(kind)).
		Int64("price", price).Msg("consultation type selected")
	return updated, nil
}
