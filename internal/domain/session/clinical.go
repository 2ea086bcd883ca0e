package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/cache"
)

const DefaultClinicalTTL = 24 * time.Hour

// ClinicalPhase is a step of the post-payment clinical workflow.
type ClinicalPhase string

const (
	ClinicalDetailedAssessment ClinicalPhase = "detailed_assessment"
	ClinicalSymptomsCollected  ClinicalPhase = "symptoms_collected"
	ClinicalDoctorReview       ClinicalPhase = "doctor_review"
	ClinicalTreatmentPlanning  ClinicalPhase = "treatment_planning"
	ClinicalCompleted          ClinicalPhase = "completed"
)

var clinicalOrder = []ClinicalPhase{
	ClinicalDetailedAssessment,
	ClinicalSymptomsCollected,
	ClinicalDoctorReview,
	ClinicalTreatmentPlanning,
	ClinicalCompleted,
}

func (p ClinicalPhase) Valid() bool {
	return indexOf(clinicalOrder, p) >= 0
}

func (p ClinicalPhase) CanMoveTo(next ClinicalPhase) bool {
	return canAdvance(clinicalOrder, p, next)
}

type ClinicalData struct {
	Answers       map[string]string `json:"answers,omitempty"`
	Notes         []string          `json:"notes,omitempty"`
	TreatmentPlan string            `json:"treatment_plan,omitempty"`
}

// merge adds answers key by key, appends notes and replaces a non-empty plan.
func (d *ClinicalData) merge(patch ClinicalData) {
	if len(patch.Answers) > 0 && d.Answers == nil {
		d.Answers = make(map[string]string, len(patch.Answers))
	}
	for k, v := range patch.Answers {
		d.Answers[k] = v
	}
	d.Notes = append(d.Notes, patch.Notes...)
	if patch.TreatmentPlan != "" {
		d.TreatmentPlan = patch.TreatmentPlan
	}
}

type ClinicalSession struct {
	ID             uuid.UUID     `json:"id"`
	ConsultationID uuid.UUID     `json:"consultation_id"`
	PatientID      string        `json:"patient_id"`
	Phase          ClinicalPhase `json:"phase"`
	Data           ClinicalData  `json:"data"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

func clinicalKey(id uuid.UUID) string { return "clinical_session:" + id.String() }

// ClinicalStore keeps clinical sessions in the cache, each bound to a single
// consultation.
type ClinicalStore struct {
	cache  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewClinicalStore(c cache.Store, ttl time.Duration, logger zerolog.Logger) *ClinicalStore {
	if ttl <= 0 {
		ttl = DefaultClinicalTTL
	}
	return &ClinicalStore{cache: c, ttl: ttl, logger: logger, now: time.Now}
}

func (s *ClinicalStore) WithClock(now func() time.Time) *ClinicalStore {
	s.now = now
	return s
}

func (s *ClinicalStore) Create(ctx context.Context, consultationID uuid.UUID, patientID string) (*ClinicalSession, error) {
	if consultationID == uuid.Nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "consultation id is required")
	}
	now := s.now().UTC()
	cs := &ClinicalSession{
		ID:             uuid.New(),
		ConsultationID: consultationID,
		PatientID:      patientID,
		Phase:          ClinicalDetailedAssessment,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := cache.SetJSON(ctx, s.cache, clinicalKey(cs.ID), cs, s.ttl); err != nil {
		return nil, apperr.Internal(err, "store clinical session")
	}
	return cs, nil
}

// Get returns the clinical session. A non-nil consultationID must match the
// one the session was created for.
func (s *ClinicalStore) Get(ctx context.Context, id, consultationID uuid.UUID) (*ClinicalSession, error) {
	var cs ClinicalSession
	if err := loadEntry(ctx, s.cache, s.logger, s.now, clinicalKey(id), &cs,
		func() time.Time { return cs.ExpiresAt }); err != nil {
		return nil, err
	}
	if consultationID != uuid.Nil && cs.ConsultationID != consultationID {
		return nil, apperr.Conflict(apperr.CodeConsultationMismatch,
			"clinical session %s belongs to a different consultation", id)
	}
	return &cs, nil
}

func (s *ClinicalStore) Update(ctx context.Context, id uuid.UUID, phase ClinicalPhase, patch ClinicalData, consultationID uuid.UUID) (*ClinicalSession, error) {
	if !phase.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown clinical phase %q", phase)
	}
	cs, err := s.Get(ctx, id, consultationID)
	if err != nil {
		return nil, err
	}
	if !cs.Phase.CanMoveTo(phase) {
		return nil, apperr.PhaseMismatch("clinical session %s is in phase %s and cannot move to %s", id, cs.Phase, phase)
	}

	cs.Data.merge(patch)
	cs.Phase = phase
	cs.UpdatedAt = s.now().UTC()

	ttl := cs.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil, sessionNotFound(id.String())
	}
	if err := cache.SetJSON(ctx, s.cache, clinicalKey(id), cs, ttl); err != nil {
		return nil, apperr.Internal(err, "store clinical session")
	}
	return cs, nil
}

func (s *ClinicalStore) ValidatePhase(ctx context.Context, id uuid.UUID, expected ClinicalPhase, consultationID uuid.UUID) (*ClinicalSession, error) {
	cs, err := s.Get(ctx, id, consultationID)
	if err != nil {
		return nil, err
	}
	if cs.Phase != expected {
		return nil, apperr.PhaseMismatch("clinical session %s is in phase %s, expected %s", id, cs.Phase, expected)
	}
	return cs, nil
}

func (s *ClinicalStore) Destroy(ctx context.Context, id uuid.UUID) error {
	if err := s.cache.Delete(ctx, clinicalKey(id)); err != nil && !errors.Is(err, cache.ErrMiss) {
		return err
	}
	return nil
}
