package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/audit"
)

const DefaultTTL = 72 * time.Hour

// SystemActor is recorded for changes made by the service itself.
const SystemActor = "system"

// DoctorResolver is implemented by *shift.Resolver.
type DoctorResolver interface {
	ActiveDoctorForCurrentTime(ctx context.Context) uuid.UUID
}

type Service struct {
	repo    Repository
	doctors DoctorResolver
	tx      TxRunner
	audit   audit.Sink
	logger  zerolog.Logger
	ttl     time.Duration
	now     func() time.Time
}

func NewService(repo Repository, doctors DoctorResolver, sink audit.Sink, ttl time.Duration, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, doctors: doctors, audit: sink, logger: logger, ttl: ttl, now: time.Now}
}

// WithTxRunner makes activation run its writes in one store transaction.
func (s *Service) WithTxRunner(tx TxRunner) *Service {
	s.tx = tx
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CreateConsultation(ctx context.Context, in CreateInput) (*Consultation, error) {
	if in.PatientID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "patient id is required")
	}
	if !in.Type.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown consultation type %q", in.Type)
	}
	if !in.ReplaceActive {
		active, err := s.repo.FindActiveByPatient(ctx, in.PatientID)
		if err != nil {
			return nil, apperr.Internal(err, "look up active consultation")
		}
		if active != nil {
			return nil, apperr.Conflict(apperr.CodeActiveConsultationExists,
				"patient already has active consultation %s", active.ID)
		}
	}

	status := StatusDraft
	if in.Payment != nil {
		existing, err := s.repo.FindByPaymentID(ctx, in.Payment.PaymentID)
		if err != nil {
			return nil, apperr.Internal(err, "look up payment")
		}
		if existing != nil {
			return nil, apperr.Conflict(apperr.CodePaymentAlreadyConfirmed,
				"payment %s already confirmed for consultation %s", in.Payment.PaymentID, existing.ID)
		}
		status = StatusPaymentConfirmed
	}
	actor := in.Actor
	if actor == "" {
		actor = SystemActor
	}
	now := s.now().UTC()

	c := &Consultation{
		ID:             uuid.New(),
		PatientID:      in.PatientID,
		Type:           in.Type,
		Status:         status,
		Symptoms:       in.Symptoms,
		Diagnosis:      in.Diagnosis,
		Payment:        in.Payment,
		SessionID:      in.SessionID,
		IsRecovered:    in.IsRecovered,
		RecoveryReason: in.RecoveryReason,
		StatusHistory: []StatusChange{{
			Status:    status,
			Timestamp: now,
			Actor:     actor,
			Reason:    "Consultation created",
		}},
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.doctors != nil {
		if doctor := s.doctors.ActiveDoctorForCurrentTime(ctx); doctor != uuid.Nil {
			c.DoctorID = &doctor
		}
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, storeErr(err, "create consultation")
	}
	s.record(ctx, actor, "create", c, nil, c)
	s.logger.Info().Str("consultation_id", c.ID.String()).Str("patient_id", c.PatientID).
		Str("status", string(c.Status)).Bool("is_recovered", c.IsRecovered).Msg("consultation created")
	return c, nil
}

func (s *Service) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "get consultation")
	}
	return c, nil
}

func (s *Service) ListConsultations(ctx context.Context, patientID string, limit, offset int) ([]*Consultation, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err, "list consultations")
	}
	return items, total, nil
}

// UpdateConsultationStatus moves a consultation through the transition
// table. A change that makes it active cancels the patient's other active
// consultations first.
func (s *Service) UpdateConsultationStatus(ctx context.Context, id uuid.UUID, to Status, actor, reason string, metadata map[string]any) (*Consultation, error) {
	if !to.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown status %q", to)
	}
	current, err := s.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	u, err := Transition(current, to, actor, reason, metadata, s.now())
	if err != nil {
		return nil, err
	}

	var updated *Consultation
	err = s.inTx(ctx, func(ctx context.Context) error {
		if u.IsActive && !current.IsActive {
			if err := s.deactivateOthers(ctx, current.PatientID, id, actor, u.UpdatedAt); err != nil {
				return err
			}
		}
		var err error
		updated, err = s.repo.ApplyTransition(ctx, u)
		return err
	})
	if err != nil {
		return nil, storeErr(err, "update consultation status")
	}

	s.record(ctx, actor, "status_change", updated, current, updated)
	s.logger.Info().Str("consultation_id", id.String()).Str("from", string(u.From)).
		Str("to", string(to)).Str("actor", actor).Msg("consultation status changed")
	return updated, nil
}

// ActivateConsultation makes id the patient's only active consultation. Other
// active consultations are cancelled first; without a TxRunner the two
// writes are independent and a failure between them leaves the patient with
// no active consultation.
func (s *Service) ActivateConsultation(ctx context.Context, id uuid.UUID, patientID, actor string) (*Consultation, error) {
	current, err := s.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	if patientID != "" && current.PatientID != patientID {
		return nil, apperr.Conflict(apperr.CodePatientMismatch, "consultation %s belongs to a different patient", id)
	}
	if current.Status.IsTerminal() {
		return nil, apperr.Validation(apperr.CodeInvalidTransition,
			"consultation %s is %s and cannot be activated", id, current.Status)
	}
	if actor == "" {
		actor = SystemActor
	}

	now := s.now().UTC()
	var activated *Consultation
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.deactivateOthers(ctx, current.PatientID, id, actor, now); err != nil {
			return err
		}
		if CanTransition(current.Status, StatusActive) {
			u, err := Transition(current, StatusActive, actor, "Consultation activated", nil, now)
			if err != nil {
				return err
			}
			activated, err = s.repo.ApplyTransition(ctx, u)
			return err
		}
		var err error
		activated, err = s.repo.SetActive(ctx, id, now)
		return err
	})
	if err != nil {
		return nil, storeErr(err, "activate consultation")
	}

	s.record(ctx, actor, "activate", activated, current, activated)
	return activated, nil
}

func (s *Service) deactivateOthers(ctx context.Context, patientID string, keep uuid.UUID, actor string, at time.Time) error {
	n, err := s.repo.DeactivateOthers(ctx, patientID, keep, BulkChange{
		Timestamp: at,
		Actor:     actor,
		Reason:    DeactivatedReason,
		Metadata:  map[string]any{"replaced_by": keep.String()},
	})
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info().Str("patient_id", patientID).Str("consultation_id", keep.String()).
			Int64("deactivated", n).Msg("deactivated previous active consultations")
		s.audit.LogDataAccess(ctx, audit.Entry{
			Actor:     actor,
			Resource:  "consultation",
			Action:    "deactivate",
			PatientID: patientID,
			Metadata:  map[string]any{"count": n, "replaced_by": keep.String()},
		})
	}
	return nil
}

func (s *Service) HasActiveConsultation(ctx context.Context, patientID string) (bool, error) {
	c, err := s.repo.FindActiveByPatient(ctx, patientID)
	if err != nil {
		return false, apperr.Internal(err, "look up active consultation")
	}
	return c != nil, nil
}

func (s *Service) GetActiveConsultation(ctx context.Context, patientID string) (*Consultation, error) {
	c, err := s.repo.FindActiveByPatient(ctx, patientID)
	if err != nil {
		return nil, apperr.Internal(err, "look up active consultation")
	}
	if c == nil {
		return nil, apperr.NotFound(apperr.CodeConsultationNotFound, "patient has no active consultation")
	}
	return c, nil
}

// ExpireConsultations moves every overdue, non-terminal consultation to
// EXPIRED.
func (s *Service) ExpireConsultations(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	n, err := s.repo.ExpireDue(ctx, BulkChange{Timestamp: now, Actor: SystemActor, Reason: ExpiredReason})
	if err != nil {
		return 0, apperr.Internal(err, "expire consultations")
	}
	if n > 0 {
		s.logger.Info().Int64("expired", n).Msg("expired overdue consultations")
		s.audit.LogDataAccess(ctx, audit.Entry{
			Actor:    SystemActor,
			Resource: "consultation",
			Action:   "expire",
			Metadata: map[string]any{"count": n, "as_of": now},
		})
	}
	return n, nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

func (s *Service) record(ctx context.Context, actor, action string, c *Consultation, before, after *Consultation) {
	entry := audit.Entry{
		Actor:      actor,
		Resource:   "consultation",
		Action:     action,
		ResourceID: c.ID.String(),
		PatientID:  c.PatientID,
		Metadata:   map[string]any{"status": string(c.Status)},
	}
	if before != nil {
		entry.Before = map[string]any{"status": before.Status, "is_active": before.IsActive}
	}
	if after != nil {
		entry.After = map[string]any{"status": after.Status, "is_active": after.IsActive}
	}
	s.audit.LogDataAccess(ctx, entry)
}

// storeErr keeps taxonomy errors and wraps anything else as internal.
func storeErr(err error, msg string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal(err, msg)
}
