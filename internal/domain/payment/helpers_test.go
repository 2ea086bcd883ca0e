package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/domain/consultation"
	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/cache"
)

type stubDiagnoser struct{}

func (stubDiagnoser) GetDiagnosis(context.Context, string, *diagnosis.Request) (*diagnosis.Result, error) {
	return &diagnosis.Result{
		Diagnosis:        "Migraine",
		Confidence:       0.82,
		Severity:         diagnosis.SeverityHigh,
		ConsultationType: diagnosis.TypeVideo,
		GeneratedAt:      fixedNow,
	}, nil
}

type fixture struct {
	cache  *cache.MemoryStore
	store  *session.Store
	intake *session.IntakeService
}

func newFixture() *fixture {
	mem := cache.NewMemoryStore().WithClock(func() time.Time { return fixedNow })
	store := session.NewStore(mem, 0, zerolog.Nop()).WithClock(func() time.Time { return fixedNow })
	return &fixture{
		cache:  mem,
		store:  store,
		intake: session.NewIntakeService(store, stubDiagnoser{}, nil, "USD", zerolog.Nop()),
	}
}

// selectedSession runs a session through symptom intake and selection.
func (f *fixture) selectedSession(t *testing.T, patientID string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	sess, err := f.store.CreateSession(ctx, patientID)
	require.NoError(t, err)
	_, err = f.intake.SubmitSymptoms(ctx, sess.ID, patientID, &diagnosis.Request{
		PrimarySymptom: "headache",
		Duration:       "2 days",
		Severity:       diagnosis.DeclaredSevere,
	})
	require.NoError(t, err)
	_, err = f.intake.SelectConsultation(ctx, sess.ID, patientID, "")
	require.NoError(t, err)
	return sess.ID
}

func (f *fixture) dropSelection(id uuid.UUID) {
	_ = f.cache.Delete(context.Background(), "session:"+id.String()+"_selection")
}

func (f *fixture) dropSession(id uuid.UUID) {
	_ = f.cache.Delete(context.Background(), "session:"+id.String())
}

type stubConsultations struct {
	created   []consultation.CreateInput
	activated []uuid.UUID
}

func (s *stubConsultations) CreateConsultation(_ context.Context, in consultation.CreateInput) (*consultation.Consultation, error) {
	for _, prev := range s.created {
		if prev.Payment != nil && in.Payment != nil && prev.Payment.PaymentID == in.Payment.PaymentID {
			return nil, apperr.Conflict(apperr.CodePaymentAlreadyConfirmed, "payment %s is already confirmed", in.Payment.PaymentID)
		}
	}
	s.created = append(s.created, in)
	return &consultation.Consultation{
		ID:             uuid.New(),
		PatientID:      in.PatientID,
		Type:           in.Type,
		Status:         consultation.StatusPaymentConfirmed,
		Diagnosis:      in.Diagnosis,
		Payment:        in.Payment,
		IsRecovered:    in.IsRecovered,
		RecoveryReason: in.RecoveryReason,
	}, nil
}

func (s *stubConsultations) ActivateConsultation(_ context.Context, id uuid.UUID, patientID, _ string) (*consultation.Consultation, error) {
	s.activated = append(s.activated, id)
	return &consultation.Consultation{ID: id, PatientID: patientID, Status: consultation.StatusActive, IsActive: true}, nil
}

// phaseLog records the phases a session is written in.
type phaseLog struct {
	SessionStore
	phases []session.Phase
}

func (p *phaseLog) UpdateSession(ctx context.Context, id uuid.UUID, phase session.Phase, patch session.Data, patientID string) (*session.Session, error) {
	p.phases = append(p.phases, phase)
	return p.SessionStore.UpdateSession(ctx, id, phase, patch, patientID)
}
