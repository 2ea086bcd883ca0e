package payment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/audit"
	"github.com/telecare/telecare/internal/platform/cache"
)

type harness struct {
	*fixture
	sim           *Simulator
	consultations *stubConsultations
	clinical      *session.ClinicalStore
	audit         *audit.Recorder
	svc           *Service
}

func newHarness() *harness {
	f := newFixture()
	h := &harness{
		fixture:       f,
		sim:           NewSimulator(false).WithClock(func() time.Time { return fixedNow }),
		consultations: &stubConsultations{},
		clinical:      session.NewClinicalStore(cache.NewMemoryStore(), 0, zerolog.Nop()),
		audit:         &audit.Recorder{},
	}
	h.svc = NewService(h.sim, f.store, h.consultations, h.clinical, h.audit, zerolog.Nop()).
		WithRecovery(NewRecovery(f.store, zerolog.Nop()).WithClock(func() time.Time { return fixedNow }))
	return h
}

// paidOrder creates and completes an order for the session.
func (h *harness) paidOrder(t *testing.T, id uuid.UUID, patientID string) string {
	t.Helper()
	ctx := context.Background()
	order, err := h.svc.CreatePaymentOrder(ctx, id, patientID)
	require.NoError(t, err)
	_, err = h.sim.Complete(ctx, order.PaymentID)
	require.NoError(t, err)
	return order.PaymentID
}

func TestCreatePaymentOrder(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")

	order, err := h.svc.CreatePaymentOrder(ctx, id, "patient-1")
	require.NoError(t, err)
	require.Equal(t, int64(3000), order.Amount)
	require.Equal(t, "USD", order.Currency)

	sess, err := h.store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, session.PhasePaymentPending, sess.Phase)
	require.Equal(t, order.PaymentID, sess.Data.Payment.PaymentID)
}

func TestCreatePaymentOrder_RequiresSelection(t *testing.T) {
	h := newHarness()
	sess, err := h.store.CreateSession(context.Background(), "patient-1")
	require.NoError(t, err)

	_, err = h.svc.CreatePaymentOrder(context.Background(), sess.ID, "patient-1")
	require.True(t, apperr.Is(err, apperr.KindPhaseMismatch))
}

func TestCreatePaymentOrder_OtherPatient(t *testing.T) {
	h := newHarness()
	id := h.selectedSession(t, "patient-1")

	_, err := h.svc.CreatePaymentOrder(context.Background(), id, "patient-2")
	require.True(t, apperr.HasCode(err, apperr.CodePatientMismatch))
}

func TestConfirmPayment(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")
	paymentID := h.paidOrder(t, id, "patient-1")

	out, err := h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: id, PatientID: "patient-1", PaymentID: paymentID})
	require.NoError(t, err)
	require.False(t, out.IsRecovered)
	require.True(t, out.Consultation.IsActive)
	require.NotNil(t, out.ClinicalSession)
	require.Equal(t, out.Consultation.ID, out.ClinicalSession.ConsultationID)

	require.Len(t, h.consultations.created, 1)
	in := h.consultations.created[0]
	require.True(t, in.ReplaceActive)
	require.Equal(t, diagnosis.TypeVideo, in.Type)
	require.Equal(t, 0.82, in.Diagnosis.Confidence)
	require.Equal(t, "Migraine", in.Diagnosis.Diagnosis)
	require.Equal(t, paymentID, in.Payment.PaymentID)
	require.Equal(t, int64(3000), in.Payment.Amount)
	require.NotEmpty(t, in.Payment.TransactionID)
	require.Equal(t, id, *in.SessionID)
	require.Equal(t, []uuid.UUID{out.Consultation.ID}, h.consultations.activated)

	_, err = h.store.GetSession(ctx, id)
	require.True(t, apperr.HasCode(err, apperr.CodeSessionNotFound), "session should be cleaned up")
	_, err = h.store.GetSelection(ctx, id)
	require.True(t, apperr.HasCode(err, apperr.CodeSessionNotFound), "selection should be cleaned up")

	entries := h.audit.Find("payment", "confirm")
	require.Len(t, entries, 1)
	require.Equal(t, false, entries[0].Metadata["is_recovered"])
}

func TestConfirmPayment_NotCompleted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")
	order, err := h.svc.CreatePaymentOrder(ctx, id, "patient-1")
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: id, PatientID: "patient-1", PaymentID: order.PaymentID})
	require.True(t, apperr.HasCode(err, apperr.CodePaymentNotCompleted))
	require.Empty(t, h.consultations.created)

	sess, err := h.store.GetSession(ctx, id)
	require.NoError(t, err, "session must be left intact")
	require.Equal(t, session.PhasePaymentPending, sess.Phase)
}

func TestConfirmPayment_UnknownPayment(t *testing.T) {
	h := newHarness()
	_, err := h.svc.ConfirmPayment(context.Background(), ConfirmInput{
		SessionID: uuid.New(), PatientID: "patient-1", PaymentID: "pay_missing",
	})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	require.Empty(t, h.consultations.created)
}

func TestConfirmPayment_RecoversWhenSessionLost(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")
	paymentID := h.paidOrder(t, id, "patient-1")
	h.dropSelection(id)
	h.dropSession(id)

	out, err := h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: id, PatientID: "patient-1", PaymentID: paymentID})
	require.NoError(t, err)
	require.True(t, out.IsRecovered)
	require.Equal(t, ReasonPlaceholder, out.RecoveryReason)

	in := h.consultations.created[0]
	require.True(t, in.IsRecovered)
	require.Equal(t, ReasonPlaceholder, in.RecoveryReason)
	require.Equal(t, diagnosis.TypeVideo, in.Type, "type comes from the paid order")
	require.LessOrEqual(t, in.Diagnosis.Confidence, diagnosis.RecoveredConfidenceCap)
	require.True(t, strings.HasSuffix(in.Diagnosis.Diagnosis, "(Recovered from session)"))
	require.Equal(t, int64(3000), in.Payment.Amount, "paid amount comes from the gateway")
}

func TestConfirmPayment_ReconstructedDiagnosisIsClamped(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")
	paymentID := h.paidOrder(t, id, "patient-1")
	h.dropSelection(id)

	_, err := h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: id, PatientID: "patient-1", PaymentID: paymentID})
	require.NoError(t, err)

	in := h.consultations.created[0]
	require.Equal(t, ReasonReconstructed, in.RecoveryReason)
	require.Equal(t, diagnosis.TypeVideo, in.Type)
	require.Equal(t, diagnosis.RecoveredConfidenceCap, in.Diagnosis.Confidence)
	require.Equal(t, "Migraine (Recovered from session)", in.Diagnosis.Diagnosis)
	require.True(t, in.Diagnosis.IsRecovered)
}

func TestCreatePaymentOrder_ChargesTariff(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess, err := h.store.CreateSession(ctx, "patient-1")
	require.NoError(t, err)
	_, err = h.store.UpdateSession(ctx, sess.ID, session.PhaseConsultationSelection, session.Data{
		Selection: &session.Selection{ConsultationType: diagnosis.TypeEmergency, Price: 1, Currency: "USD"},
	}, "patient-1")
	require.NoError(t, err)

	order, err := h.svc.CreatePaymentOrder(ctx, sess.ID, "patient-1")
	require.NoError(t, err)
	require.Equal(t, session.DefaultTariff[diagnosis.TypeEmergency], order.Amount)
}

func TestConfirmPayment_AdvancesSessionBeforeCleanup(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")
	paymentID := h.paidOrder(t, id, "patient-1")

	log := &phaseLog{SessionStore: h.store}
	svc := NewService(h.sim, log, h.consultations, h.clinical, h.audit, zerolog.Nop())
	_, err := svc.ConfirmPayment(ctx, ConfirmInput{
		SessionID: id, PatientID: "patient-1", PaymentID: paymentID,
		Answers: map[string]string{"onset": "sudden"},
	})
	require.NoError(t, err)
	require.Equal(t, []session.Phase{
		session.PhasePaymentConfirmed,
		session.PhaseDetailedCollection,
		session.PhaseConsultationCreated,
	}, log.phases)

	_, err = h.store.GetSession(ctx, id)
	require.True(t, apperr.HasCode(err, apperr.CodeSessionNotFound), "session should be cleaned up")
}

func TestConfirmPayment_RequiresPaymentPendingSession(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess, err := h.store.CreateSession(ctx, "patient-1")
	require.NoError(t, err)

	order, err := h.sim.CreateOrder(ctx, OrderRequest{
		SessionID: sess.ID, PatientID: "patient-1", ConsultationType: diagnosis.TypeChat, Amount: 1500, Currency: "USD",
	})
	require.NoError(t, err)
	_, err = h.sim.Complete(ctx, order.PaymentID)
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: sess.ID, PatientID: "patient-1", PaymentID: order.PaymentID})
	require.True(t, apperr.Is(err, apperr.KindPhaseMismatch), "got %v", err)
	require.Empty(t, h.consultations.created)
}

func TestConfirmPayment_BoundToOrderedSessionAndPatient(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	paidSession := h.selectedSession(t, "patient-1")
	paymentID := h.paidOrder(t, paidSession, "patient-1")
	otherSession := h.selectedSession(t, "patient-2")

	_, err := h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: otherSession, PatientID: "patient-2", PaymentID: paymentID})
	require.True(t, apperr.HasCode(err, apperr.CodeInvalidInput), "got %v", err)

	_, err = h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: paidSession, PatientID: "patient-2", PaymentID: paymentID})
	require.True(t, apperr.HasCode(err, apperr.CodePatientMismatch), "got %v", err)

	require.Empty(t, h.consultations.created)
	sess, err := h.store.GetSession(ctx, paidSession)
	require.NoError(t, err)
	require.Equal(t, session.PhasePaymentPending, sess.Phase)
}

func TestConfirmPayment_StaffConfirmsForOrderingPatient(t *testing.T) {
	h := newHarness()
	id := h.selectedSession(t, "patient-1")
	paymentID := h.paidOrder(t, id, "patient-1")

	_, err := h.svc.ConfirmPayment(context.Background(), ConfirmInput{SessionID: id, PaymentID: paymentID, Actor: "nurse-1"})
	require.NoError(t, err)
	require.Equal(t, "patient-1", h.consultations.created[0].PatientID)
}

func TestConfirmPayment_ReplayRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")
	paymentID := h.paidOrder(t, id, "patient-1")
	in := ConfirmInput{SessionID: id, PatientID: "patient-1", PaymentID: paymentID}

	_, err := h.svc.ConfirmPayment(ctx, in)
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, in)
	require.True(t, apperr.HasCode(err, apperr.CodePaymentAlreadyConfirmed), "got %v", err)
	require.Len(t, h.consultations.created, 1)
	require.Len(t, h.consultations.activated, 1)
}

func TestConfirmPayment_UnderpaidRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := h.selectedSession(t, "patient-1")
	_, err := h.svc.CreatePaymentOrder(ctx, id, "patient-1")
	require.NoError(t, err)

	cheap, err := h.sim.CreateOrder(ctx, OrderRequest{
		SessionID: id, PatientID: "patient-1", ConsultationType: diagnosis.TypeVideo, Amount: 1, Currency: "USD",
	})
	require.NoError(t, err)
	_, err = h.sim.Complete(ctx, cheap.PaymentID)
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, ConfirmInput{SessionID: id, PatientID: "patient-1", PaymentID: cheap.PaymentID})
	require.True(t, apperr.HasCode(err, apperr.CodeInvalidInput), "got %v", err)
	require.Empty(t, h.consultations.created)
}
