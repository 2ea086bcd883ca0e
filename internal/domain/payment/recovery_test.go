package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/platform/apperr"
)

func newTestRecovery(f *fixture) *Recovery {
	return NewRecovery(f.store, zerolog.Nop()).WithClock(func() time.Time { return fixedNow })
}

func TestResolve_FromSelection(t *testing.T) {
	f := newFixture()
	id := f.selectedSession(t, "patient-1")

	got, err := newTestRecovery(f).Resolve(context.Background(), id, "patient-1")
	require.NoError(t, err)
	require.False(t, got.IsRecovered)
	require.Empty(t, got.RecoveryReason)
	require.Equal(t, diagnosis.TypeVideo, got.ConsultationType)
	require.Equal(t, int64(3000), got.Price)
	require.Equal(t, "Migraine", got.Diagnosis.Diagnosis)
	require.Equal(t, "headache", got.Symptoms.PrimarySymptom)
}

func TestResolve_SelectionPatientMismatch(t *testing.T) {
	f := newFixture()
	id := f.selectedSession(t, "patient-1")

	_, err := newTestRecovery(f).Resolve(context.Background(), id, "patient-2")
	require.True(t, apperr.HasCode(err, apperr.CodePatientMismatch))
	require.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestResolve_FromBaseSession(t *testing.T) {
	f := newFixture()
	id := f.selectedSession(t, "patient-1")
	f.dropSelection(id)

	got, err := newTestRecovery(f).Resolve(context.Background(), id, "patient-1")
	require.NoError(t, err)
	require.True(t, got.IsRecovered)
	require.Equal(t, ReasonReconstructed, got.RecoveryReason)
	require.Equal(t, diagnosis.TypeVideo, got.ConsultationType)
	require.Equal(t, "Migraine", got.Diagnosis.Diagnosis)
}

func TestResolve_BaseSessionWithoutSelectionDefaultsToChat(t *testing.T) {
	f := newFixture()
	sess, err := f.store.CreateSession(context.Background(), "patient-1")
	require.NoError(t, err)

	got, err := newTestRecovery(f).Resolve(context.Background(), sess.ID, "patient-1")
	require.NoError(t, err)
	require.Equal(t, ReasonReconstructed, got.RecoveryReason)
	require.Equal(t, diagnosis.TypeChat, got.ConsultationType)
	require.NotNil(t, got.Symptoms)
	require.NotNil(t, got.Diagnosis)
}

func TestResolve_CorruptedSelectionFallsThrough(t *testing.T) {
	f := newFixture()
	id := f.selectedSession(t, "patient-1")
	require.NoError(t, f.cache.Set(context.Background(), "session:"+id.String()+"_selection", []byte("{broken"), time.Hour))

	got, err := newTestRecovery(f).Resolve(context.Background(), id, "patient-1")
	require.NoError(t, err)
	require.Equal(t, ReasonReconstructed, got.RecoveryReason)
}

func TestResolve_Placeholders(t *testing.T) {
	f := newFixture()
	id := f.selectedSession(t, "patient-1")
	f.dropSelection(id)
	f.dropSession(id)

	got, err := newTestRecovery(f).Resolve(context.Background(), id, "patient-1")
	require.NoError(t, err)
	require.True(t, got.IsRecovered)
	require.Equal(t, ReasonPlaceholder, got.RecoveryReason)
	require.Equal(t, "patient-1", got.PatientID)
	require.Equal(t, diagnosis.TypeChat, got.ConsultationType)
	require.Equal(t, diagnosis.DeclaredModerate, got.Symptoms.Severity)
	require.Equal(t, "unknown", got.Symptoms.Duration)
	require.LessOrEqual(t, got.Diagnosis.Confidence, diagnosis.RecoveredConfidenceCap)
	require.Equal(t, diagnosis.SeverityMedium, got.Diagnosis.Severity)
}

func TestResolve_ForeignBaseSessionIgnored(t *testing.T) {
	f := newFixture()
	id := f.selectedSession(t, "patient-1")
	f.dropSelection(id)

	got, err := newTestRecovery(f).Resolve(context.Background(), id, "patient-2")
	require.NoError(t, err)
	require.Equal(t, ReasonPlaceholder, got.RecoveryReason)
	require.Equal(t, "patient-2", got.PatientID)
}

func TestResolve_UnknownSession(t *testing.T) {
	got, err := newTestRecovery(newFixture()).Resolve(context.Background(), uuid.New(), "patient-1")
	require.NoError(t, err)
	require.Equal(t, ReasonPlaceholder, got.RecoveryReason)
}
