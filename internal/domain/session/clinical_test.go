package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/cache"
)

func newClinicalStore() (*ClinicalStore, *testClock) {
	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewClinicalStore(cache.NewMemoryStore(), 0, zerolog.Nop()).WithClock(clock.Now), clock
}

func TestClinicalStore_Lifecycle(t *testing.T) {
	s, _ := newClinicalStore()
	ctx := context.Background()
	consultationID := uuid.New()

	cs, err := s.Create(ctx, consultationID, "patient-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.Phase != ClinicalDetailedAssessment {
		t.Errorf("expected detailed_assessment, got %s", cs.Phase)
	}
	if cs.ExpiresAt.Sub(cs.CreatedAt) != 24*time.Hour {
		t.Errorf("expected 24h ttl, got %v", cs.ExpiresAt.Sub(cs.CreatedAt))
	}

	updated, err := s.Update(ctx, cs.ID, ClinicalSymptomsCollected,
		ClinicalData{Answers: map[string]string{"onset": "sudden"}, Notes: []string{"first"}}, consultationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, err = s.Update(ctx, cs.ID, ClinicalSymptomsCollected,
		ClinicalData{Answers: map[string]string{"pain": "7"}, Notes: []string{"second"}}, consultationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Data.Answers) != 2 || len(updated.Data.Notes) != 2 {
		t.Errorf("expected merged data, got %+v", updated.Data)
	}

	if _, err := s.ValidatePhase(ctx, cs.ID, ClinicalSymptomsCollected, consultationID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := s.Update(ctx, cs.ID, ClinicalCompleted, ClinicalData{}, consultationID); !apperr.HasCode(err, apperr.CodePhaseMismatch) {
		t.Errorf("expected PHASE_MISMATCH, got %v", err)
	}
}

func TestClinicalStore_ConsultationMismatch(t *testing.T) {
	s, _ := newClinicalStore()
	ctx := context.Background()
	cs, _ := s.Create(ctx, uuid.New(), "patient-1")

	_, err := s.Get(ctx, cs.ID, uuid.New())
	if !apperr.HasCode(err, apperr.CodeConsultationMismatch) {
		t.Errorf("expected CONSULTATION_MISMATCH, got %v", err)
	}
	if _, err := s.Get(ctx, cs.ID, uuid.Nil); err != nil {
		t.Errorf("nil consultation id should skip the check: %v", err)
	}
}

func TestClinicalStore_Expiry(t *testing.T) {
	s, clock := newClinicalStore()
	ctx := context.Background()
	cs, _ := s.Create(ctx, uuid.New(), "patient-1")

	clock.Advance(25 * time.Hour)
	if _, err := s.Get(ctx, cs.ID, uuid.Nil); !apperr.HasCode(err, apperr.CodeSessionNotFound) {
		t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
	}
}
