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

const DefaultTTL = time.Hour

// Store keeps intake sessions in the cache. Entries expire lazily: reads
// past ExpiresAt delete the entry and report it missing.
type Store struct {
	cache  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewStore(c cache.Store, ttl time.Duration, logger zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: c, ttl: ttl, logger: logger, now: time.Now}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) CreateSession(ctx context.Context, patientID string) (*Session, error) {
	if patientID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "patient id is required")
	}
	now := s.now().UTC()
	sess := &Session{
		ID:        uuid.New(),
		PatientID: patientID,
		Phase:     PhaseSymptomCollection,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := cache.SetJSON(ctx, s.cache, sessionKey(sess.ID), sess, s.ttl); err != nil {
		return nil, apperr.Internal(err, "store session")
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	if err := s.load(ctx, sessionKey(id), &sess, func() time.Time { return sess.ExpiresAt }); err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateSession merges patch into the session and moves it to phase. An
// empty patientID skips the ownership check.
func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, phase Phase, patch Data, patientID string) (*Session, error) {
	if !phase.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown phase %q", phase)
	}
	if err := patch.validFor(phase); err != nil {
		return nil, err
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(sess.PatientID, patientID); err != nil {
		return nil, err
	}
	if !sess.Phase.CanMoveTo(phase) {
		return nil, apperr.PhaseMismatch("session %s is in phase %s and cannot move to %s", id, sess.Phase, phase)
	}

	sess.Data.merge(patch)
	sess.Phase = phase
	sess.UpdatedAt = s.now().UTC()

	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil, sessionNotFound(id.String())
	}
	if err := cache.SetJSON(ctx, s.cache, sessionKey(id), sess, ttl); err != nil {
		return nil, apperr.Internal(err, "store session")
	}
	return sess, nil
}

func (s *Store) ValidateSessionPhase(ctx context.Context, id uuid.UUID, expected Phase, patientID string) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(sess.PatientID, patientID); err != nil {
		return nil, err
	}
	if sess.Phase != expected {
		return nil, apperr.PhaseMismatch("session %s is in phase %s, expected %s", id, sess.Phase, expected)
	}
	return sess, nil
}

func (s *Store) SaveSelection(ctx context.Context, rec *SelectionRecord) error {
	now := s.now().UTC()
	if rec.SelectedAt.IsZero() {
		rec.SelectedAt = now
	}
	rec.ExpiresAt = now.Add(s.ttl)
	if err := cache.SetJSON(ctx, s.cache, selectionKey(rec.SessionID), rec, s.ttl); err != nil {
		return apperr.Internal(err, "store selection")
	}
	return nil
}

func (s *Store) GetSelection(ctx context.Context, sessionID uuid.UUID) (*SelectionRecord, error) {
	var rec SelectionRecord
	if err := s.load(ctx, selectionKey(sessionID), &rec, func() time.Time { return rec.ExpiresAt }); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DestroySession removes the session and its selection entry.
func (s *Store) DestroySession(ctx context.Context, id uuid.UUID) error {
	return errors.Join(
		s.cache.Delete(ctx, sessionKey(id)),
		s.cache.Delete(ctx, selectionKey(id)),
	)
}

// load decodes key into dst. Missing, undecodable and expired entries all
// come back as SESSION_NOT_FOUND; the latter two are deleted.
func (s *Store) load(ctx context.Context, key string, dst any, expiresAt func() time.Time) error {
	return loadEntry(ctx, s.cache, s.logger, s.now, key, dst, expiresAt)
}

func loadEntry(ctx context.Context, c cache.Store, logger zerolog.Logger, now func() time.Time,
	key string, dst any, expiresAt func() time.Time) error {
	err := cache.GetJSON(ctx, c, key, dst)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrMiss):
		return sessionNotFound(key)
	case cache.IsCorrupted(err):
		logger.Warn().Err(err).Str("key", key).Msg("discarding corrupted session entry")
		_ = c.Delete(ctx, key)
		return sessionNotFound(key)
	default:
		return apperr.Internal(err, "read session")
	}

	if exp := expiresAt(); !exp.IsZero() && !now().Before(exp) {
		if err := c.Delete(ctx, key); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("failed to delete expired session")
		}
		return sessionNotFound(key)
	}
	return nil
}

func sessionNotFound(ref string) error {
	return apperr.NotFound(apperr.CodeSessionNotFound, "session %s not found or expired", ref)
}

func checkOwner(owner, caller string) error {
	if caller != "" && owner != caller {
		return apperr.Conflict(apperr.CodePatientMismatch, "session belongs to a different patient")
	}
	return nil
}
