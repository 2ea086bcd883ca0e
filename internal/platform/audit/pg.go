package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink inserts entries into data_access_log. Writes run on a context
// detached from the caller so a finished request does not cancel them.
type PGSink struct {
	db      execer
	logger  zerolog.Logger
	timeout time.Duration
	async   bool
}

// NewPGSink takes a *pgxpool.Pool or any other Exec-capable handle.
func NewPGSink(db execer, logger zerolog.Logger) *PGSink {
	return &PGSink{db: db, logger: logger, timeout: 5 * time.Second, async: true}
}

// Synchronous makes LogDataAccess wait for the insert. Used by tests and
// the one-shot sweep command.
func (s *PGSink) Synchronous() *PGSink {
	s.async = false
	return s
}

const insertDataAccess = `
	INSERT INTO data_access_log (
		actor, resource, action, resource_id, patient_id,
		before_state, after_state, metadata,
		request_id, ip_address, user_agent, occurred_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

func (s *PGSink) LogDataAccess(ctx context.Context, entry Entry) {
	entry = enrich(ctx, entry)
	detached := context.WithoutCancel(ctx)
	if s.async {
		go s.write(detached, entry)
		return
	}
	s.write(detached, entry)
}

func (s *PGSink) write(ctx context.Context, entry Entry) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.insert(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("resource", entry.Resource).
			Str("action", entry.Action).
			Str("resource_id", entry.ResourceID).
			Str("request_id", entry.RequestID).
			Msg("failed to record data access")
	}
}

func (s *PGSink) insert(ctx context.Context, e Entry) error {
	before, err := jsonOrNil(e.Before)
	if err != nil {
		return fmt.Errorf("encode before state: %w", err)
	}
	after, err := jsonOrNil(e.After)
	if err != nil {
		return fmt.Errorf("encode after state: %w", err)
	}
	var meta []byte
	if len(e.Metadata) > 0 {
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	_, err = s.db.Exec(ctx, insertDataAccess,
		e.Actor, e.Resource, e.Action, nullable(e.ResourceID), nullable(e.PatientID),
		before, after, meta,
		nullable(e.RequestID), nullable(e.IPAddress), nullable(e.UserAgent), e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert data_access_log: %w", err)
	}
	return nil
}

func jsonOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
