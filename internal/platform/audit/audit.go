// Package audit records who touched which consultation data. Sinks are
// fire-and-forget: a failed write is logged and never surfaces to the caller.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one data-access record.
type Entry struct {
	Actor      string         `json:"actor"`
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	ResourceID string         `json:"resource_id,omitempty"`
	PatientID  string         `json:"patient_id,omitempty"`
	Before     any            `json:"before,omitempty"`
	After      any            `json:"after,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Sink interface {
	LogDataAccess(ctx context.Context, entry Entry)
}

type requestMetaKey struct{}

// RequestMeta is the transport information attached to every entry written
// while serving a request.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// enrich fills request metadata and the timestamp when absent.
func enrich(ctx context.Context, e Entry) Entry {
	meta := RequestMetaFrom(ctx)
	if e.RequestID == "" {
		e.RequestID = meta.RequestID
	}
	if e.IPAddress == "" {
		e.IPAddress = meta.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = meta.UserAgent
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return e
}

// LogSink writes entries as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) LogDataAccess(ctx context.Context, entry Entry) {
	entry = enrich(ctx, entry)
	evt := s.logger.Info().
		Str("type", "data_access").
		Str("actor", entry.Actor).
		Str("resource", entry.Resource).
		Str("action", entry.Action).
		Str("resource_id", entry.ResourceID).
		Str("patient_id", entry.PatientID).
		Str("request_id", entry.RequestID).
		Str("remote_ip", entry.IPAddress)
	if len(entry.Metadata) > 0 {
		evt = evt.Interface("metadata", entry.Metadata)
	}
	evt.Msg("data_access")
}

// Multi fans an entry out to several sinks.
type Multi []Sink

func (m Multi) LogDataAccess(ctx context.Context, entry Entry) {
	for _, s := range m {
		if s != nil {
			s.LogDataAccess(ctx, entry)
		}
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) LogDataAccess(context.Context, Entry) {}
