package diagnosis

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/audit"
	"github.com/telecare/telecare/internal/platform/cache"
)

// Diagnoser is the outbound call the orchestrator depends on. *Client
// satisfies it.
type Diagnoser interface {
	Diagnose(ctx context.Context, req *Request) (*ServiceResponse, error)
}

// Orchestrator produces a diagnosis for a symptom payload, preferring the
// cache, then the external service, then the rule-based fallback.
type Orchestrator struct {
	client   Diagnoser
	cache    cache.Store
	audit    audit.Sink
	logger   zerolog.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

func NewOrchestrator(client Diagnoser, store cache.Store, sink audit.Sink, cacheTTL time.Duration, logger zerolog.Logger) *Orchestrator {
	if sink == nil {
		sink = audit.Nop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Orchestrator{
		client:   client,
		cache:    store,
		audit:    sink,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

func (o *Orchestrator) GetDiagnosis(ctx context.Context, actor string, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := req.CacheKey()

	var cached Result
	err := cache.GetJSON(ctx, o.cache, key, &cached)
	switch {
	case err == nil:
		cached.FromCache = true
		o.record(ctx, actor, key, &cached)
		return &cached, nil
	case errors.Is(err, cache.ErrMiss):
	case cache.IsCorrupted(err):
		o.logger.Warn().Err(err).Str("cache_key", key).Msg("discarding corrupted diagnosis cache entry")
		_ = o.cache.Delete(ctx, key)
	default:
		o.logger.Warn().Err(err).Str("cache_key", key).Msg("diagnosis cache read failed")
	}

	resp, err := o.client.Diagnose(ctx, req)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) && upstream.Degraded() {
			o.logger.Warn().Err(err).Msg("diagnosis service unavailable, using fallback")
			result := Fallback(req, o.now())
			o.record(ctx, actor, key, result)
			return result, nil
		}
		return nil, apperr.ServiceUnavailable(err, "diagnosis service unavailable")
	}

	result := FromResponse(resp, o.now())
	if err := cache.SetJSON(ctx, o.cache, key, result, o.cacheTTL); err != nil {
		o.logger.Warn().Err(err).Str("cache_key", key).Msg("diagnosis cache write failed")
	}
	o.record(ctx, actor, key, result)
	return result, nil
}

func (o *Orchestrator) record(ctx context.Context, actor, key string, r *Result) {
	o.audit.LogDataAccess(ctx, audit.Entry{
		Actor:    actor,
		Resource: "diagnosis",
		Action:   "generate",
		After:    r,
		Metadata: map[string]any{
			"cache_key":   key,
			"from_cache":  r.FromCache,
			"is_fallback": r.IsFallback,
			"severity":    string(r.Severity),
		},
	})
}
