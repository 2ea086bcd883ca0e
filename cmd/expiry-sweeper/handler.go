package main

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/consultation"
)

type sweepResult struct {
	Expired int64     `json:"expired"`
	RanAt   time.Time `json:"ran_at"`
}

// sweepHandler is invoked by an EventBridge schedule.
type sweepHandler struct {
	svc    consultation.Expirer
	logger zerolog.Logger
	now    func() time.Time
}

func newSweepHandler(svc consultation.Expirer, logger zerolog.Logger) (*sweepHandler, error) {
	if svc == nil {
		return nil, errors.New("expiry sweeper: expirer must not be nil")
	}
	return &sweepHandler{svc: svc, logger: logger, now: time.Now}, nil
}

func (h *sweepHandler) Handle(ctx context.Context, ev events.CloudWatchEvent) (sweepResult, error) {
	log := h.logger.With().Str("event_id", ev.ID).Str("source", ev.Source).Logger()

	n, err := h.svc.ExpireConsultations(ctx)
	if err != nil {
		// Returning the error lets the scheduler retry the invocation.
		log.Error().Err(err).Msg("expiry sweep failed")
		return sweepResult{}, err
	}
	log.Info().Int64("expired", n).Msg("expiry sweep finished")
	return sweepResult{Expired: n, RanAt: h.now().UTC()}, nil
}
