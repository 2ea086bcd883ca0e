package consultation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Expirer interface {
	ExpireConsultations(ctx context.Context) (int64, error)
}

// Sweeper runs the expiry sweep on a fixed interval.
type Sweeper struct {
	svc      Expirer
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(svc Expirer, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.svc.ExpireConsultations(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("consultation expiry sweep failed")
		return
	}
	s.logger.Debug().Int64("expired", n).Msg("consultation expiry sweep finished")
}
