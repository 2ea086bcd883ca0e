package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/cache"
)

const (
	ResolvedTTL = 30 * time.Minute
	FallbackTTL = 15 * time.Minute
	// EveningStartHour splits the fallback day and evening doctors.
	EveningStartHour = 16
)

type cachedDoctor struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Fallback bool      `json:"fallback"`
}

func activeDoctorKey(hour int) string {
	return fmt.Sprintf("active_doctor:%d", hour)
}

// Resolver finds the doctor on duty for an hour. Lookups never fail: when no
// shift covers the hour, or the shift store errors, the configured fallback
// doctor for that half of the day is returned.
type Resolver struct {
	repo          Repository
	cache         cache.Store
	dayDoctor     uuid.UUID
	eveningDoctor uuid.UUID
	loc           *time.Location
	logger        zerolog.Logger
	now           func() time.Time
}

func NewResolver(repo Repository, store cache.Store, dayDoctor, eveningDoctor uuid.UUID, logger zerolog.Logger) *Resolver {
	return &Resolver{
		repo:          repo,
		cache:         store,
		dayDoctor:     dayDoctor,
		eveningDoctor: eveningDoctor,
		loc:           time.UTC,
		logger:        logger,
		now:           time.Now,
	}
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// WithLocation sets the zone shift hours are expressed in.
func (r *Resolver) WithLocation(loc *time.Location) *Resolver {
	if loc != nil {
		r.loc = loc
	}
	return r
}

func (r *Resolver) ActiveDoctorForCurrentTime(ctx context.Context) uuid.UUID {
	return r.DoctorForTime(ctx, r.now())
}

func (r *Resolver) DoctorForTime(ctx context.Context, at time.Time) uuid.UUID {
	hour := at.In(r.loc).Hour()
	key := activeDoctorKey(hour)

	var hit cachedDoctor
	err := cache.GetJSON(ctx, r.cache, key, &hit)
	if err == nil {
		return hit.DoctorID
	}
	if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn().Err(err).Str("key", key).Msg("active doctor cache read failed")
	}

	shifts, err := r.repo.ListActive(ctx, at)
	if err != nil {
		r.logger.Error().Err(err).Int("hour", hour).Msg("shift lookup failed, using fallback doctor")
	}
	for _, s := range shifts {
		if s.Covers(hour) {
			r.store(ctx, key, cachedDoctor{DoctorID: s.DoctorID}, ResolvedTTL)
			return s.DoctorID
		}
	}

	doctor := r.fallback(hour)
	r.logger.Info().Int("hour", hour).Str("doctor_id", doctor.String()).Msg("no shift covers hour, using fallback doctor")
	r.store(ctx, key, cachedDoctor{DoctorID: doctor, Fallback: true}, FallbackTTL)
	return doctor
}

func (r *Resolver) fallback(hour int) uuid.UUID {
	if hour < EveningStartHour {
		return r.dayDoctor
	}
	return r.eveningDoctor
}

func (r *Resolver) store(ctx context.Context, key string, v cachedDoctor, ttl time.Duration) {
	if err := cache.SetJSON(ctx, r.cache, key, v, ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("active doctor cache write failed")
	}
}

// Invalidate drops every cached hour lookup.
func (r *Resolver) Invalidate(ctx context.Context) {
	for h := 0; h < 24; h++ {
		if err := r.cache.Delete(ctx, activeDoctorKey(h)); err != nil {
			r.logger.Warn().Err(err).Int("hour", h).Msg("active doctor cache delete failed")
		}
	}
}
