package shift

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo     Repository
	resolver *Resolver
}

func NewService(repo Repository, resolver *Resolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

func (s *Service) CreateShift(ctx context.Context, sh *DoctorShift) error {
	if sh.EffectiveFrom.IsZero() {
		sh.EffectiveFrom = time.Now().UTC()
	}
	if err := sh.Validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, sh); err != nil {
		return err
	}
	s.resolver.Invalidate(ctx)
	return nil
}

func (s *Service) GetShift(ctx context.Context, id uuid.UUID) (*DoctorShift, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListShifts(ctx context.Context, limit, offset int) ([]*DoctorShift, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) DeactivateShift(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetStatus(ctx, id, StatusInactive); err != nil {
		return err
	}
	s.resolver.Invalidate(ctx)
	return nil
}

func (s *Service) ActiveDoctor(ctx context.Context) uuid.UUID {
	return s.resolver.ActiveDoctorForCurrentTime(ctx)
}
