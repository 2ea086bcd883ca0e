package shift

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *DoctorShift) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorShift, error)
	List(ctx context.Context, limit, offset int) ([]*DoctorShift, int, error)
	// ListActive returns ACTIVE shifts effective at the given instant,
	// newest first.
	ListActive(ctx context.Context, at time.Time) ([]*DoctorShift, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
}
