package shift

import (
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// DoctorShift assigns a doctor to an hour range of the day. EndHour is
// exclusive; a range with EndHour <= StartHour wraps past midnight.
type DoctorShift struct {
	ID            uuid.UUID  `db:"id" json:"id" bson:"-"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id" bson:"-"`
	StartHour     int        `db:"start_hour" json:"start_hour" bson:"start_hour"`
	EndHour       int        `db:"end_hour" json:"end_hour" bson:"end_hour"`
	Status        Status     `db:"status" json:"status" bson:"status"`
	EffectiveFrom time.Time  `db:"effective_from" json:"effective_from" bson:"effective_from"`
	EffectiveTo   *time.Time `db:"effective_to" json:"effective_to,omitempty" bson:"effective_to,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at" bson:"created_at"`
}

// Covers reports whether the shift includes hour. Equal start and end hours
// cover the whole day.
func (s *DoctorShift) Covers(hour int) bool {
	if s.StartHour == s.EndHour {
		return true
	}
	if s.StartHour < s.EndHour {
		return hour >= s.StartHour && hour < s.EndHour
	}
	return hour >= s.StartHour || hour < s.EndHour
}

// EffectiveAt reports whether at falls inside the shift's validity window.
func (s *DoctorShift) EffectiveAt(at time.Time) bool {
	if at.Before(s.EffectiveFrom) {
		return false
	}
	return s.EffectiveTo == nil || at.Before(*s.EffectiveTo)
}

func (s *DoctorShift) Validate() error {
	if s.DoctorID == uuid.Nil {
		return apperr.Validation(apperr.CodeInvalidInput, "doctor_id is required")
	}
	if s.StartHour < 0 || s.StartHour > 23 || s.EndHour < 0 || s.EndHour > 23 {
		return apperr.Validation(apperr.CodeInvalidInput, "start_hour and end_hour must be between 0 and 23")
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if s.Status != StatusActive && s.Status != StatusInactive {
		return apperr.Validation(apperr.CodeInvalidInput, "status must be ACTIVE or INACTIVE")
	}
	if s.EffectiveTo != nil && !s.EffectiveTo.After(s.EffectiveFrom) {
		return apperr.Validation(apperr.CodeInvalidInput, "effective_to must be after effective_from")
	}
	return nil
}
