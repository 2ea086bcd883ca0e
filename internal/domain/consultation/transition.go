package consultation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/apperr"
)

// allowedTransitions lists the statuses each non-terminal status may move
// to. EXPIRED is reachable only through the expiry sweep.
var allowedTransitions = map[Status][]Status{
	StatusDraft:                     {StatusPending, StatusPaymentPending, StatusCancelled},
	StatusPending:                   {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending:            {StatusPaymentConfirmed, StatusCancelled},
	StatusPaymentConfirmed:          {StatusClinicalAssessmentPending, StatusActive, StatusCancelled},
	StatusClinicalAssessmentPending: {StatusActive, StatusDoctorReviewPending, StatusCancelled},
	StatusActive:                    {StatusDoctorReviewPending, StatusDoctorAssigned, StatusInProgress, StatusCancelled},
	StatusDoctorReviewPending:       {StatusDoctorAssigned, StatusCancelled},
	StatusDoctorAssigned:            {StatusInProgress, StatusCancelled},
	StatusInProgress:                {StatusOnHold, StatusCompleted, StatusCancelled},
	StatusOnHold:                    {StatusInProgress, StatusCancelled},
}

// AllowedTargets returns the statuses from may move to.
func AllowedTargets(from Status) []Status {
	return append([]Status(nil), allowedTransitions[from]...)
}

func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionUpdate is the persisted effect of one status change. Stores
// apply it only while the record is still in From.
type TransitionUpdate struct {
	ID          uuid.UUID
	From        Status
	Change      StatusChange
	IsActive    bool
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// Transition validates moving c to status to and computes the resulting
// update. c is not modified.
func Transition(c *Consultation, to Status, actor, reason string, metadata map[string]any, now time.Time) (TransitionUpdate, error) {
	if !CanTransition(c.Status, to) {
		allowed := make([]string, 0, len(allowedTransitions[c.Status]))
		for _, s := range allowedTransitions[c.Status] {
			allowed = append(allowed, string(s))
		}
		list := strings.Join(allowed, ", ")
		if list == "" {
			list = "none"
		}
		return TransitionUpdate{}, apperr.Validation(apperr.CodeInvalidTransition,
			"cannot move consultation from %s to %s; allowed: %s", c.Status, to, list)
	}

	now = now.UTC()
	u := TransitionUpdate{
		ID:   c.ID,
		From: c.Status,
		Change: StatusChange{
			Status:         to,
			PreviousStatus: c.Status,
			Timestamp:      now,
			Actor:          actor,
			Reason:         reason,
			Metadata:       metadata,
		},
		IsActive:    c.IsActive,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		CancelledAt: c.CancelledAt,
		UpdatedAt:   now,
	}

	switch to {
	case StatusCompleted:
		u.IsActive = false
		u.CompletedAt = &now
	case StatusCancelled:
		u.IsActive = false
		u.CancelledAt = &now
	case StatusInProgress:
		u.IsActive = true
		if u.StartedAt == nil {
			u.StartedAt = &now
		}
	case StatusActive:
		u.IsActive = true
	}
	return u, nil
}

// Apply returns a copy of c with u applied.
func (u TransitionUpdate) Apply(c *Consultation) *Consultation {
	out := *c
	out.Status = u.Change.Status
	out.IsActive = u.IsActive
	out.StartedAt = u.StartedAt
	out.CompletedAt = u.CompletedAt
	out.CancelledAt = u.CancelledAt
	out.UpdatedAt = u.UpdatedAt
	out.StatusHistory = append(append([]StatusChange(nil), c.StatusHistory...), u.Change)
	return &out
}
