package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripmarket/settlement-backend/internal/clock"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// AvailabilityResult is the outcome of an availability check
type AvailabilityResult struct {
	Available             bool
	ConflictingBookingIDs []uuid.UUID
	Conflicts             []models.SlotConflict
}

// AvailabilityService answers whether a resource is free for a window
type AvailabilityService struct {
	resources ResourceStore
	holds     HoldStore
	clock     clock.Clock
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(resources ResourceStore, holds HoldStore, clk clock.Clock) *AvailabilityService {
	return &AvailabilityService{
		resources: resources,
		holds:     holds,
		clock:     clk,
	}
}

// CheckAvailability reports bookings and live holds overlapping [start, end).
// Read-only.
func (s *AvailabilityService) CheckAvailability(ctx context.Context, resourceID uuid.UUID, start, end time.Time) (*AvailabilityResult, error) {
	if !end.After(start) {
		return nil, NewValidationError("end", "must be after start")
	}

	res, err := s.resources.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &NotFoundError{Kind: "resource", ID: resourceID.String()}
	}

	if err := checkAdvanceWindow(res.Policy, start, s.clock.Now()); err != nil {
		return nil, err
	}

	return s.findConflicts(ctx, resourceID, start, end)
}

// findConflicts runs the overlap query. Inside a transaction holding the
// resource lock the answer stays true until commit.
func (s *AvailabilityService) findConflicts(ctx context.Context, resourceID uuid.UUID, start, end time.Time) (*AvailabilityResult, error) {
	conflicts, err := s.holds.FindConflicts(ctx, resourceID, start, end, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("availability check failed: %w", err)
	}

	result := &AvailabilityResult{
		Available:             len(conflicts) == 0,
		ConflictingBookingIDs: []uuid.UUID{},
		Conflicts:             conflicts,
	}
	for _, c := range conflicts {
		if c.BookingID != nil {
			result.ConflictingBookingIDs = append(result.ConflictingBookingIDs, *c.BookingID)
		}
	}
	return result, nil
}

// checkAdvanceWindow applies the resource's lead-time rules to a start time
func checkAdvanceWindow(policy models.BookingPolicy, start, now time.Time) error {
	if !start.After(now) {
		return &PolicyViolationError{Rule: "advance_booking", Message: "start must be in the future"}
	}
	if policy.MinAdvanceHours > 0 && start.Sub(now) < time.Duration(policy.MinAdvanceHours)*time.Hour {
		return &PolicyViolationError{
			Rule:    "min_advance",
			Message: fmt.Sprintf("must be booked at least %d hours in advance", policy.MinAdvanceHours),
		}
	}
	if policy.MaxAdvanceDays > 0 && start.Sub(now) > time.Duration(policy.MaxAdvanceDays)*24*time.Hour {
		return &PolicyViolationError{
			Rule:    "max_advance",
			Message: fmt.Sprintf("cannot be booked more than %d days in advance", policy.MaxAdvanceDays),
		}
	}
	return nil
}
