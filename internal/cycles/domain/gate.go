package cycles

import (
	"errors"
	"time"
)

// Lifecycle gate errors. The gate only authorizes or refuses; it never
// mutates cycle state itself.
var (
	// ErrStatusNotAdvanceable indicates the current status has no manual
	// next status (anything but OPEN).
	ErrStatusNotAdvanceable = errors.New("cycle: status cannot be changed manually")
	// ErrTransitionNotAllowed indicates the requested target is not an
	// allowed next status.
	ErrTransitionNotAllowed = errors.New("cycle: transition not allowed")
	// ErrOutsideCurrentMonth indicates the cycle period does not overlap
	// the current calendar month.
	ErrOutsideCurrentMonth = errors.New("cycle: period outside current month")
	// ErrCycleNotAssignable indicates assignments may not be created for
	// the cycle in its current state.
	ErrCycleNotAssignable = errors.New("cycle: assignments not permitted in current state")
)

// AllowedNextStatuses returns the statuses a cycle may be manually
// advanced to. Only OPEN cycles can advance, and only to IN_PROGRESS;
// COMPLETED and CLOSED are terminal for the manual path, and CANCELLED
// is never reachable manually.
func AllowedNextStatuses(status string) []string {
	if status == StatusOpen {
		return []string{StatusInProgress}
	}
	return nil
}

// CanTransition reports whether a manual status change to next is
// permitted at time now. Both the status rule and the current-month rule
// must hold; violations carry distinct errors so callers can surface the
// exact rejection.
func CanTransition(cycle ReadingCycle, next string, now time.Time) error {
	if !ValidStatus(cycle.Status) || !ValidStatus(next) {
		return ErrUnknownStatus
	}
	allowed := AllowedNextStatuses(cycle.Status)
	if len(allowed) == 0 {
		return ErrStatusNotAdvanceable
	}
	found := false
	for _, s := range allowed {
		if s == next {
			found = true
			break
		}
	}
	if !found {
		return ErrTransitionNotAllowed
	}
	if !OverlapsMonth(cycle.PeriodFrom, cycle.PeriodTo, now) {
		return ErrOutsideCurrentMonth
	}
	return nil
}

// CanAssign reports whether reading assignments may be created for the
// cycle at time now: the cycle must be OPEN or IN_PROGRESS and its
// period must overlap the current calendar month.
func CanAssign(cycle ReadingCycle, now time.Time) error {
	if cycle.Status != StatusOpen && cycle.Status != StatusInProgress {
		return ErrCycleNotAssignable
	}
	if !OverlapsMonth(cycle.PeriodFrom, cycle.PeriodTo, now) {
		return ErrOutsideCurrentMonth
	}
	return nil
}

// OverlapsMonth reports whether the inclusive [from, to] range overlaps
// the calendar month containing now. Comparison is at day granularity in
// the timezone of now.
func OverlapsMonth(from, to, now time.Time) bool {
	if from.IsZero() || to.IsZero() {
		return false
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	nextMonth := monthStart.AddDate(0, 1, 0)
	return from.Before(nextMonth) && !to.Before(monthStart)
}
