package cycles

import (
	"errors"
	"testing"
	"time"
)

func cycleForTest(status string, from, to time.Time) ReadingCycle {
	return ReadingCycle{
		ID:         "cycle-1",
		Name:       "2024-03 water",
		ServiceID:  "svc-water",
		PeriodFrom: from,
		PeriodTo:   to,
		Status:     status,
	}
}

func TestAllowedNextStatuses(t *testing.T) {
	cases := []struct {
		status string
		want   []string
	}{
		{StatusOpen, []string{StatusInProgress}},
		{StatusInProgress, nil},
		{StatusCompleted, nil},
		{StatusClosed, nil},
		{StatusCancelled, nil},
	}
	for _, tc := range cases {
		got := AllowedNextStatuses(tc.status)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.status, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: expected %v, got %v", tc.status, tc.want, got)
			}
		}
	}
}

func TestCanTransition_OpenWithinMonth(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	cycle := cycleForTest(StatusOpen,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	if err := CanTransition(cycle, StatusInProgress, now); err != nil {
		t.Fatalf("expected transition allowed, got %v", err)
	}
}

func TestCanTransition_RefusedOutsideCurrentMonth(t *testing.T) {
	// January cycle, change requested in March: refused even though OPEN.
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	cycle := cycleForTest(StatusOpen,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	err := CanTransition(cycle, StatusInProgress, now)
	if !errors.Is(err, ErrOutsideCurrentMonth) {
		t.Fatalf("expected ErrOutsideCurrentMonth, got %v", err)
	}
}

func TestCanTransition_RefusedForFutureMonth(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	cycle := cycleForTest(StatusOpen,
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC))
	err := CanTransition(cycle, StatusInProgress, now)
	if !errors.Is(err, ErrOutsideCurrentMonth) {
		t.Fatalf("expected ErrOutsideCurrentMonth, got %v", err)
	}
}

func TestCanTransition_RefusedFromNonOpenStatuses(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	for _, status := range []string{StatusInProgress, StatusCompleted, StatusClosed} {
		cycle := cycleForTest(status, from, to)
		err := CanTransition(cycle, StatusInProgress, now)
		if !errors.Is(err, ErrStatusNotAdvanceable) {
			t.Fatalf("%s: expected ErrStatusNotAdvanceable, got %v", status, err)
		}
	}
}

func TestCanTransition_RefusedToUnlistedTarget(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	cycle := cycleForTest(StatusOpen,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	for _, next := range []string{StatusCompleted, StatusClosed, StatusCancelled} {
		err := CanTransition(cycle, next, now)
		if !errors.Is(err, ErrTransitionNotAllowed) {
			t.Fatalf("to %s: expected ErrTransitionNotAllowed, got %v", next, err)
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	now := time.Now()
	cycle := cycleForTest("DRAFT", now, now)
	if err := CanTransition(cycle, StatusInProgress, now); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestCanAssign(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	if err := CanAssign(cycleForTest(StatusOpen, from, to), now); err != nil {
		t.Fatalf("open cycle should be assignable: %v", err)
	}
	if err := CanAssign(cycleForTest(StatusInProgress, from, to), now); err != nil {
		t.Fatalf("in-progress cycle should be assignable: %v", err)
	}
	if err := CanAssign(cycleForTest(StatusClosed, from, to), now); !errors.Is(err, ErrCycleNotAssignable) {
		t.Fatalf("closed cycle: expected ErrCycleNotAssignable, got %v", err)
	}
	past := cycleForTest(StatusOpen,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err := CanAssign(past, now); !errors.Is(err, ErrOutsideCurrentMonth) {
		t.Fatalf("past cycle: expected ErrOutsideCurrentMonth, got %v", err)
	}
}

func TestOverlapsMonth_Boundaries(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	// period ending on the first day of the month still overlaps
	if !OverlapsMonth(
		time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), now) {
		t.Fatal("period ending on month start should overlap")
	}
	// period starting on the last day of the month still overlaps
	if !OverlapsMonth(
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), now) {
		t.Fatal("period starting on month end should overlap")
	}
	// period strictly before the month does not overlap
	if OverlapsMonth(
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), now) {
		t.Fatal("february period should not overlap march")
	}
	// period strictly after the month does not overlap
	if OverlapsMonth(
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), now) {
		t.Fatal("april period should not overlap march")
	}
}
