package application

import (
	"context"
	"errors"
	"testing"
	"time"

	assignments "qhome-metering/internal/assignments/domain"
	cycles "qhome-metering/internal/cycles/domain"
	masterdata "qhome-metering/internal/masterdata/domain"
)

type fakeAssignmentRepo struct {
	assignments map[string]assignments.MeterReadingAssignment
	units       map[string][]string
	counts      map[string][2]int
	completed   map[string]*time.Time
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{
		assignments: make(map[string]assignments.MeterReadingAssignment),
		units:       make(map[string][]string),
		counts:      make(map[string][2]int),
		completed:   make(map[string]*time.Time),
	}
}

func (r *fakeAssignmentRepo) Get(_ context.Context, id string) (*assignments.MeterReadingAssignment, error) {
	a, ok := r.assignments[id]
	if !ok {
		return nil, nil
	}
	a.CompletedAt = r.completed[id]
	return &a, nil
}

func (r *fakeAssignmentRepo) ListByCycle(_ context.Context, cycleID string) ([]assignments.MeterReadingAssignment, error) {
	var out []assignments.MeterReadingAssignment
	for _, a := range r.assignments {
		if a.CycleID == cycleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAssignmentRepo) Create(_ context.Context, assignment *assignments.MeterReadingAssignment, unitIDs []string) error {
	r.assignments[assignment.ID] = *assignment
	r.units[assignment.ID] = unitIDs
	return nil
}

func (r *fakeAssignmentRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.assignments[id]; !ok {
		return assignments.ErrAssignmentNotFound
	}
	delete(r.assignments, id)
	delete(r.units, id)
	return nil
}

func (r *fakeAssignmentRepo) CountByCycle(_ context.Context, cycleID string) (int, error) {
	count := 0
	for _, a := range r.assignments {
		if a.CycleID == cycleID {
			count++
		}
	}
	return count, nil
}

func (r *fakeAssignmentRepo) AssignedUnitIDs(_ context.Context, cycleID string) ([]string, error) {
	var out []string
	for id, a := range r.assignments {
		if a.CycleID == cycleID {
			out = append(out, r.units[id]...)
		}
	}
	return out, nil
}

func (r *fakeAssignmentRepo) ListUnits(_ context.Context, assignmentID, _ string) ([]assignments.AssignmentUnit, error) {
	var out []assignments.AssignmentUnit
	for _, unitID := range r.units[assignmentID] {
		out = append(out, assignments.AssignmentUnit{UnitID: unitID, UnitCode: unitID})
	}
	return out, nil
}

func (r *fakeAssignmentRepo) ScopeCounts(_ context.Context, assignmentID string) (int, int, error) {
	c := r.counts[assignmentID]
	return c[0], c[1], nil
}

func (r *fakeAssignmentRepo) ListUnassignedFloors(_ context.Context, _, _ string) ([]assignments.UnassignedFloor, error) {
	return nil, nil
}

func (r *fakeAssignmentRepo) SetCompletedAt(_ context.Context, id string, completedAt *time.Time, _ time.Time) error {
	if _, ok := r.assignments[id]; !ok {
		return assignments.ErrAssignmentNotFound
	}
	r.completed[id] = completedAt
	return nil
}

type fakeCycleLookup struct {
	cycle *cycles.ReadingCycle
}

func (l fakeCycleLookup) Get(_ context.Context, _ string) (*cycles.ReadingCycle, error) {
	return l.cycle, nil
}

type scopedUnitRepo struct {
	units []masterdata.Unit
}

func (r scopedUnitRepo) Get(_ context.Context, id string) (*masterdata.Unit, error) {
	for _, u := range r.units {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, nil
}

func (r scopedUnitRepo) ListByBuilding(_ context.Context, _ string) ([]masterdata.Unit, error) {
	return r.units, nil
}

func (r scopedUnitRepo) ListByScope(_ context.Context, _ string, floorFrom, floorTo *int, unitIDs []string) ([]masterdata.Unit, error) {
	if len(unitIDs) > 0 {
		var out []masterdata.Unit
		for _, u := range r.units {
			for _, id := range unitIDs {
				if u.ID == id {
					out = append(out, u)
				}
			}
		}
		return out, nil
	}
	if floorFrom != nil && floorTo != nil {
		var out []masterdata.Unit
		for _, u := range r.units {
			if u.Floor >= *floorFrom && u.Floor <= *floorTo {
				out = append(out, u)
			}
		}
		return out, nil
	}
	return r.units, nil
}

func (r scopedUnitRepo) Save(_ context.Context, _ *masterdata.Unit) error { return nil }

type fixedReadingCounter struct {
	count int
}

func (c fixedReadingCounter) CountByAssignment(_ context.Context, _ string) (int, error) {
	return c.count, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func assignableCycle() *cycles.ReadingCycle {
	return &cycles.ReadingCycle{
		ID:         "cycle-1",
		ServiceID:  "svc-water",
		PeriodFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:     cycles.StatusOpen,
	}
}

func marchClock() fixedClock {
	return fixedClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func buildingUnits() scopedUnitRepo {
	return scopedUnitRepo{units: []masterdata.Unit{
		{ID: "unit-1", BuildingID: "bldg-1", Code: "101", Floor: 1},
		{ID: "unit-2", BuildingID: "bldg-1", Code: "102", Floor: 1},
		{ID: "unit-3", BuildingID: "bldg-1", Code: "201", Floor: 2},
	}}
}

func newService(t *testing.T, repo *fakeAssignmentRepo, cycle *cycles.ReadingCycle, readings ReadingCounter) *AssignmentService {
	t.Helper()
	svc, err := NewAssignmentService(repo, fakeCycleLookup{cycle: cycle}, buildingUnits(), readings, nil, WithClock(marchClock()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCreate_RefusedWhenCycleNotAssignable(t *testing.T) {
	cycle := assignableCycle()
	cycle.Status = cycles.StatusClosed
	svc := newService(t, newFakeAssignmentRepo(), cycle, fixedReadingCounter{})

	_, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1"},
	})
	if !errors.Is(err, cycles.ErrCycleNotAssignable) {
		t.Fatalf("expected ErrCycleNotAssignable, got %v", err)
	}
}

func TestCreate_WholeServiceScopeCoversEveryUnit(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{})

	assignment, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{},
	})
	if err != nil {
		t.Fatalf("whole-service scope must be accepted: %v", err)
	}
	if assignment.Scope.Mode() != assignments.ScopeModeService {
		t.Fatalf("expected service scope mode, got %s", assignment.Scope.Mode())
	}
	if got := len(repo.units[assignment.ID]); got != 3 {
		t.Fatalf("expected all 3 units resolved into scope, got %d", got)
	}
}

func TestCreate_RefusedOnOverlappingScope(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{})

	_, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1", UnitIDs: []string{"unit-1", "unit-2"}},
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-2",
		Scope:      assignments.Scope{BuildingID: "bldg-1", FloorFrom: intp(1), FloorTo: intp(2)},
	})
	if !errors.Is(err, assignments.ErrOverlappingScope) {
		t.Fatalf("expected ErrOverlappingScope, got %v", err)
	}
}

func TestCreate_DisjointScopesAllowed(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{})

	if _, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1", UnitIDs: []string{"unit-1"}},
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-2",
		Scope:      assignments.Scope{BuildingID: "bldg-1", FloorFrom: intp(2), FloorTo: intp(2)},
	}); err != nil {
		t.Fatalf("disjoint create: %v", err)
	}
}

func TestDelete_RefusedWhenReadingsExist(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{count: 3})

	created, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = svc.Delete(context.Background(), created.ID, "operator-1")
	if !errors.Is(err, assignments.ErrAssignmentHasReadings) {
		t.Fatalf("expected ErrAssignmentHasReadings, got %v", err)
	}
	if got, _ := svc.Get(context.Background(), created.ID); got == nil {
		t.Fatal("assignment should survive the refused delete")
	}
}

func TestDelete_SucceedsWithoutReadings(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{count: 0})

	created, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(context.Background(), created.ID, "operator-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), created.ID); !errors.Is(err, assignments.ErrAssignmentNotFound) {
		t.Fatalf("expected ErrAssignmentNotFound after delete, got %v", err)
	}
}

func TestProgress_ZeroMetersIsZeroPercent(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{})

	created, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.counts[created.ID] = [2]int{0, 0}

	progress, err := svc.Progress(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.Percent != 0 {
		t.Fatalf("empty scope must report 0%%, got %.1f", progress.Percent)
	}
	if progress.Completed {
		t.Fatal("empty scope must never be completed")
	}
}

func TestProgress_StampsAndClearsCompletion(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{})

	created, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	repo.counts[created.ID] = [2]int{3, 3}
	progress, err := svc.Progress(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !progress.Completed {
		t.Fatal("full coverage should complete the assignment")
	}
	if repo.completed[created.ID] == nil {
		t.Fatal("expected completed_at stamped")
	}

	// a reading was removed, coverage drops, completion clears
	repo.counts[created.ID] = [2]int{3, 2}
	progress, err = svc.Progress(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.Completed {
		t.Fatal("partial coverage should not be completed")
	}
	if repo.completed[created.ID] != nil {
		t.Fatal("expected completed_at cleared")
	}
}

func TestComplete_RefusedWhenIncomplete(t *testing.T) {
	repo := newFakeAssignmentRepo()
	svc := newService(t, repo, assignableCycle(), fixedReadingCounter{})

	created, err := svc.Create(context.Background(), "tenant-1", CreateAssignmentInput{
		CycleID:    "cycle-1",
		AssignedTo: "reader-1",
		Scope:      assignments.Scope{BuildingID: "bldg-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.counts[created.ID] = [2]int{3, 1}

	if _, err := svc.Complete(context.Background(), created.ID, "operator-1"); !errors.Is(err, assignments.ErrAssignmentIncomplete) {
		t.Fatalf("expected ErrAssignmentIncomplete, got %v", err)
	}
}

func intp(v int) *int { return &v }
