package application

import (
	"context"
	"errors"
	"testing"
	"time"

	cycles "qhome-metering/internal/cycles/domain"
	"qhome-metering/internal/eventing"
)

type fakeCycleRepo struct {
	cycles map[string]cycles.ReadingCycle
}

func newFakeCycleRepo(seed ...cycles.ReadingCycle) *fakeCycleRepo {
	repo := &fakeCycleRepo{cycles: make(map[string]cycles.ReadingCycle)}
	for _, c := range seed {
		repo.cycles[c.ID] = c
	}
	return repo
}

func (r *fakeCycleRepo) Get(_ context.Context, id string) (*cycles.ReadingCycle, error) {
	c, ok := r.cycles[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *fakeCycleRepo) List(_ context.Context) ([]cycles.ReadingCycle, error) {
	var out []cycles.ReadingCycle
	for _, c := range r.cycles {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeCycleRepo) ListByStatus(_ context.Context, status string) ([]cycles.ReadingCycle, error) {
	var out []cycles.ReadingCycle
	for _, c := range r.cycles {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCycleRepo) ListByPeriod(_ context.Context, _, _ time.Time) ([]cycles.ReadingCycle, error) {
	return r.List(context.Background())
}

func (r *fakeCycleRepo) Create(_ context.Context, cycle *cycles.ReadingCycle) error {
	r.cycles[cycle.ID] = *cycle
	return nil
}

func (r *fakeCycleRepo) Update(_ context.Context, cycle *cycles.ReadingCycle) error {
	r.cycles[cycle.ID] = *cycle
	return nil
}

func (r *fakeCycleRepo) UpdateStatus(_ context.Context, id, status string, updatedAt time.Time) error {
	c, ok := r.cycles[id]
	if !ok {
		return errors.New("not found")
	}
	c.Status = status
	c.UpdatedAt = updatedAt
	r.cycles[id] = c
	return nil
}

func (r *fakeCycleRepo) Delete(_ context.Context, id string) error {
	delete(r.cycles, id)
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type capturingPublisher struct {
	keys []string
}

func (p *capturingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

type staticCounter struct {
	count int
}

func (c staticCounter) CountByCycle(_ context.Context, _ string) (int, error) {
	return c.count, nil
}

func marchCycle(status string) cycles.ReadingCycle {
	return cycles.ReadingCycle{
		ID:         "cycle-1",
		TenantID:   "tenant-1",
		Name:       "2024-03 water",
		ServiceID:  "svc-water",
		PeriodFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:     status,
	}
}

func TestChangeStatus_OpenToInProgress(t *testing.T) {
	repo := newFakeCycleRepo(marchCycle(cycles.StatusOpen))
	pub := &capturingPublisher{}
	svc, err := NewCycleService(repo, nil,
		WithClock(fixedClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}),
		WithPublisher(pub))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cycle, err := svc.ChangeStatus(context.Background(), "cycle-1", cycles.StatusInProgress, "operator-1")
	if err != nil {
		t.Fatalf("change status: %v", err)
	}
	if cycle.Status != cycles.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", cycle.Status)
	}
	stored, _ := repo.Get(context.Background(), "cycle-1")
	if stored.Status != cycles.StatusInProgress {
		t.Fatalf("expected repo updated, got %s", stored.Status)
	}
	if len(pub.keys) != 1 || pub.keys[0] != eventing.KeyCycleStatusChanged {
		t.Fatalf("expected one %s event, got %v", eventing.KeyCycleStatusChanged, pub.keys)
	}
}

func TestChangeStatus_RefusedOutsideMonth(t *testing.T) {
	cycle := marchCycle(cycles.StatusOpen)
	repo := newFakeCycleRepo(cycle)
	svc, err := NewCycleService(repo, nil,
		WithClock(fixedClock{now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.ChangeStatus(context.Background(), "cycle-1", cycles.StatusInProgress, "operator-1")
	if !errors.Is(err, cycles.ErrOutsideCurrentMonth) {
		t.Fatalf("expected ErrOutsideCurrentMonth, got %v", err)
	}
	stored, _ := repo.Get(context.Background(), "cycle-1")
	if stored.Status != cycles.StatusOpen {
		t.Fatalf("cycle should remain OPEN, got %s", stored.Status)
	}
}

func TestChangeStatus_RefusedWhenNotOpen(t *testing.T) {
	for _, status := range []string{cycles.StatusInProgress, cycles.StatusCompleted, cycles.StatusClosed} {
		repo := newFakeCycleRepo(marchCycle(status))
		svc, err := NewCycleService(repo, nil,
			WithClock(fixedClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}))
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		_, err = svc.ChangeStatus(context.Background(), "cycle-1", cycles.StatusInProgress, "operator-1")
		if !errors.Is(err, cycles.ErrStatusNotAdvanceable) {
			t.Fatalf("%s: expected ErrStatusNotAdvanceable, got %v", status, err)
		}
	}
}

func TestChangeStatus_UnknownCycle(t *testing.T) {
	svc, err := NewCycleService(newFakeCycleRepo(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.ChangeStatus(context.Background(), "cycle-missing", cycles.StatusInProgress, "operator-1")
	if !errors.Is(err, ErrCycleNotFound) {
		t.Fatalf("expected ErrCycleNotFound, got %v", err)
	}
}

func TestDelete_RefusedWithAssignments(t *testing.T) {
	repo := newFakeCycleRepo(marchCycle(cycles.StatusOpen))
	svc, err := NewCycleService(repo, nil, WithAssignmentCounter(staticCounter{count: 2}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Delete(context.Background(), "cycle-1", "admin-1"); !errors.Is(err, ErrCycleHasAssignments) {
		t.Fatalf("expected ErrCycleHasAssignments, got %v", err)
	}
	if stored, _ := repo.Get(context.Background(), "cycle-1"); stored == nil {
		t.Fatal("cycle should not be deleted")
	}
}

func TestDelete_SucceedsWithoutAssignments(t *testing.T) {
	repo := newFakeCycleRepo(marchCycle(cycles.StatusOpen))
	svc, err := NewCycleService(repo, nil, WithAssignmentCounter(staticCounter{count: 0}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Delete(context.Background(), "cycle-1", "admin-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if stored, _ := repo.Get(context.Background(), "cycle-1"); stored != nil {
		t.Fatal("cycle should be deleted")
	}
}

func TestCreate_DefaultsToOpen(t *testing.T) {
	repo := newFakeCycleRepo()
	svc, err := NewCycleService(repo, nil,
		WithClock(fixedClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cycle, err := svc.Create(context.Background(), "tenant-1", CreateCycleInput{
		Name:       "2024-03 water",
		ServiceID:  "svc-water",
		PeriodFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		CreatedBy:  "operator-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cycle.Status != cycles.StatusOpen {
		t.Fatalf("expected OPEN, got %s", cycle.Status)
	}
	if cycle.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestCreate_InvalidPeriod(t *testing.T) {
	svc, err := NewCycleService(newFakeCycleRepo(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.Create(context.Background(), "tenant-1", CreateCycleInput{
		Name:       "broken",
		ServiceID:  "svc-water",
		PeriodFrom: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, cycles.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}
