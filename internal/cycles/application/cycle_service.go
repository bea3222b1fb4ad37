package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qhome-metering/internal/audit"
	cycles "qhome-metering/internal/cycles/domain"
	"qhome-metering/internal/eventing"
	"qhome-metering/internal/observability/metrics"
)

var (
	// ErrCycleNotFound indicates the cycle id does not exist.
	ErrCycleNotFound = errors.New("cycles: cycle not found")
	// ErrCycleHasAssignments indicates a cycle cannot be deleted while
	// assignments reference it.
	ErrCycleHasAssignments = errors.New("cycles: cycle has assignments")
)

// AssignmentCounter reports how many assignments reference a cycle.
type AssignmentCounter interface {
	CountByCycle(ctx context.Context, cycleID string) (int, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CycleService manages reading cycle lifecycle.
type CycleService struct {
	repo        cycles.CycleRepository
	assignments AssignmentCounter
	publisher   eventing.Publisher
	auditor     audit.Logger
	clock       Clock
	logger      *zap.Logger
}

// CycleServiceOption customizes the cycle service.
type CycleServiceOption func(*CycleService)

// WithAssignmentCounter wires the assignment count lookup used by Delete.
func WithAssignmentCounter(counter AssignmentCounter) CycleServiceOption {
	return func(s *CycleService) {
		s.assignments = counter
	}
}

// WithPublisher assigns an event publisher.
func WithPublisher(publisher eventing.Publisher) CycleServiceOption {
	return func(s *CycleService) {
		s.publisher = publisher
	}
}

// WithAuditor assigns an audit logger.
func WithAuditor(auditor audit.Logger) CycleServiceOption {
	return func(s *CycleService) {
		s.auditor = auditor
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) CycleServiceOption {
	return func(s *CycleService) {
		s.clock = clock
	}
}

// NewCycleService constructs a cycle service.
func NewCycleService(repo cycles.CycleRepository, logger *zap.Logger, opts ...CycleServiceOption) (*CycleService, error) {
	if repo == nil {
		return nil, errors.New("cycles: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &CycleService{
		repo:      repo,
		publisher: eventing.NopPublisher{},
		clock:     systemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateCycleInput carries the fields accepted on cycle creation.
type CreateCycleInput struct {
	Name       string
	ServiceID  string
	PeriodFrom time.Time
	PeriodTo   time.Time
	CreatedBy  string
}

// Create stores a new cycle in OPEN status.
func (s *CycleService) Create(ctx context.Context, tenantID string, input CreateCycleInput) (*cycles.ReadingCycle, error) {
	now := s.clock.Now().UTC()
	cycle := cycles.ReadingCycle{
		ID:         "cycle-" + uuid.NewString(),
		TenantID:   tenantID,
		Name:       input.Name,
		ServiceID:  input.ServiceID,
		PeriodFrom: input.PeriodFrom,
		PeriodTo:   input.PeriodTo,
		Status:     cycles.StatusOpen,
		CreatedBy:  input.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := cycle.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &cycle); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, tenantID, input.CreatedBy, "cycle.create", cycle.ID)
	return &cycle, nil
}

// Get returns a cycle by id.
func (s *CycleService) Get(ctx context.Context, id string) (*cycles.ReadingCycle, error) {
	cycle, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, ErrCycleNotFound
	}
	return cycle, nil
}

// List returns cycles, optionally filtered by status.
func (s *CycleService) List(ctx context.Context, status string) ([]cycles.ReadingCycle, error) {
	if status == "" {
		return s.repo.List(ctx)
	}
	if !cycles.ValidStatus(status) {
		return nil, cycles.ErrUnknownStatus
	}
	return s.repo.ListByStatus(ctx, status)
}

// ListByPeriod returns cycles whose period overlaps [from, to].
func (s *CycleService) ListByPeriod(ctx context.Context, from, to time.Time) ([]cycles.ReadingCycle, error) {
	if to.Before(from) {
		return nil, cycles.ErrInvalidPeriod
	}
	return s.repo.ListByPeriod(ctx, from, to)
}

// UpdateCycleInput carries the fields accepted on cycle update.
type UpdateCycleInput struct {
	Name       string
	PeriodFrom time.Time
	PeriodTo   time.Time
	UpdatedBy  string
}

// Update rewrites a cycle's name and period. Status is untouched; it
// moves only through ChangeStatus.
func (s *CycleService) Update(ctx context.Context, id string, input UpdateCycleInput) (*cycles.ReadingCycle, error) {
	cycle, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, ErrCycleNotFound
	}
	cycle.Name = input.Name
	cycle.PeriodFrom = input.PeriodFrom
	cycle.PeriodTo = input.PeriodTo
	cycle.UpdatedAt = s.clock.Now().UTC()
	if err := cycle.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, cycle); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, cycle.TenantID, input.UpdatedBy, "cycle.update", cycle.ID)
	return cycle, nil
}

// ChangeStatus advances a cycle through the lifecycle gate. Only
// OPEN cycles whose period overlaps the current calendar month may move,
// and only to IN_PROGRESS.
func (s *CycleService) ChangeStatus(ctx context.Context, id, next, changedBy string) (*cycles.ReadingCycle, error) {
	result := metrics.ResultError
	defer func() {
		metrics.ObserveCycleStatusChange(result)
	}()

	cycle, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, ErrCycleNotFound
	}

	now := s.clock.Now()
	if err := cycles.CanTransition(*cycle, next, now); err != nil {
		s.logger.Info("cycle status change refused",
			zap.String("cycle_id", id),
			zap.String("from", cycle.Status),
			zap.String("to", next),
			zap.Error(err))
		return nil, err
	}

	updatedAt := now.UTC()
	if err := s.repo.UpdateStatus(ctx, id, next, updatedAt); err != nil {
		return nil, err
	}
	result = metrics.ResultSuccess

	from := cycle.Status
	cycle.Status = next
	cycle.UpdatedAt = updatedAt

	if err := s.publisher.Publish(ctx, eventing.KeyCycleStatusChanged, eventing.CycleStatusChanged{
		CycleID:    cycle.ID,
		ServiceID:  cycle.ServiceID,
		FromStatus: from,
		ToStatus:   next,
		ChangedBy:  changedBy,
		ChangedAt:  updatedAt,
	}); err != nil {
		s.logger.Warn("cycle status event publish failed", zap.String("cycle_id", id), zap.Error(err))
	}
	s.recordAudit(ctx, cycle.TenantID, changedBy, "cycle.status_change", cycle.ID)
	return cycle, nil
}

// Delete removes a cycle. Cycles referenced by assignments are refused.
func (s *CycleService) Delete(ctx context.Context, id, deletedBy string) error {
	cycle, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if cycle == nil {
		return ErrCycleNotFound
	}
	if s.assignments != nil {
		count, err := s.assignments.CountByCycle(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrCycleHasAssignments
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, cycle.TenantID, deletedBy, "cycle.delete", id)
	return nil
}

func (s *CycleService) recordAudit(ctx context.Context, tenantID, actor, action, resourceID string) {
	if s.auditor == nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		TenantID:     tenantID,
		Actor:        actor,
		Action:       action,
		ResourceType: "reading_cycle",
		ResourceID:   resourceID,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
