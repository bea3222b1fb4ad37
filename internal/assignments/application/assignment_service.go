package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	assignments "qhome-metering/internal/assignments/domain"
	"qhome-metering/internal/audit"
	cycles "qhome-metering/internal/cycles/domain"
	"qhome-metering/internal/eventing"
	masterdata "qhome-metering/internal/masterdata/domain"
	"qhome-metering/internal/observability/metrics"
)

// ErrUnknownCycle indicates the referenced cycle does not exist.
var ErrUnknownCycle = errors.New("assignments: unknown cycle")

// CycleLookup resolves reading cycles by id.
type CycleLookup interface {
	Get(ctx context.Context, id string) (*cycles.ReadingCycle, error)
}

// ReadingCounter counts readings recorded under an assignment.
type ReadingCounter interface {
	CountByAssignment(ctx context.Context, assignmentID string) (int, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// AssignmentService manages meter reading assignments.
type AssignmentService struct {
	repo      assignments.AssignmentRepository
	cycles    CycleLookup
	units     masterdata.UnitRepository
	readings  ReadingCounter
	publisher eventing.Publisher
	auditor   audit.Logger
	clock     Clock
	logger    *zap.Logger
}

// AssignmentServiceOption customizes the assignment service.
type AssignmentServiceOption func(*AssignmentService)

// WithPublisher assigns an event publisher.
func WithPublisher(publisher eventing.Publisher) AssignmentServiceOption {
	return func(s *AssignmentService) {
		s.publisher = publisher
	}
}

// WithAuditor assigns an audit logger.
func WithAuditor(auditor audit.Logger) AssignmentServiceOption {
	return func(s *AssignmentService) {
		s.auditor = auditor
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) AssignmentServiceOption {
	return func(s *AssignmentService) {
		s.clock = clock
	}
}

// NewAssignmentService constructs an assignment service.
func NewAssignmentService(repo assignments.AssignmentRepository, cycleLookup CycleLookup, units masterdata.UnitRepository, readings ReadingCounter, logger *zap.Logger, opts ...AssignmentServiceOption) (*AssignmentService, error) {
	if repo == nil {
		return nil, errors.New("assignments: nil repository")
	}
	if cycleLookup == nil {
		return nil, errors.New("assignments: nil cycle lookup")
	}
	if units == nil {
		return nil, errors.New("assignments: nil unit repository")
	}
	if readings == nil {
		return nil, errors.New("assignments: nil reading counter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &AssignmentService{
		repo:      repo,
		cycles:    cycleLookup,
		units:     units,
		readings:  readings,
		publisher: eventing.NopPublisher{},
		clock:     systemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateAssignmentInput carries the fields accepted on assignment creation.
type CreateAssignmentInput struct {
	CycleID    string
	AssignedTo string
	Scope      assignments.Scope
	Note       string
	CreatedBy  string
}

// Create stores an assignment after the cycle lifecycle gate and scope
// overlap checks pass. The scope is resolved to concrete units at
// creation time.
func (s *AssignmentService) Create(ctx context.Context, tenantID string, input CreateAssignmentInput) (*assignments.MeterReadingAssignment, error) {
	start := s.clock.Now()
	result := metrics.ResultError
	defer func() {
		metrics.ObserveAssignmentCreate(result, time.Since(start))
	}()

	if err := input.Scope.Validate(); err != nil {
		return nil, err
	}
	if input.AssignedTo == "" {
		return nil, errors.New("assignments: empty assignee")
	}

	cycle, err := s.cycles.Get(ctx, input.CycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, ErrUnknownCycle
	}
	now := s.clock.Now()
	if err := cycles.CanAssign(*cycle, now); err != nil {
		return nil, err
	}

	units, err := s.units.ListByScope(ctx, input.Scope.BuildingID, input.Scope.FloorFrom, input.Scope.FloorTo, input.Scope.UnitIDs)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, assignments.ErrEmptyScope
	}

	assigned, err := s.repo.AssignedUnitIDs(ctx, input.CycleID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(assigned))
	for _, id := range assigned {
		taken[id] = true
	}
	unitIDs := make([]string, 0, len(units))
	for _, unit := range units {
		if taken[unit.ID] {
			return nil, assignments.ErrOverlappingScope
		}
		unitIDs = append(unitIDs, unit.ID)
	}

	created := now.UTC()
	assignment := assignments.MeterReadingAssignment{
		ID:         "assignment-" + uuid.NewString(),
		TenantID:   tenantID,
		CycleID:    input.CycleID,
		AssignedTo: input.AssignedTo,
		Scope:      input.Scope,
		Note:       input.Note,
		CreatedBy:  input.CreatedBy,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := s.repo.Create(ctx, &assignment, unitIDs); err != nil {
		return nil, err
	}
	result = metrics.ResultSuccess

	if err := s.publisher.Publish(ctx, eventing.KeyAssignmentCreated, eventing.AssignmentCreated{
		AssignmentID: assignment.ID,
		CycleID:      assignment.CycleID,
		ServiceID:    cycle.ServiceID,
		AssignedTo:   assignment.AssignedTo,
		CreatedAt:    created,
	}); err != nil {
		s.logger.Warn("assignment created event publish failed", zap.String("assignment_id", assignment.ID), zap.Error(err))
	}
	s.recordAudit(ctx, tenantID, input.CreatedBy, "assignment.create", assignment.ID)
	return &assignment, nil
}

// Get returns one assignment by id.
func (s *AssignmentService) Get(ctx context.Context, id string) (*assignments.MeterReadingAssignment, error) {
	assignment, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignments.ErrAssignmentNotFound
	}
	return assignment, nil
}

// ListByCycle returns assignments of a cycle.
func (s *AssignmentService) ListByCycle(ctx context.Context, cycleID string) ([]assignments.MeterReadingAssignment, error) {
	return s.repo.ListByCycle(ctx, cycleID)
}

// Delete removes an assignment. Assignments with recorded readings are
// refused so coverage history stays intact.
func (s *AssignmentService) Delete(ctx context.Context, id, deletedBy string) error {
	result := metrics.ResultError
	defer func() {
		metrics.ObserveAssignmentDelete(result)
	}()

	assignment, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if assignment == nil {
		return assignments.ErrAssignmentNotFound
	}
	count, err := s.readings.CountByAssignment(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return assignments.ErrAssignmentHasReadings
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	result = metrics.ResultSuccess

	if err := s.publisher.Publish(ctx, eventing.KeyAssignmentDeleted, eventing.AssignmentDeleted{
		AssignmentID: id,
		CycleID:      assignment.CycleID,
		DeletedAt:    s.clock.Now().UTC(),
	}); err != nil {
		s.logger.Warn("assignment deleted event publish failed", zap.String("assignment_id", id), zap.Error(err))
	}
	s.recordAudit(ctx, assignment.TenantID, deletedBy, "assignment.delete", id)
	return nil
}

// Progress recomputes reading coverage for an assignment. Completion is
// derived: it is stamped when every metered unit in scope has a reading
// and cleared again if coverage drops.
func (s *AssignmentService) Progress(ctx context.Context, id string) (*assignments.Progress, error) {
	assignment, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignments.ErrAssignmentNotFound
	}
	total, read, err := s.repo.ScopeCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	progress := assignments.ComputeProgress(total, read)
	metrics.SetAssignmentProgress(id, progress.Percent)

	now := s.clock.Now().UTC()
	switch {
	case progress.Completed && assignment.CompletedAt == nil:
		if err := s.repo.SetCompletedAt(ctx, id, &now, now); err != nil {
			return nil, err
		}
		if err := s.publisher.Publish(ctx, eventing.KeyAssignmentCompleted, eventing.AssignmentCompleted{
			AssignmentID: id,
			CycleID:      assignment.CycleID,
			TotalMeters:  progress.TotalMeters,
			CompletedAt:  now,
		}); err != nil {
			s.logger.Warn("assignment completed event publish failed", zap.String("assignment_id", id), zap.Error(err))
		}
	case !progress.Completed && assignment.CompletedAt != nil:
		if err := s.repo.SetCompletedAt(ctx, id, nil, now); err != nil {
			return nil, err
		}
	}
	return &progress, nil
}

// Complete verifies full coverage and stamps completion. Incomplete
// assignments are refused; completion is never granted by request alone.
func (s *AssignmentService) Complete(ctx context.Context, id, completedBy string) (*assignments.Progress, error) {
	assignment, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignments.ErrAssignmentNotFound
	}
	progress, err := s.Progress(ctx, id)
	if err != nil {
		return nil, err
	}
	if !progress.Completed {
		return nil, assignments.ErrAssignmentIncomplete
	}
	s.recordAudit(ctx, assignment.TenantID, completedBy, "assignment.complete", id)
	return progress, nil
}

// ListUnits returns the resolved unit set of an assignment with active
// meter ids for the service.
func (s *AssignmentService) ListUnits(ctx context.Context, assignmentID, serviceID string) ([]assignments.AssignmentUnit, error) {
	return s.repo.ListUnits(ctx, assignmentID, serviceID)
}

// ListUnassignedFloors returns floors of a cycle not covered by any
// assignment, for the given service.
func (s *AssignmentService) ListUnassignedFloors(ctx context.Context, cycleID, serviceID string) ([]assignments.UnassignedFloor, error) {
	return s.repo.ListUnassignedFloors(ctx, cycleID, serviceID)
}

// CountByCycle counts assignments referencing a cycle.
func (s *AssignmentService) CountByCycle(ctx context.Context, cycleID string) (int, error) {
	return s.repo.CountByCycle(ctx, cycleID)
}

func (s *AssignmentService) recordAudit(ctx context.Context, tenantID, actor, action, resourceID string) {
	if s.auditor == nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		TenantID:     tenantID,
		Actor:        actor,
		Action:       action,
		ResourceType: "meter_reading_assignment",
		ResourceID:   resourceID,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
