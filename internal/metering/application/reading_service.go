package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cycles "qhome-metering/internal/cycles/domain"
	"qhome-metering/internal/eventing"
	metering "qhome-metering/internal/metering/domain"
)

var (
	// ErrCycleNotRecordable indicates readings may not be recorded for
	// the cycle in its current status.
	ErrCycleNotRecordable = errors.New("metering: cycle does not accept readings")
	// ErrDuplicateReading indicates the meter already has a reading in
	// the cycle.
	ErrDuplicateReading = errors.New("metering: meter already read in cycle")
)

// CycleLookup resolves reading cycles by id.
type CycleLookup interface {
	Get(ctx context.Context, id string) (*cycles.ReadingCycle, error)
}

// ReadingService records and updates meter readings.
type ReadingService struct {
	readings  metering.ReadingRepository
	meters    metering.MeterRepository
	cycles    CycleLookup
	publisher eventing.Publisher
	clock     Clock
	logger    *zap.Logger
}

// ReadingServiceOption customizes the reading service.
type ReadingServiceOption func(*ReadingService)

// WithReadingPublisher assigns an event publisher.
func WithReadingPublisher(publisher eventing.Publisher) ReadingServiceOption {
	return func(s *ReadingService) {
		s.publisher = publisher
	}
}

// WithReadingClock assigns a clock.
func WithReadingClock(clock Clock) ReadingServiceOption {
	return func(s *ReadingService) {
		s.clock = clock
	}
}

// NewReadingService constructs a reading service.
func NewReadingService(readings metering.ReadingRepository, meters metering.MeterRepository, cycleLookup CycleLookup, logger *zap.Logger, opts ...ReadingServiceOption) (*ReadingService, error) {
	if readings == nil {
		return nil, errors.New("metering: nil reading repository")
	}
	if meters == nil {
		return nil, errors.New("metering: nil meter repository")
	}
	if cycleLookup == nil {
		return nil, errors.New("metering: nil cycle lookup")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &ReadingService{
		readings:  readings,
		meters:    meters,
		cycles:    cycleLookup,
		publisher: eventing.NopPublisher{},
		clock:     systemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RecordReadingInput carries the fields accepted when recording a reading.
type RecordReadingInput struct {
	MeterID      string
	CycleID      string
	AssignmentID string
	Value        float64
	ReadAt       time.Time
	RecordedBy   string
}

// Record stores one reading. The cycle must be OPEN or IN_PROGRESS and
// the meter may be read at most once per cycle.
func (s *ReadingService) Record(ctx context.Context, tenantID string, input RecordReadingInput) (*metering.MeterReading, error) {
	if input.Value < 0 {
		return nil, metering.ErrNegativeValue
	}
	meter, err := s.meters.Get(ctx, input.MeterID)
	if err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, metering.ErrMeterNotFound
	}

	cycle, err := s.cycles.Get(ctx, input.CycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, errors.New("metering: unknown cycle")
	}
	if cycle.Status != cycles.StatusOpen && cycle.Status != cycles.StatusInProgress {
		return nil, ErrCycleNotRecordable
	}

	exists, err := s.readings.ExistsForMeterCycle(ctx, input.MeterID, input.CycleID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateReading
	}

	var previous *float64
	history, err := s.readings.ListByMeter(ctx, input.MeterID)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		v := history[0].Value
		previous = &v
	}

	now := s.clock.Now().UTC()
	readAt := input.ReadAt
	if readAt.IsZero() {
		readAt = now
	}
	reading := metering.MeterReading{
		ID:            "reading-" + uuid.NewString(),
		TenantID:      tenantID,
		MeterID:       input.MeterID,
		CycleID:       input.CycleID,
		AssignmentID:  input.AssignmentID,
		Value:         input.Value,
		PreviousValue: previous,
		ReadAt:        readAt,
		RecordedBy:    input.RecordedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.readings.Create(ctx, &reading); err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, eventing.KeyReadingRecorded, eventing.ReadingRecorded{
		ReadingID:  reading.ID,
		MeterID:    reading.MeterID,
		CycleID:    reading.CycleID,
		Value:      reading.Value,
		RecordedAt: readAt,
	}); err != nil {
		s.logger.Warn("reading recorded event publish failed", zap.String("reading_id", reading.ID), zap.Error(err))
	}
	return &reading, nil
}

// UpdateValue corrects the value of an existing reading.
func (s *ReadingService) UpdateValue(ctx context.Context, id string, value float64) (*metering.MeterReading, error) {
	if value < 0 {
		return nil, metering.ErrNegativeValue
	}
	reading, err := s.readings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, metering.ErrReadingNotFound
	}
	reading.Value = value
	reading.UpdatedAt = s.clock.Now().UTC()
	if err := s.readings.Update(ctx, reading); err != nil {
		return nil, err
	}
	return reading, nil
}

// Get returns one reading by id.
func (s *ReadingService) Get(ctx context.Context, id string) (*metering.MeterReading, error) {
	reading, err := s.readings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, metering.ErrReadingNotFound
	}
	return reading, nil
}

// ListByCycle returns readings recorded in a cycle.
func (s *ReadingService) ListByCycle(ctx context.Context, cycleID string) ([]metering.MeterReading, error) {
	return s.readings.ListByCycle(ctx, cycleID)
}

// ListByAssignment returns readings recorded under an assignment.
func (s *ReadingService) ListByAssignment(ctx context.Context, assignmentID string) ([]metering.MeterReading, error) {
	return s.readings.ListByAssignment(ctx, assignmentID)
}

// ListByUnit returns readings from any meter installed in the unit.
func (s *ReadingService) ListByUnit(ctx context.Context, unitID string) ([]metering.MeterReading, error) {
	return s.readings.ListByUnit(ctx, unitID)
}
