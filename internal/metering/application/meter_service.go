package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qhome-metering/internal/eventing"
	masterdata "qhome-metering/internal/masterdata/domain"
	metering "qhome-metering/internal/metering/domain"
	"qhome-metering/internal/observability/metrics"
)

// Bulk-create outcome labels.
const (
	outcomeCreated = "created"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// ResidentLookup resolves the primary resident of a unit.
type ResidentLookup interface {
	PrimaryByUnit(ctx context.Context, unitID string) (*masterdata.Resident, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// MeterService manages meter records.
type MeterService struct {
	meters    metering.MeterRepository
	units     masterdata.UnitRepository
	residents ResidentLookup
	publisher eventing.Publisher
	clock     Clock
	logger    *zap.Logger
}

// MeterServiceOption customizes the meter service.
type MeterServiceOption func(*MeterService)

// WithResidentLookup wires the primary resident lookup used by bulk create.
func WithResidentLookup(residents ResidentLookup) MeterServiceOption {
	return func(s *MeterService) {
		s.residents = residents
	}
}

// WithPublisher assigns an event publisher.
func WithPublisher(publisher eventing.Publisher) MeterServiceOption {
	return func(s *MeterService) {
		s.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) MeterServiceOption {
	return func(s *MeterService) {
		s.clock = clock
	}
}

// NewMeterService constructs a meter service.
func NewMeterService(meters metering.MeterRepository, units masterdata.UnitRepository, logger *zap.Logger, opts ...MeterServiceOption) (*MeterService, error) {
	if meters == nil {
		return nil, errors.New("metering: nil meter repository")
	}
	if units == nil {
		return nil, errors.New("metering: nil unit repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &MeterService{
		meters:    meters,
		units:     units,
		publisher: eventing.NopPublisher{},
		clock:     systemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateMeterInput carries the fields accepted on meter creation.
type CreateMeterInput struct {
	UnitID       string
	ServiceID    string
	SerialNumber string
	Source       string
}

// Create stores one meter. A unit may hold at most one active meter per
// service; duplicates fail with ErrDuplicateActiveMeter.
func (s *MeterService) Create(ctx context.Context, tenantID string, input CreateMeterInput) (*metering.Meter, error) {
	result := metrics.ResultError
	defer func() {
		metrics.ObserveMeterCreate(result)
	}()

	if input.UnitID == "" {
		return nil, errors.New("metering: empty unit id")
	}
	if input.ServiceID == "" {
		return nil, errors.New("metering: empty service id")
	}
	source := input.Source
	if source == "" {
		source = metering.SourceManual
	}

	unit, err := s.units.Get(ctx, input.UnitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, errors.New("metering: unknown unit")
	}

	now := s.clock.Now().UTC()
	meter := metering.Meter{
		ID:           "meter-" + uuid.NewString(),
		TenantID:     tenantID,
		UnitID:       input.UnitID,
		ServiceID:    input.ServiceID,
		SerialNumber: input.SerialNumber,
		Source:       source,
		Active:       true,
		InstalledAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.meters.Create(ctx, &meter); err != nil {
		return nil, err
	}
	result = metrics.ResultSuccess

	if err := s.publisher.Publish(ctx, eventing.KeyMeterCreated, eventing.MeterCreated{
		MeterID:   meter.ID,
		UnitID:    meter.UnitID,
		ServiceID: meter.ServiceID,
		Source:    source,
		CreatedAt: now,
	}); err != nil {
		s.logger.Warn("meter created event publish failed", zap.String("meter_id", meter.ID), zap.Error(err))
	}
	return &meter, nil
}

// Deactivate marks a meter inactive.
func (s *MeterService) Deactivate(ctx context.Context, id string) error {
	return s.meters.Deactivate(ctx, id, s.clock.Now().UTC())
}

// Get returns one meter by id.
func (s *MeterService) Get(ctx context.Context, id string) (*metering.Meter, error) {
	meter, err := s.meters.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, metering.ErrMeterNotFound
	}
	return meter, nil
}

// List returns every meter.
func (s *MeterService) List(ctx context.Context) ([]metering.Meter, error) {
	return s.meters.List(ctx)
}

// ListByUnit returns meters installed in a unit.
func (s *MeterService) ListByUnit(ctx context.Context, unitID string) ([]metering.Meter, error) {
	return s.meters.ListByUnit(ctx, unitID)
}

// ListByService returns active meters for a service.
func (s *MeterService) ListByService(ctx context.Context, serviceID string) ([]metering.Meter, error) {
	if serviceID == "" {
		return nil, errors.New("metering: empty service id")
	}
	return s.meters.ListActiveByService(ctx, serviceID)
}

// ListByBuilding returns meters installed in a building.
func (s *MeterService) ListByBuilding(ctx context.Context, buildingID string) ([]metering.Meter, error) {
	if buildingID == "" {
		return nil, errors.New("metering: empty building id")
	}
	return s.meters.ListByBuilding(ctx, buildingID)
}

// UpdateMeterInput carries the fields accepted on meter update.
type UpdateMeterInput struct {
	SerialNumber string
	Source       string
}

// Update rewrites a meter's serial number and source.
func (s *MeterService) Update(ctx context.Context, id string, input UpdateMeterInput) (*metering.Meter, error) {
	meter, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	meter.SerialNumber = input.SerialNumber
	if input.Source != "" {
		meter.Source = input.Source
	}
	meter.UpdatedAt = s.clock.Now().UTC()
	if err := s.meters.Update(ctx, meter); err != nil {
		return nil, err
	}
	return meter, nil
}

// Delete removes a meter. Meters with recorded readings cannot be
// deleted and fail with ErrMeterHasReadings; deactivate them instead.
func (s *MeterService) Delete(ctx context.Context, id string) error {
	return s.meters.Delete(ctx, id)
}

// ListMissing returns units lacking an active meter for the service,
// optionally restricted to one building.
func (s *MeterService) ListMissing(ctx context.Context, serviceID, buildingID string) ([]metering.UnitWithoutMeter, error) {
	if serviceID == "" {
		return nil, errors.New("metering: empty service id")
	}
	return s.meters.ListUnitsWithoutMeter(ctx, serviceID, buildingID)
}

// UnitOutcome records why a unit was skipped or failed during bulk create.
type UnitOutcome struct {
	UnitID string `json:"unitId"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk meter creation. Every requested unit is
// accounted for in exactly one of the three buckets.
type BulkResult struct {
	Requested int              `json:"requested"`
	Created   []metering.Meter `json:"created"`
	Skipped   []UnitOutcome    `json:"skipped"`
	Failed    []UnitOutcome    `json:"failed"`
}

// BulkCreate creates meters for the listed units. Units with no current
// primary resident are skipped rather than failed; units that already
// hold an active meter for the service are reported as failed. One bad
// unit never aborts the rest.
func (s *MeterService) BulkCreate(ctx context.Context, tenantID, serviceID string, unitIDs []string) (*BulkResult, error) {
	if serviceID == "" {
		return nil, errors.New("metering: empty service id")
	}
	if len(unitIDs) == 0 {
		return nil, errors.New("metering: empty unit list")
	}

	result := &BulkResult{Requested: len(unitIDs)}
	seen := make(map[string]bool, len(unitIDs))
	for _, unitID := range unitIDs {
		if unitID == "" || seen[unitID] {
			result.Skipped = append(result.Skipped, UnitOutcome{UnitID: unitID, Reason: "duplicate or empty unit id"})
			continue
		}
		seen[unitID] = true

		if s.residents != nil {
			resident, err := s.residents.PrimaryByUnit(ctx, unitID)
			if err != nil {
				result.Failed = append(result.Failed, UnitOutcome{UnitID: unitID, Reason: "resident lookup: " + err.Error()})
				continue
			}
			if resident == nil {
				result.Skipped = append(result.Skipped, UnitOutcome{UnitID: unitID, Reason: "no current resident"})
				continue
			}
		}

		meter, err := s.Create(ctx, tenantID, CreateMeterInput{
			UnitID:    unitID,
			ServiceID: serviceID,
			Source:    metering.SourceBulk,
		})
		switch {
		case err == nil:
			result.Created = append(result.Created, *meter)
		case errors.Is(err, metering.ErrDuplicateActiveMeter):
			result.Failed = append(result.Failed, UnitOutcome{UnitID: unitID, Reason: "active meter already exists"})
		default:
			result.Failed = append(result.Failed, UnitOutcome{UnitID: unitID, Reason: err.Error()})
		}
	}

	metrics.AddBulkCreateUnits(outcomeCreated, len(result.Created))
	metrics.AddBulkCreateUnits(outcomeSkipped, len(result.Skipped))
	metrics.AddBulkCreateUnits(outcomeFailed, len(result.Failed))
	s.logger.Info("bulk meter create finished",
		zap.String("service_id", serviceID),
		zap.Int("requested", result.Requested),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// BulkCreateMissing resolves the units currently missing an active meter
// for the service, optionally within one building, and bulk-creates
// meters for them.
func (s *MeterService) BulkCreateMissing(ctx context.Context, tenantID, serviceID, buildingID string) (*BulkResult, error) {
	missing, err := s.ListMissing(ctx, serviceID, buildingID)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return &BulkResult{}, nil
	}
	unitIDs := make([]string, 0, len(missing))
	for _, unit := range missing {
		unitIDs = append(unitIDs, unit.UnitID)
	}
	return s.BulkCreate(ctx, tenantID, serviceID, unitIDs)
}
