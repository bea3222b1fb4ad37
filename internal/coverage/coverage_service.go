package coverage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	assignments "qhome-metering/internal/assignments/domain"
	cycles "qhome-metering/internal/cycles/domain"
	masterdata "qhome-metering/internal/masterdata/domain"
	metering "qhome-metering/internal/metering/domain"
	"qhome-metering/internal/observability/metrics"
)

// ErrUnknownCycle indicates the cycle id does not exist.
var ErrUnknownCycle = errors.New("coverage: unknown cycle")

// CycleLookup resolves reading cycles by id.
type CycleLookup interface {
	Get(ctx context.Context, id string) (*cycles.ReadingCycle, error)
}

// MissingMeterLister returns units lacking an active meter for a service.
type MissingMeterLister interface {
	ListUnitsWithoutMeter(ctx context.Context, serviceID, buildingID string) ([]metering.UnitWithoutMeter, error)
}

// UnassignedLister returns floors not covered by any assignment in a cycle.
type UnassignedLister interface {
	ListUnassignedFloors(ctx context.Context, cycleID, serviceID string) ([]assignments.UnassignedFloor, error)
}

// ResidentLookup resolves the primary resident of a unit.
type ResidentLookup interface {
	PrimaryByUnit(ctx context.Context, unitID string) (*masterdata.Resident, error)
}

// BuildingGroup bundles the coverage gaps of one building.
type BuildingGroup struct {
	BuildingID   string                        `json:"buildingId"`
	BuildingCode string                        `json:"buildingCode"`
	BuildingName string                        `json:"buildingName"`
	Floors       []assignments.UnassignedFloor `json:"floors"`
	UnitCount    int                           `json:"unitCount"`
}

// UnassignedInfo reports everything standing between a cycle and full
// reading coverage: units with no meter, and metered units no assignment
// covers.
type UnassignedInfo struct {
	CycleID           string                      `json:"cycleId"`
	ServiceID         string                      `json:"serviceId"`
	TotalUnassigned   int                         `json:"totalUnassigned"`
	Buildings         []BuildingGroup             `json:"buildings"`
	MissingMeterUnits []metering.UnitWithoutMeter `json:"missingMeterUnits"`
	Message           string                      `json:"message,omitempty"`
}

// Service computes reconciliation info across cycles, meters and
// assignments.
type Service struct {
	cycles    CycleLookup
	services  masterdata.ServiceRepository
	meters    MissingMeterLister
	coverage  UnassignedLister
	residents ResidentLookup
	logger    *zap.Logger
}

// NewService constructs a coverage service. The resident lookup is
// optional; without it onlyWithOwner filtering is a no-op.
func NewService(cycleLookup CycleLookup, services masterdata.ServiceRepository, meters MissingMeterLister, unassigned UnassignedLister, residents ResidentLookup, logger *zap.Logger) (*Service, error) {
	if cycleLookup == nil {
		return nil, errors.New("coverage: nil cycle lookup")
	}
	if services == nil {
		return nil, errors.New("coverage: nil service repository")
	}
	if meters == nil {
		return nil, errors.New("coverage: nil meter lister")
	}
	if unassigned == nil {
		return nil, errors.New("coverage: nil unassigned lister")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cycles:    cycleLookup,
		services:  services,
		meters:    meters,
		coverage:  unassigned,
		residents: residents,
		logger:    logger,
	}, nil
}

// Unassigned computes the coverage gaps of one cycle. With onlyWithOwner
// set, missing-meter units whose unit has no current primary resident
// are left out. Lookup failures propagate as errors so a failed query is
// never mistaken for confirmed full coverage.
func (s *Service) Unassigned(ctx context.Context, cycleID string, onlyWithOwner bool) (*UnassignedInfo, error) {
	start := time.Now()
	result := metrics.ResultError
	defer func() {
		metrics.ObserveCoverageQuery(result, time.Since(start))
	}()

	cycle, err := s.cycles.Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, ErrUnknownCycle
	}

	info := &UnassignedInfo{
		CycleID:           cycleID,
		ServiceID:         cycle.ServiceID,
		Buildings:         []BuildingGroup{},
		MissingMeterUnits: []metering.UnitWithoutMeter{},
	}

	service, err := s.services.Get(ctx, cycle.ServiceID)
	if err != nil {
		return nil, err
	}
	if service != nil && !service.Metered {
		result = metrics.ResultSuccess
		info.Message = "service is not metered, no reading coverage required"
		metrics.SetCoverageGaps(cycleID, 0, 0)
		return info, nil
	}

	missing, err := s.meters.ListUnitsWithoutMeter(ctx, cycle.ServiceID, "")
	if err != nil {
		return nil, err
	}
	if onlyWithOwner && s.residents != nil {
		filtered := missing[:0]
		for _, unit := range missing {
			resident, err := s.residents.PrimaryByUnit(ctx, unit.UnitID)
			if err != nil {
				return nil, err
			}
			if resident != nil {
				filtered = append(filtered, unit)
			}
		}
		missing = filtered
	}
	info.MissingMeterUnits = append(info.MissingMeterUnits, missing...)

	floors, err := s.coverage.ListUnassignedFloors(ctx, cycleID, cycle.ServiceID)
	if err != nil {
		return nil, err
	}
	info.Buildings = groupByBuilding(floors)
	for _, group := range info.Buildings {
		info.TotalUnassigned += group.UnitCount
	}

	result = metrics.ResultSuccess
	metrics.SetCoverageGaps(cycleID, len(info.MissingMeterUnits), info.TotalUnassigned)
	s.logger.Debug("coverage computed",
		zap.String("cycle_id", cycleID),
		zap.Int("missing_meters", len(info.MissingMeterUnits)),
		zap.Int("unassigned", info.TotalUnassigned))
	return info, nil
}

func groupByBuilding(floors []assignments.UnassignedFloor) []BuildingGroup {
	groups := []BuildingGroup{}
	for _, floor := range floors {
		n := len(groups)
		if n == 0 || groups[n-1].BuildingID != floor.BuildingID {
			groups = append(groups, BuildingGroup{
				BuildingID:   floor.BuildingID,
				BuildingCode: floor.BuildingCode,
				BuildingName: floor.BuildingName,
			})
			n++
		}
		groups[n-1].Floors = append(groups[n-1].Floors, floor)
		groups[n-1].UnitCount += len(floor.UnitIDs)
	}
	return groups
}
