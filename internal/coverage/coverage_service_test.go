package coverage

import (
	"context"
	"errors"
	"testing"
	"time"

	assignments "qhome-metering/internal/assignments/domain"
	cycles "qhome-metering/internal/cycles/domain"
	masterdata "qhome-metering/internal/masterdata/domain"
	metering "qhome-metering/internal/metering/domain"
)

type stubCycleLookup struct {
	cycle *cycles.ReadingCycle
	err   error
}

func (l stubCycleLookup) Get(_ context.Context, _ string) (*cycles.ReadingCycle, error) {
	return l.cycle, l.err
}

type stubServiceRepo struct {
	service *masterdata.BillableService
}

func (r stubServiceRepo) Get(_ context.Context, _ string) (*masterdata.BillableService, error) {
	return r.service, nil
}

func (r stubServiceRepo) GetByCode(_ context.Context, _ string) (*masterdata.BillableService, error) {
	return r.service, nil
}

func (r stubServiceRepo) List(_ context.Context) ([]masterdata.BillableService, error) {
	return nil, nil
}

func (r stubServiceRepo) ListActive(_ context.Context) ([]masterdata.BillableService, error) {
	return nil, nil
}

type stubMeterLister struct {
	units []metering.UnitWithoutMeter
	err   error
}

func (l stubMeterLister) ListUnitsWithoutMeter(_ context.Context, _, _ string) ([]metering.UnitWithoutMeter, error) {
	return l.units, l.err
}

type stubUnassignedLister struct {
	floors []assignments.UnassignedFloor
	err    error
}

func (l stubUnassignedLister) ListUnassignedFloors(_ context.Context, _, _ string) ([]assignments.UnassignedFloor, error) {
	return l.floors, l.err
}

type stubResidents struct {
	occupied map[string]bool
}

func (r stubResidents) PrimaryByUnit(_ context.Context, unitID string) (*masterdata.Resident, error) {
	if !r.occupied[unitID] {
		return nil, nil
	}
	return &masterdata.Resident{ID: "res-" + unitID, UnitID: unitID, Primary: true}, nil
}

func meteredWaterCycle() *cycles.ReadingCycle {
	return &cycles.ReadingCycle{
		ID:         "cycle-1",
		ServiceID:  "svc-water",
		PeriodFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:     cycles.StatusOpen,
	}
}

func waterService(metered bool) *masterdata.BillableService {
	return &masterdata.BillableService{ID: "svc-water", Code: masterdata.ServiceCodeWater, Metered: metered, Active: true}
}

func TestUnassigned_GroupsByBuilding(t *testing.T) {
	floors := []assignments.UnassignedFloor{
		{BuildingID: "bldg-1", BuildingCode: "A", Floor: 1, UnitIDs: []string{"unit-1", "unit-2"}},
		{BuildingID: "bldg-1", BuildingCode: "A", Floor: 2, UnitIDs: []string{"unit-3"}},
		{BuildingID: "bldg-2", BuildingCode: "B", Floor: 1, UnitIDs: []string{"unit-4"}},
	}
	svc, err := NewService(stubCycleLookup{cycle: meteredWaterCycle()}, stubServiceRepo{service: waterService(true)},
		stubMeterLister{}, stubUnassignedLister{floors: floors}, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	info, err := svc.Unassigned(context.Background(), "cycle-1", false)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if len(info.Buildings) != 2 {
		t.Fatalf("expected 2 building groups, got %d", len(info.Buildings))
	}
	if info.Buildings[0].UnitCount != 3 || info.Buildings[1].UnitCount != 1 {
		t.Fatalf("unexpected group unit counts: %+v", info.Buildings)
	}
	if info.TotalUnassigned != 4 {
		t.Fatalf("expected 4 total unassigned, got %d", info.TotalUnassigned)
	}
}

func TestUnassigned_NonMeteredServiceHasNoGaps(t *testing.T) {
	svc, err := NewService(stubCycleLookup{cycle: meteredWaterCycle()}, stubServiceRepo{service: waterService(false)},
		stubMeterLister{units: []metering.UnitWithoutMeter{{UnitID: "unit-1"}}},
		stubUnassignedLister{floors: []assignments.UnassignedFloor{{BuildingID: "bldg-1", Floor: 1, UnitIDs: []string{"unit-1"}}}},
		nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	info, err := svc.Unassigned(context.Background(), "cycle-1", false)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if info.TotalUnassigned != 0 || len(info.MissingMeterUnits) != 0 {
		t.Fatalf("non-metered service must report zero gaps, got %+v", info)
	}
	if info.Message == "" {
		t.Fatal("expected explanatory message for non-metered service")
	}
}

func TestUnassigned_OwnerFilterExcludesVacantUnits(t *testing.T) {
	missing := []metering.UnitWithoutMeter{
		{UnitID: "unit-1"},
		{UnitID: "unit-2"},
		{UnitID: "unit-3"},
	}
	residents := stubResidents{occupied: map[string]bool{"unit-1": true, "unit-3": true}}
	svc, err := NewService(stubCycleLookup{cycle: meteredWaterCycle()}, stubServiceRepo{service: waterService(true)},
		stubMeterLister{units: missing}, stubUnassignedLister{}, residents, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	info, err := svc.Unassigned(context.Background(), "cycle-1", true)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if len(info.MissingMeterUnits) != 2 {
		t.Fatalf("expected vacant unit-2 excluded, got %+v", info.MissingMeterUnits)
	}
	for _, unit := range info.MissingMeterUnits {
		if unit.UnitID == "unit-2" {
			t.Fatal("vacant unit-2 must not appear with onlyWithOwner")
		}
	}
}

func TestUnassigned_LookupFailureIsAnError(t *testing.T) {
	boom := errors.New("db down")
	svc, err := NewService(stubCycleLookup{cycle: meteredWaterCycle()}, stubServiceRepo{service: waterService(true)},
		stubMeterLister{err: boom}, stubUnassignedLister{}, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	info, err := svc.Unassigned(context.Background(), "cycle-1", false)
	if err == nil {
		t.Fatal("a failed lookup must surface as an error, not as zero gaps")
	}
	if info != nil {
		t.Fatalf("no info expected on failure, got %+v", info)
	}
}

func TestUnassigned_UnknownCycle(t *testing.T) {
	svc, err := NewService(stubCycleLookup{}, stubServiceRepo{service: waterService(true)},
		stubMeterLister{}, stubUnassignedLister{}, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Unassigned(context.Background(), "cycle-missing", false); !errors.Is(err, ErrUnknownCycle) {
		t.Fatalf("expected ErrUnknownCycle, got %v", err)
	}
}
