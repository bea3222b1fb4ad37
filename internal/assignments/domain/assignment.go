package assignments

import (
	"context"
	"errors"
	"time"
)

// Scope modes. Exactly one applies per assignment.
const (
	ScopeModeService    = "service"
	ScopeModeBuilding   = "building"
	ScopeModeFloorRange = "floorRange"
	ScopeModeUnits      = "units"
)

var (
	// ErrScopeConflict indicates both explicit units and a floor range
	// were given.
	ErrScopeConflict = errors.New("assignments: unitIds and floor range are mutually exclusive")
	// ErrInvalidFloorRange indicates floorFrom exceeds floorTo or only
	// one bound was given.
	ErrInvalidFloorRange = errors.New("assignments: invalid floor range")
	// ErrFloorRangeWithoutBuilding indicates a floor range was given
	// without the building it applies to.
	ErrFloorRangeWithoutBuilding = errors.New("assignments: floor range requires a building")
	// ErrOverlappingScope indicates the scope shares units with an
	// existing assignment in the same cycle.
	ErrOverlappingScope = errors.New("assignments: scope overlaps an existing assignment")
	// ErrAssignmentHasReadings indicates the assignment cannot be
	// deleted while readings reference it.
	ErrAssignmentHasReadings = errors.New("assignments: readings exist for assignment")
	// ErrAssignmentNotFound indicates the assignment id does not exist.
	ErrAssignmentNotFound = errors.New("assignments: assignment not found")
	// ErrAssignmentIncomplete indicates completion was requested before
	// every meter in scope was read.
	ErrAssignmentIncomplete = errors.New("assignments: not all meters in scope are read")
	// ErrEmptyScope indicates the scope resolves to no units.
	ErrEmptyScope = errors.New("assignments: scope resolves to no units")
)

// Scope selects the units an assignment covers: an explicit unit list,
// a floor range within one building, one whole building, or the whole
// service when no building is named.
type Scope struct {
	BuildingID string   `json:"buildingId,omitempty"`
	FloorFrom  *int     `json:"floorFrom,omitempty"`
	FloorTo    *int     `json:"floorTo,omitempty"`
	UnitIDs    []string `json:"unitIds,omitempty"`
}

// Mode reports which selection mode the scope uses.
func (s Scope) Mode() string {
	if len(s.UnitIDs) > 0 {
		return ScopeModeUnits
	}
	if s.FloorFrom != nil || s.FloorTo != nil {
		return ScopeModeFloorRange
	}
	if s.BuildingID != "" {
		return ScopeModeBuilding
	}
	return ScopeModeService
}

// Validate checks scope consistency. An empty scope is valid and covers
// every building and floor of the cycle's service.
func (s Scope) Validate() error {
	hasRange := s.FloorFrom != nil || s.FloorTo != nil
	if len(s.UnitIDs) > 0 && hasRange {
		return ErrScopeConflict
	}
	if hasRange {
		if s.BuildingID == "" {
			return ErrFloorRangeWithoutBuilding
		}
		if s.FloorFrom == nil || s.FloorTo == nil {
			return ErrInvalidFloorRange
		}
		if *s.FloorFrom > *s.FloorTo {
			return ErrInvalidFloorRange
		}
	}
	for _, id := range s.UnitIDs {
		if id == "" {
			return errors.New("assignments: empty unit id in scope")
		}
	}
	return nil
}

// MeterReadingAssignment hands a set of units to a reader for one cycle.
type MeterReadingAssignment struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	CycleID     string     `json:"cycleId"`
	AssignedTo  string     `json:"assignedTo"`
	Scope       Scope      `json:"scope"`
	Note        string     `json:"note,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Validate checks required assignment fields.
func (a MeterReadingAssignment) Validate() error {
	if a.ID == "" {
		return errors.New("assignments: empty assignment id")
	}
	if a.CycleID == "" {
		return errors.New("assignments: empty cycle id")
	}
	if a.AssignedTo == "" {
		return errors.New("assignments: empty assignee")
	}
	return a.Scope.Validate()
}

// Progress describes reading coverage of an assignment.
type Progress struct {
	TotalMeters int     `json:"totalMeters"`
	ReadMeters  int     `json:"readMeters"`
	Percent     float64 `json:"percent"`
	Completed   bool    `json:"completed"`
}

// ComputeProgress derives progress from meter counts. An empty scope
// reports zero percent and is never complete.
func ComputeProgress(total, read int) Progress {
	p := Progress{TotalMeters: total, ReadMeters: read}
	if total <= 0 {
		return p
	}
	if read > total {
		read = total
		p.ReadMeters = read
	}
	p.Percent = float64(read) / float64(total) * 100
	p.Completed = read == total
	return p
}

// AssignmentUnit records one unit covered by an assignment, with its
// resolved building position for sheet rendering.
type AssignmentUnit struct {
	UnitID   string `json:"unitId"`
	UnitCode string `json:"unitCode"`
	Floor    int    `json:"floor"`
	MeterID  string `json:"meterId,omitempty"`
}

// UnassignedFloor summarizes unassigned units of one floor in a cycle.
type UnassignedFloor struct {
	BuildingID   string   `json:"buildingId"`
	BuildingCode string   `json:"buildingCode"`
	BuildingName string   `json:"buildingName"`
	Floor        int      `json:"floor"`
	UnitIDs      []string `json:"unitIds"`
}

// AssignmentRepository stores assignments and their resolved unit sets.
type AssignmentRepository interface {
	Get(ctx context.Context, id string) (*MeterReadingAssignment, error)
	ListByCycle(ctx context.Context, cycleID string) ([]MeterReadingAssignment, error)
	// Create inserts the assignment and its resolved unit set in one
	// transaction.
	Create(ctx context.Context, assignment *MeterReadingAssignment, unitIDs []string) error
	Delete(ctx context.Context, id string) error
	CountByCycle(ctx context.Context, cycleID string) (int, error)
	// AssignedUnitIDs returns every unit id already covered by an
	// assignment in the cycle.
	AssignedUnitIDs(ctx context.Context, cycleID string) ([]string, error)
	// ListUnits returns the resolved unit set of one assignment with
	// active meter ids for the service.
	ListUnits(ctx context.Context, assignmentID, serviceID string) ([]AssignmentUnit, error)
	// ScopeCounts returns how many metered units the assignment covers
	// and how many of those meters have a reading in the cycle.
	ScopeCounts(ctx context.Context, assignmentID string) (total, read int, err error)
	// ListUnassignedFloors returns floors holding metered units not
	// covered by any assignment in the cycle, for the given service.
	ListUnassignedFloors(ctx context.Context, cycleID, serviceID string) ([]UnassignedFloor, error)
	// SetCompletedAt stamps or clears the completion time.
	SetCompletedAt(ctx context.Context, id string, completedAt *time.Time, updatedAt time.Time) error
}
