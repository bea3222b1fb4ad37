package masterdata

import (
	"context"
	"errors"
	"time"
)

// Resident represents an occupant of a unit. The primary resident is
// the billing-responsible party; units without one cannot be billed.
type Resident struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId,omitempty"`
	UnitID     string     `json:"unitId"`
	FullName   string     `json:"fullName"`
	Phone      string     `json:"phone,omitempty"`
	Primary    bool       `json:"primary"`
	MovedInAt  time.Time  `json:"movedInAt"`
	MovedOutAt *time.Time `json:"movedOutAt,omitempty"`
}

// Validate checks resident invariants.
func (r Resident) Validate() error {
	if r.ID == "" {
		return errors.New("resident: empty id")
	}
	if r.UnitID == "" {
		return errors.New("resident: empty unit id")
	}
	if r.FullName == "" {
		return errors.New("resident: empty name")
	}
	return nil
}

// Current reports whether the resident still occupies the unit.
func (r Resident) Current() bool {
	return r.MovedOutAt == nil
}

// ResidentRepository manages resident persistence.
type ResidentRepository interface {
	// PrimaryByUnit returns the current primary resident of a unit,
	// or nil when the unit has none.
	PrimaryByUnit(ctx context.Context, unitID string) (*Resident, error)
	ListByUnit(ctx context.Context, unitID string) ([]Resident, error)
	Save(ctx context.Context, resident *Resident) error
}
