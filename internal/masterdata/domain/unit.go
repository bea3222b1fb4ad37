package masterdata

import (
	"context"
	"errors"
	"time"
)

// Unit represents a single apartment unit within a building.
type Unit struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId,omitempty"`
	BuildingID string    `json:"buildingId"`
	Code       string    `json:"code"`
	Floor      int       `json:"floor"`
	Occupied   bool      `json:"occupied"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" {
		return errors.New("unit: empty id")
	}
	if u.BuildingID == "" {
		return errors.New("unit: empty building id")
	}
	if u.Code == "" {
		return errors.New("unit: empty code")
	}
	return nil
}

// UnitRepository manages unit persistence.
type UnitRepository interface {
	Get(ctx context.Context, id string) (*Unit, error)
	ListByBuilding(ctx context.Context, buildingID string) ([]Unit, error)
	// ListByScope resolves units for an assignment scope: explicit ids,
	// a building floor range (inclusive, nil bound = unbounded), or all
	// units when buildingID is empty and unitIDs is nil.
	ListByScope(ctx context.Context, buildingID string, floorFrom, floorTo *int, unitIDs []string) ([]Unit, error)
	Save(ctx context.Context, unit *Unit) error
}
