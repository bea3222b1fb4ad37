package masterdata

import (
	"context"
	"errors"
	"time"
)

// Well-known billable service codes.
const (
	ServiceCodeWater    = "WATER"
	ServiceCodeElectric = "ELECTRIC"
)

// BillableService represents a metered or flat-rate service billed to
// units (water, electricity).
type BillableService struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit,omitempty"` // measurement unit, e.g. m3, kWh
	Metered   bool      `json:"metered"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks service invariants.
func (s BillableService) Validate() error {
	if s.ID == "" {
		return errors.New("service: empty id")
	}
	if s.Code == "" {
		return errors.New("service: empty code")
	}
	return nil
}

// ServiceRepository manages billable service persistence.
type ServiceRepository interface {
	Get(ctx context.Context, id string) (*BillableService, error)
	GetByCode(ctx context.Context, code string) (*BillableService, error)
	List(ctx context.Context) ([]BillableService, error)
	ListActive(ctx context.Context) ([]BillableService, error)
}
