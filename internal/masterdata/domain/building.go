package masterdata

import (
	"context"
	"errors"
	"time"
)

// Building represents a managed residential building.
type Building struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Floors    int       `json:"floors"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks building invariants.
func (b Building) Validate() error {
	if b.ID == "" {
		return errors.New("building: empty id")
	}
	if b.Code == "" {
		return errors.New("building: empty code")
	}
	return nil
}

// BuildingRepository manages building persistence.
type BuildingRepository interface {
	Get(ctx context.Context, id string) (*Building, error)
	List(ctx context.Context) ([]Building, error)
	Save(ctx context.Context, building *Building) error
}
