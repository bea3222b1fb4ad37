package metering

import (
	"context"
	"errors"
	"time"
)

// Meter creation sources, recorded on the meter row and in events.
const (
	SourceManual      = "manual"
	SourceBulk        = "bulk"
	SourceRemediation = "remediation"
)

var (
	// ErrDuplicateActiveMeter indicates the unit already has an active
	// meter for the service.
	ErrDuplicateActiveMeter = errors.New("metering: unit already has an active meter for service")
	// ErrMeterNotFound indicates the meter id does not exist.
	ErrMeterNotFound = errors.New("metering: meter not found")
	// ErrMeterHasReadings indicates the meter cannot be removed while
	// readings reference it.
	ErrMeterHasReadings = errors.New("metering: readings exist for meter")
)

// Meter is a physical meter installed in a unit for one billable service.
type Meter struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	UnitID       string     `json:"unitId"`
	ServiceID    string     `json:"serviceId"`
	SerialNumber string     `json:"serialNumber"`
	Source       string     `json:"source"`
	Active       bool       `json:"active"`
	InstalledAt  time.Time  `json:"installedAt"`
	RemovedAt    *time.Time `json:"removedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Validate checks required meter fields.
func (m Meter) Validate() error {
	if m.ID == "" {
		return errors.New("metering: empty meter id")
	}
	if m.UnitID == "" {
		return errors.New("metering: empty unit id")
	}
	if m.ServiceID == "" {
		return errors.New("metering: empty service id")
	}
	return nil
}

// UnitWithoutMeter describes a unit lacking an active meter for a service.
type UnitWithoutMeter struct {
	UnitID       string `json:"unitId"`
	UnitCode     string `json:"unitCode"`
	Floor        int    `json:"floor"`
	BuildingID   string `json:"buildingId"`
	BuildingCode string `json:"buildingCode"`
	BuildingName string `json:"buildingName"`
	ServiceID    string `json:"serviceId"`
}

// MeterRepository stores meters.
type MeterRepository interface {
	Get(ctx context.Context, id string) (*Meter, error)
	List(ctx context.Context) ([]Meter, error)
	ListByUnit(ctx context.Context, unitID string) ([]Meter, error)
	ListByBuilding(ctx context.Context, buildingID string) ([]Meter, error)
	ListActiveByService(ctx context.Context, serviceID string) ([]Meter, error)
	// ActiveByUnitService returns the active meter for a unit/service
	// pair, nil when none exists.
	ActiveByUnitService(ctx context.Context, unitID, serviceID string) (*Meter, error)
	// CountActiveByService counts active meters for a service.
	CountActiveByService(ctx context.Context, serviceID string) (int, error)
	// ListUnitsWithoutMeter returns units with no active meter for the
	// service, ordered by building code then unit code. An empty
	// buildingID covers every building.
	ListUnitsWithoutMeter(ctx context.Context, serviceID, buildingID string) ([]UnitWithoutMeter, error)
	// Create inserts a meter. A second active meter for the same
	// unit/service pair fails with ErrDuplicateActiveMeter.
	Create(ctx context.Context, meter *Meter) error
	// Update rewrites mutable meter fields.
	Update(ctx context.Context, meter *Meter) error
	// Deactivate marks a meter inactive and stamps removed_at.
	Deactivate(ctx context.Context, id string, removedAt time.Time) error
	// Delete removes a meter row. Meters with recorded readings fail
	// with ErrMeterHasReadings.
	Delete(ctx context.Context, id string) error
}
