package metering

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReadingNotFound indicates the reading id does not exist.
	ErrReadingNotFound = errors.New("metering: reading not found")
	// ErrNegativeValue indicates a reading value below zero.
	ErrNegativeValue = errors.New("metering: reading value must be non-negative")
)

// MeterReading is one recorded reading for a meter within a cycle.
type MeterReading struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	MeterID       string    `json:"meterId"`
	CycleID       string    `json:"cycleId"`
	AssignmentID  string    `json:"assignmentId,omitempty"`
	Value         float64   `json:"value"`
	PreviousValue *float64  `json:"previousValue,omitempty"`
	ReadAt        time.Time `json:"readAt"`
	RecordedBy    string    `json:"recordedBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Validate checks required reading fields.
func (r MeterReading) Validate() error {
	if r.ID == "" {
		return errors.New("metering: empty reading id")
	}
	if r.MeterID == "" {
		return errors.New("metering: empty meter id")
	}
	if r.CycleID == "" {
		return errors.New("metering: empty cycle id")
	}
	if r.Value < 0 {
		return ErrNegativeValue
	}
	return nil
}

// ReadingRepository stores meter readings.
type ReadingRepository interface {
	Get(ctx context.Context, id string) (*MeterReading, error)
	ListByCycle(ctx context.Context, cycleID string) ([]MeterReading, error)
	ListByMeter(ctx context.Context, meterID string) ([]MeterReading, error)
	// ListByUnit returns readings from any meter installed in the unit.
	ListByUnit(ctx context.Context, unitID string) ([]MeterReading, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]MeterReading, error)
	// CountByAssignment counts readings recorded under an assignment.
	CountByAssignment(ctx context.Context, assignmentID string) (int, error)
	// ExistsForMeterCycle reports whether a reading already exists for
	// the meter in the cycle.
	ExistsForMeterCycle(ctx context.Context, meterID, cycleID string) (bool, error)
	Create(ctx context.Context, reading *MeterReading) error
	Update(ctx context.Context, reading *MeterReading) error
}
