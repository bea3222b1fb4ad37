package cycles

import (
	"context"
	"errors"
	"time"
)

// Reading cycle statuses.
const (
	StatusOpen       = "OPEN"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusClosed     = "CLOSED"
	StatusCancelled  = "CANCELLED"
)

var (
	// ErrInvalidPeriod indicates periodFrom is after periodTo.
	ErrInvalidPeriod = errors.New("cycle: period from after period to")
	// ErrUnknownStatus indicates a status outside the known set.
	ErrUnknownStatus = errors.New("cycle: unknown status")
)

// ReadingCycle represents a billing/reading period for one service.
type ReadingCycle struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId,omitempty"`
	Name        string    `json:"name"`
	ServiceID   string    `json:"serviceId"`
	ServiceCode string    `json:"serviceCode,omitempty"`
	PeriodFrom  time.Time `json:"periodFrom"`
	PeriodTo    time.Time `json:"periodTo"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ValidStatus reports whether the status belongs to the known set.
func ValidStatus(status string) bool {
	switch status {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusClosed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Validate checks cycle invariants.
func (c ReadingCycle) Validate() error {
	if c.ID == "" {
		return errors.New("cycle: empty id")
	}
	if c.Name == "" {
		return errors.New("cycle: empty name")
	}
	if c.ServiceID == "" {
		return errors.New("cycle: empty service id")
	}
	if c.PeriodFrom.IsZero() || c.PeriodTo.IsZero() {
		return errors.New("cycle: empty period")
	}
	if c.PeriodFrom.After(c.PeriodTo) {
		return ErrInvalidPeriod
	}
	if !ValidStatus(c.Status) {
		return ErrUnknownStatus
	}
	return nil
}

// CycleRepository manages reading cycle persistence.
type CycleRepository interface {
	Get(ctx context.Context, id string) (*ReadingCycle, error)
	List(ctx context.Context) ([]ReadingCycle, error)
	ListByStatus(ctx context.Context, status string) ([]ReadingCycle, error)
	ListByPeriod(ctx context.Context, from, to time.Time) ([]ReadingCycle, error)
	Create(ctx context.Context, cycle *ReadingCycle) error
	Update(ctx context.Context, cycle *ReadingCycle) error
	UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}
