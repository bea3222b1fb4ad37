package eventing

import (
	"context"
	"time"
)

// Routing keys for published domain events.
const (
	KeyMeterCreated        = "meter.created"
	KeyCycleStatusChanged  = "cycle.status_changed"
	KeyAssignmentCreated   = "assignment.created"
	KeyAssignmentDeleted   = "assignment.deleted"
	KeyAssignmentCompleted = "assignment.completed"
	KeyReadingRecorded     = "reading.recorded"
)

// MeterCreated is published after a meter record is created.
type MeterCreated struct {
	MeterID   string    `json:"meterId"`
	UnitID    string    `json:"unitId"`
	ServiceID string    `json:"serviceId"`
	Source    string    `json:"source"` // manual | remediation | bulk
	CreatedAt time.Time `json:"createdAt"`
}

// CycleStatusChanged is published after a cycle status transition.
type CycleStatusChanged struct {
	CycleID    string    `json:"cycleId"`
	ServiceID  string    `json:"serviceId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	ChangedBy  string    `json:"changedBy"`
	ChangedAt  time.Time `json:"changedAt"`
}

// AssignmentCreated is published after an assignment is created.
type AssignmentCreated struct {
	AssignmentID string    `json:"assignmentId"`
	CycleID      string    `json:"cycleId"`
	ServiceID    string    `json:"serviceId"`
	AssignedTo   string    `json:"assignedTo"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AssignmentDeleted is published after an unread assignment is deleted.
type AssignmentDeleted struct {
	AssignmentID string    `json:"assignmentId"`
	CycleID      string    `json:"cycleId"`
	DeletedAt    time.Time `json:"deletedAt"`
}

// AssignmentCompleted is published when reading coverage completes an assignment.
type AssignmentCompleted struct {
	AssignmentID string    `json:"assignmentId"`
	CycleID      string    `json:"cycleId"`
	TotalMeters  int       `json:"totalMeters"`
	CompletedAt  time.Time `json:"completedAt"`
}

// ReadingRecorded is published after a meter reading is stored.
type ReadingRecorded struct {
	ReadingID  string    `json:"readingId"`
	MeterID    string    `json:"meterId"`
	CycleID    string    `json:"cycleId"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Publisher publishes domain events. Publishing is best-effort
// notification and never part of request correctness.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return nil
}
