package postgres

import (
	"context"
	"database/sql"
	"errors"

	metering "qhome-metering/internal/metering/domain"
)

const readingColumns = `id, tenant_id, meter_id, cycle_id, assignment_id, value, previous_value, read_at, recorded_by, created_at, updated_at`

// ReadingRepository is a Postgres implementation of the reading store.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Get loads one reading, nil when absent.
func (r *ReadingRepository) Get(ctx context.Context, id string) (*metering.MeterReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if id == "" {
		return nil, errors.New("reading repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+readingColumns+`
FROM meter_readings
WHERE id = $1`, id)
	return scanReading(row)
}

// ListByCycle returns readings recorded in a cycle.
func (r *ReadingRepository) ListByCycle(ctx context.Context, cycleID string) ([]metering.MeterReading, error) {
	return r.list(ctx, `cycle_id = $1`, cycleID)
}

// ListByMeter returns readings for a meter, newest first.
func (r *ReadingRepository) ListByMeter(ctx context.Context, meterID string) ([]metering.MeterReading, error) {
	return r.list(ctx, `meter_id = $1`, meterID)
}

// ListByAssignment returns readings recorded under an assignment.
func (r *ReadingRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]metering.MeterReading, error) {
	return r.list(ctx, `assignment_id = $1`, assignmentID)
}

// ListByUnit returns readings from any meter installed in the unit.
func (r *ReadingRepository) ListByUnit(ctx context.Context, unitID string) ([]metering.MeterReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT mr.id, mr.tenant_id, mr.meter_id, mr.cycle_id, mr.assignment_id, mr.value, mr.previous_value, mr.read_at, mr.recorded_by, mr.created_at, mr.updated_at
FROM meter_readings mr
JOIN meters m ON m.id = mr.meter_id
WHERE m.unit_id = $1
ORDER BY mr.read_at DESC, mr.id`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metering.MeterReading
	for rows.Next() {
		reading, err := scanReadingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reading)
	}
	return out, rows.Err()
}

func (r *ReadingRepository) list(ctx context.Context, where string, arg any) ([]metering.MeterReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+readingColumns+`
FROM meter_readings
WHERE `+where+`
ORDER BY read_at DESC, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metering.MeterReading
	for rows.Next() {
		reading, err := scanReadingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reading)
	}
	return out, rows.Err()
}

// CountByAssignment counts readings recorded under an assignment.
func (r *ReadingRepository) CountByAssignment(ctx context.Context, assignmentID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM meter_readings
WHERE assignment_id = $1`, assignmentID).Scan(&count)
	return count, err
}

// ExistsForMeterCycle reports whether a reading exists for the meter in the cycle.
func (r *ReadingRepository) ExistsForMeterCycle(ctx context.Context, meterID, cycleID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("reading repo: nil db")
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM meter_readings WHERE meter_id = $1 AND cycle_id = $2
)`, meterID, cycleID).Scan(&exists)
	return exists, err
}

// Create inserts a reading.
func (r *ReadingRepository) Create(ctx context.Context, reading *metering.MeterReading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO meter_readings (id, tenant_id, meter_id, cycle_id, assignment_id, value, previous_value, read_at, recorded_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		reading.ID, reading.TenantID, reading.MeterID, reading.CycleID,
		nullString(reading.AssignmentID), reading.Value, nullFloat(reading.PreviousValue),
		reading.ReadAt, reading.RecordedBy, reading.CreatedAt, reading.UpdatedAt)
	return err
}

// Update rewrites the value fields of a reading.
func (r *ReadingRepository) Update(ctx context.Context, reading *metering.MeterReading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE meter_readings
SET value = $2, previous_value = $3, read_at = $4, updated_at = $5
WHERE id = $1`,
		reading.ID, reading.Value, nullFloat(reading.PreviousValue), reading.ReadAt, reading.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return metering.ErrReadingNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func scanReading(row *sql.Row) (*metering.MeterReading, error) {
	reading, err := scanReadingRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return reading, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReadingRow(row rowScanner) (*metering.MeterReading, error) {
	var (
		reading      metering.MeterReading
		assignmentID sql.NullString
		previous     sql.NullFloat64
	)
	if err := row.Scan(&reading.ID, &reading.TenantID, &reading.MeterID, &reading.CycleID,
		&assignmentID, &reading.Value, &previous, &reading.ReadAt, &reading.RecordedBy,
		&reading.CreatedAt, &reading.UpdatedAt); err != nil {
		return nil, err
	}
	reading.AssignmentID = assignmentID.String
	if previous.Valid {
		v := previous.Float64
		reading.PreviousValue = &v
	}
	return &reading, nil
}
