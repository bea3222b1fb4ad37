package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	assignments "qhome-metering/internal/assignments/domain"
)

const assignmentColumns = `id, tenant_id, cycle_id, assigned_to, building_id, floor_from, floor_to, note, created_by, completed_at, created_at, updated_at`

// AssignmentRepository is a Postgres implementation of the assignment store.
// The resolved unit set lives in assignment_units, one row per unit.
type AssignmentRepository struct {
	db *sql.DB
}

// NewAssignmentRepository constructs a repository.
func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Get loads one assignment, nil when absent. Explicit-unit scopes carry
// their unit list.
func (r *AssignmentRepository) Get(ctx context.Context, id string) (*assignments.MeterReadingAssignment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assignment repo: nil db")
	}
	if id == "" {
		return nil, errors.New("assignment repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+assignmentColumns+`
FROM meter_reading_assignments
WHERE id = $1`, id)
	assignment, err := scanAssignment(row)
	if err != nil || assignment == nil {
		return assignment, err
	}
	if assignment.Scope.FloorFrom == nil {
		if err := r.loadExplicitUnits(ctx, assignment); err != nil {
			return nil, err
		}
	}
	return assignment, nil
}

// loadExplicitUnits fills Scope.UnitIDs for explicit-unit assignments.
// Building and floor-range scopes keep an empty list; their unit rows in
// assignment_units are a resolution snapshot, not part of the scope.
func (r *AssignmentRepository) loadExplicitUnits(ctx context.Context, assignment *assignments.MeterReadingAssignment) error {
	rows, err := r.db.QueryContext(ctx, `
SELECT unit_id
FROM assignment_units
WHERE assignment_id = $1 AND explicit
ORDER BY unit_id`, assignment.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var unitID string
		if err := rows.Scan(&unitID); err != nil {
			return err
		}
		assignment.Scope.UnitIDs = append(assignment.Scope.UnitIDs, unitID)
	}
	return rows.Err()
}

// ListByCycle returns assignments of a cycle, oldest first.
func (r *AssignmentRepository) ListByCycle(ctx context.Context, cycleID string) ([]assignments.MeterReadingAssignment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assignment repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+assignmentColumns+`
FROM meter_reading_assignments
WHERE cycle_id = $1
ORDER BY created_at, id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assignments.MeterReadingAssignment
	for rows.Next() {
		assignment, err := scanAssignmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Scope.FloorFrom == nil {
			if err := r.loadExplicitUnits(ctx, &out[i]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Create inserts the assignment and its resolved unit set atomically.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *assignments.MeterReadingAssignment, unitIDs []string) error {
	if r == nil || r.db == nil {
		return errors.New("assignment repo: nil db")
	}
	if assignment == nil {
		return errors.New("assignment repo: nil assignment")
	}
	if err := assignment.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO meter_reading_assignments (id, tenant_id, cycle_id, assigned_to, building_id, floor_from, floor_to, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		assignment.ID, assignment.TenantID, assignment.CycleID, assignment.AssignedTo,
		nullStr(assignment.Scope.BuildingID), nullInt(assignment.Scope.FloorFrom), nullInt(assignment.Scope.FloorTo),
		nullStr(assignment.Note), assignment.CreatedBy, assignment.CreatedAt, assignment.UpdatedAt)
	if err != nil {
		return err
	}

	explicit := assignment.Scope.Mode() == assignments.ScopeModeUnits
	for _, unitID := range unitIDs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO assignment_units (assignment_id, unit_id, explicit)
VALUES ($1,$2,$3)`, assignment.ID, unitID, explicit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes an assignment and its unit rows.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("assignment repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignment_units WHERE assignment_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM meter_reading_assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return assignments.ErrAssignmentNotFound
	}
	return tx.Commit()
}

// CountByCycle counts assignments referencing a cycle.
func (r *AssignmentRepository) CountByCycle(ctx context.Context, cycleID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("assignment repo: nil db")
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM meter_reading_assignments
WHERE cycle_id = $1`, cycleID).Scan(&count)
	return count, err
}

// AssignedUnitIDs returns unit ids covered by any assignment in the cycle.
func (r *AssignmentRepository) AssignedUnitIDs(ctx context.Context, cycleID string) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assignment repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT au.unit_id
FROM assignment_units au
JOIN meter_reading_assignments a ON a.id = au.assignment_id
WHERE a.cycle_id = $1`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var unitID string
		if err := rows.Scan(&unitID); err != nil {
			return nil, err
		}
		out = append(out, unitID)
	}
	return out, rows.Err()
}

// ListUnits returns the resolved units of an assignment with active
// meter ids for the service.
func (r *AssignmentRepository) ListUnits(ctx context.Context, assignmentID, serviceID string) ([]assignments.AssignmentUnit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assignment repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT u.id, u.code, u.floor, COALESCE(m.id, '')
FROM assignment_units au
JOIN units u ON u.id = au.unit_id
LEFT JOIN meters m ON m.unit_id = u.id AND m.service_id = $2 AND m.active
WHERE au.assignment_id = $1
ORDER BY u.floor, u.code`, assignmentID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assignments.AssignmentUnit
	for rows.Next() {
		var unit assignments.AssignmentUnit
		if err := rows.Scan(&unit.UnitID, &unit.UnitCode, &unit.Floor, &unit.MeterID); err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

// ScopeCounts returns metered-unit and read-meter counts for an assignment.
func (r *AssignmentRepository) ScopeCounts(ctx context.Context, assignmentID string) (int, int, error) {
	if r == nil || r.db == nil {
		return 0, 0, errors.New("assignment repo: nil db")
	}
	var total, read int
	err := r.db.QueryRowContext(ctx, `
SELECT
  COUNT(m.id),
  COUNT(mr.meter_id)
FROM assignment_units au
JOIN meter_reading_assignments a ON a.id = au.assignment_id
JOIN reading_cycles c ON c.id = a.cycle_id
LEFT JOIN meters m ON m.unit_id = au.unit_id AND m.service_id = c.service_id AND m.active
LEFT JOIN LATERAL (
  SELECT meter_id FROM meter_readings
  WHERE meter_id = m.id AND cycle_id = a.cycle_id
    AND read_at >= c.period_from
    AND read_at < c.period_to + INTERVAL '1 day'
  LIMIT 1
) mr ON TRUE
WHERE au.assignment_id = $1`, assignmentID).Scan(&total, &read)
	return total, read, err
}

// ListUnassignedFloors returns floors with metered units no assignment covers.
func (r *AssignmentRepository) ListUnassignedFloors(ctx context.Context, cycleID, serviceID string) ([]assignments.UnassignedFloor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assignment repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT b.id, b.code, b.name, u.floor, u.id
FROM units u
JOIN buildings b ON b.id = u.building_id
JOIN meters m ON m.unit_id = u.id AND m.service_id = $2 AND m.active
WHERE NOT EXISTS (
  SELECT 1
  FROM assignment_units au
  JOIN meter_reading_assignments a ON a.id = au.assignment_id
  WHERE au.unit_id = u.id AND a.cycle_id = $1
)
ORDER BY b.code, u.floor, u.code`, cycleID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assignments.UnassignedFloor
	for rows.Next() {
		var (
			buildingID, buildingCode, buildingName, unitID string
			floor                                          int
		)
		if err := rows.Scan(&buildingID, &buildingCode, &buildingName, &floor, &unitID); err != nil {
			return nil, err
		}
		n := len(out)
		if n > 0 && out[n-1].BuildingID == buildingID && out[n-1].Floor == floor {
			out[n-1].UnitIDs = append(out[n-1].UnitIDs, unitID)
			continue
		}
		out = append(out, assignments.UnassignedFloor{
			BuildingID:   buildingID,
			BuildingCode: buildingCode,
			BuildingName: buildingName,
			Floor:        floor,
			UnitIDs:      []string{unitID},
		})
	}
	return out, rows.Err()
}

// SetCompletedAt stamps or clears completion.
func (r *AssignmentRepository) SetCompletedAt(ctx context.Context, id string, completedAt *time.Time, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("assignment repo: nil db")
	}
	var value sql.NullTime
	if completedAt != nil {
		value = sql.NullTime{Time: *completedAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE meter_reading_assignments
SET completed_at = $2, updated_at = $3
WHERE id = $1`, id, value, updatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return assignments.ErrAssignmentNotFound
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row *sql.Row) (*assignments.MeterReadingAssignment, error) {
	assignment, err := scanAssignmentRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return assignment, nil
}

func scanAssignmentRow(row rowScanner) (*assignments.MeterReadingAssignment, error) {
	var (
		a           assignments.MeterReadingAssignment
		buildingID  sql.NullString
		floorFrom   sql.NullInt64
		floorTo     sql.NullInt64
		note        sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.CycleID, &a.AssignedTo,
		&buildingID, &floorFrom, &floorTo, &note, &a.CreatedBy,
		&completedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Scope.BuildingID = buildingID.String
	if floorFrom.Valid {
		v := int(floorFrom.Int64)
		a.Scope.FloorFrom = &v
	}
	if floorTo.Valid {
		v := int(floorTo.Int64)
		a.Scope.FloorTo = &v
	}
	a.Note = note.String
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}
