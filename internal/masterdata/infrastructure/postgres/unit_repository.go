package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	masterdata "qhome-metering/internal/masterdata/domain"
)

// UnitRepository is a Postgres implementation for units.
type UnitRepository struct {
	db *sql.DB
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db *sql.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

const unitColumns = "id, tenant_id, building_id, code, floor, occupied, created_at, updated_at"

// Get loads one unit, nil when absent.
func (r *UnitRepository) Get(ctx context.Context, id string) (*masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+unitColumns+`
FROM units
WHERE id = $1`, id)
	var u masterdata.Unit
	if err := row.Scan(&u.ID, &u.TenantID, &u.BuildingID, &u.Code, &u.Floor, &u.Occupied, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// ListByBuilding returns units of a building ordered by floor, code.
func (r *UnitRepository) ListByBuilding(ctx context.Context, buildingID string) ([]masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if buildingID == "" {
		return nil, errors.New("unit repo: empty building id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+unitColumns+`
FROM units
WHERE building_id = $1
ORDER BY floor, code`, buildingID)
	if err != nil {
		return nil, err
	}
	return collectUnits(rows)
}

// ListByScope resolves units for an assignment scope.
func (r *UnitRepository) ListByScope(ctx context.Context, buildingID string, floorFrom, floorTo *int, unitIDs []string) ([]masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}

	if len(unitIDs) > 0 {
		rows, err := r.db.QueryContext(ctx, `
SELECT `+unitColumns+`
FROM units
WHERE id = ANY($1)
ORDER BY building_id, floor, code`, unitIDs)
		if err != nil {
			return nil, err
		}
		return collectUnits(rows)
	}

	query := `
SELECT ` + unitColumns + `
FROM units`
	var conds []string
	var args []any
	if buildingID != "" {
		args = append(args, buildingID)
		conds = append(conds, "building_id = $"+strconv.Itoa(len(args)))
	}
	if floorFrom != nil {
		args = append(args, *floorFrom)
		conds = append(conds, "floor >= $"+strconv.Itoa(len(args)))
	}
	if floorTo != nil {
		args = append(args, *floorTo)
		conds = append(conds, "floor <= $"+strconv.Itoa(len(args)))
	}
	for i, cond := range conds {
		if i == 0 {
			query += "\nWHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += "\nORDER BY building_id, floor, code"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unit repo: scope query: %w", err)
	}
	return collectUnits(rows)
}

// Save upserts a unit.
func (r *UnitRepository) Save(ctx context.Context, unit *masterdata.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO units (id, tenant_id, building_id, code, floor, occupied, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (id)
DO UPDATE SET code = EXCLUDED.code, floor = EXCLUDED.floor, occupied = EXCLUDED.occupied, updated_at = $7`,
		unit.ID, unit.TenantID, unit.BuildingID, unit.Code, unit.Floor, unit.Occupied, now)
	return err
}

func collectUnits(rows *sql.Rows) ([]masterdata.Unit, error) {
	defer rows.Close()
	var units []masterdata.Unit
	for rows.Next() {
		var u masterdata.Unit
		if err := rows.Scan(&u.ID, &u.TenantID, &u.BuildingID, &u.Code, &u.Floor, &u.Occupied, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
