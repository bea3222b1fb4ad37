package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	masterdata "qhome-metering/internal/masterdata/domain"
)

// BuildingRepository is a Postgres implementation for buildings.
type BuildingRepository struct {
	db *sql.DB
}

// NewBuildingRepository constructs a repository.
func NewBuildingRepository(db *sql.DB) *BuildingRepository {
	return &BuildingRepository{db: db}
}

// Get loads one building, nil when absent.
func (r *BuildingRepository) Get(ctx context.Context, id string) (*masterdata.Building, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("building repo: nil db")
	}
	if id == "" {
		return nil, errors.New("building repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, code, name, floors, created_at, updated_at
FROM buildings
WHERE id = $1`, id)
	return scanBuilding(row)
}

// List returns all buildings ordered by code.
func (r *BuildingRepository) List(ctx context.Context) ([]masterdata.Building, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("building repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, code, name, floors, created_at, updated_at
FROM buildings
ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buildings []masterdata.Building
	for rows.Next() {
		var b masterdata.Building
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Code, &b.Name, &b.Floors, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		buildings = append(buildings, b)
	}
	return buildings, rows.Err()
}

// Save upserts a building.
func (r *BuildingRepository) Save(ctx context.Context, building *masterdata.Building) error {
	if r == nil || r.db == nil {
		return errors.New("building repo: nil db")
	}
	if building == nil {
		return errors.New("building repo: nil building")
	}
	if err := building.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO buildings (id, tenant_id, code, name, floors, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (id)
DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, floors = EXCLUDED.floors, updated_at = $6`,
		building.ID, building.TenantID, building.Code, building.Name, building.Floors, now)
	return err
}

func scanBuilding(row *sql.Row) (*masterdata.Building, error) {
	var b masterdata.Building
	if err := row.Scan(&b.ID, &b.TenantID, &b.Code, &b.Name, &b.Floors, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}
