package auth

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrTenantMismatch indicates resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// BuildingTenantChecker validates building tenant ownership.
type BuildingTenantChecker interface {
	EnsureBuildingTenant(ctx context.Context, tenantID, buildingID string) error
}

// BuildingChecker checks building ownership against masterdata.
type BuildingChecker struct {
	db *sql.DB
}

// NewBuildingChecker constructs a BuildingChecker.
func NewBuildingChecker(db *sql.DB) *BuildingChecker {
	if db == nil {
		return nil
	}
	return &BuildingChecker{db: db}
}

// EnsureBuildingTenant verifies the building belongs to the tenant.
func (c *BuildingChecker) EnsureBuildingTenant(ctx context.Context, tenantID, buildingID string) error {
	if c == nil || c.db == nil {
		return nil
	}
	if tenantID == "" || buildingID == "" {
		return nil
	}
	var owner string
	row := c.db.QueryRowContext(ctx, `SELECT tenant_id FROM buildings WHERE id = $1`, buildingID)
	if err := row.Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if owner != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
