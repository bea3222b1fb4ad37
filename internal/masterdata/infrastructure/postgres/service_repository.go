package postgres

import (
	"context"
	"database/sql"
	"errors"

	masterdata "qhome-metering/internal/masterdata/domain"
)

// ServiceRepository is a Postgres implementation for billable services.
type ServiceRepository struct {
	db *sql.DB
}

// NewServiceRepository constructs a repository.
func NewServiceRepository(db *sql.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = "id, tenant_id, code, name, measure_unit, metered, active, created_at"

// Get loads one service, nil when absent.
func (r *ServiceRepository) Get(ctx context.Context, id string) (*masterdata.BillableService, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("service repo: nil db")
	}
	if id == "" {
		return nil, errors.New("service repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+serviceColumns+`
FROM services
WHERE id = $1`, id)
	return scanService(row)
}

// GetByCode loads a service by code, nil when absent.
func (r *ServiceRepository) GetByCode(ctx context.Context, code string) (*masterdata.BillableService, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("service repo: nil db")
	}
	if code == "" {
		return nil, errors.New("service repo: empty code")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+serviceColumns+`
FROM services
WHERE code = $1`, code)
	return scanService(row)
}

// List returns all services.
func (r *ServiceRepository) List(ctx context.Context) ([]masterdata.BillableService, error) {
	return r.list(ctx, false)
}

// ListActive returns active services only.
func (r *ServiceRepository) ListActive(ctx context.Context) ([]masterdata.BillableService, error) {
	return r.list(ctx, true)
}

func (r *ServiceRepository) list(ctx context.Context, activeOnly bool) ([]masterdata.BillableService, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("service repo: nil db")
	}
	query := `
SELECT ` + serviceColumns + `
FROM services`
	if activeOnly {
		query += `
WHERE active`
	}
	query += `
ORDER BY code`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []masterdata.BillableService
	for rows.Next() {
		var s masterdata.BillableService
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Code, &s.Name, &s.Unit, &s.Metered, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func scanService(row *sql.Row) (*masterdata.BillableService, error) {
	var s masterdata.BillableService
	if err := row.Scan(&s.ID, &s.TenantID, &s.Code, &s.Name, &s.Unit, &s.Metered, &s.Active, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
