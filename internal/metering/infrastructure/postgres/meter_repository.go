package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	metering "qhome-metering/internal/metering/domain"
)

const meterColumns = `id, tenant_id, unit_id, service_id, serial_number, source, active, installed_at, removed_at, created_at, updated_at`

// MeterRepository is a Postgres implementation of the meter store.
type MeterRepository struct {
	db *sql.DB
}

// NewMeterRepository constructs a repository.
func NewMeterRepository(db *sql.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

// Get loads one meter, nil when absent.
func (r *MeterRepository) Get(ctx context.Context, id string) (*metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	if id == "" {
		return nil, errors.New("meter repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE id = $1`, id)
	return scanMeter(row)
}

// ListByUnit returns all meters installed in a unit.
func (r *MeterRepository) ListByUnit(ctx context.Context, unitID string) ([]metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE unit_id = $1
ORDER BY installed_at DESC`, unitID)
	if err != nil {
		return nil, err
	}
	return collectMeters(rows)
}

// List returns every meter for the tenant.
func (r *MeterRepository) List(ctx context.Context) ([]metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+meterColumns+`
FROM meters
ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collectMeters(rows)
}

// ListByBuilding returns meters installed in any unit of a building.
func (r *MeterRepository) ListByBuilding(ctx context.Context, buildingID string) ([]metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT m.id, m.tenant_id, m.unit_id, m.service_id, m.serial_number, m.source, m.active, m.installed_at, m.removed_at, m.created_at, m.updated_at
FROM meters m
JOIN units u ON u.id = m.unit_id
WHERE u.building_id = $1
ORDER BY u.code, m.installed_at DESC`, buildingID)
	if err != nil {
		return nil, err
	}
	return collectMeters(rows)
}

// ListActiveByService returns active meters for a service.
func (r *MeterRepository) ListActiveByService(ctx context.Context, serviceID string) ([]metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE service_id = $1 AND active
ORDER BY unit_id`, serviceID)
	if err != nil {
		return nil, err
	}
	return collectMeters(rows)
}

// ActiveByUnitService returns the active meter for a unit/service pair.
func (r *MeterRepository) ActiveByUnitService(ctx context.Context, unitID, serviceID string) (*metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE unit_id = $1 AND service_id = $2 AND active
LIMIT 1`, unitID, serviceID)
	return scanMeter(row)
}

// CountActiveByService counts active meters for a service.
func (r *MeterRepository) CountActiveByService(ctx context.Context, serviceID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("meter repo: nil db")
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM meters
WHERE service_id = $1 AND active`, serviceID).Scan(&count)
	return count, err
}

// ListUnitsWithoutMeter returns units lacking an active meter for the
// service. An empty buildingID covers every building.
func (r *MeterRepository) ListUnitsWithoutMeter(ctx context.Context, serviceID, buildingID string) ([]metering.UnitWithoutMeter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	if serviceID == "" {
		return nil, errors.New("meter repo: empty service id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT u.id, u.code, u.floor, b.id, b.code, b.name
FROM units u
JOIN buildings b ON b.id = u.building_id
LEFT JOIN meters m ON m.unit_id = u.id AND m.service_id = $1 AND m.active
WHERE m.id IS NULL AND ($2 = '' OR b.id = $2)
ORDER BY b.code, u.code`, serviceID, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metering.UnitWithoutMeter
	for rows.Next() {
		unit := metering.UnitWithoutMeter{ServiceID: serviceID}
		if err := rows.Scan(&unit.UnitID, &unit.UnitCode, &unit.Floor,
			&unit.BuildingID, &unit.BuildingCode, &unit.BuildingName); err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

// Create inserts a meter. The partial unique index on active meters per
// unit/service surfaces duplicates as ErrDuplicateActiveMeter.
func (r *MeterRepository) Create(ctx context.Context, meter *metering.Meter) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	if meter == nil {
		return errors.New("meter repo: nil meter")
	}
	if err := meter.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO meters (id, tenant_id, unit_id, service_id, serial_number, source, active, installed_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		meter.ID, meter.TenantID, meter.UnitID, meter.ServiceID,
		meter.SerialNumber, meter.Source, meter.Active, meter.InstalledAt,
		meter.CreatedAt, meter.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return metering.ErrDuplicateActiveMeter
		}
		return err
	}
	return nil
}

// Update rewrites mutable meter fields.
func (r *MeterRepository) Update(ctx context.Context, meter *metering.Meter) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	if meter == nil {
		return errors.New("meter repo: nil meter")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE meters
SET serial_number = $2, source = $3, updated_at = $4
WHERE id = $1`,
		meter.ID, meter.SerialNumber, meter.Source, meter.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return metering.ErrMeterNotFound
	}
	return nil
}

// Delete removes a meter. The readings foreign key surfaces recorded
// history as ErrMeterHasReadings.
func (r *MeterRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
DELETE FROM meters
WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return metering.ErrMeterHasReadings
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return metering.ErrMeterNotFound
	}
	return nil
}

// Deactivate marks a meter inactive.
func (r *MeterRepository) Deactivate(ctx context.Context, id string, removedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE meters
SET active = FALSE, removed_at = $2, updated_at = $2
WHERE id = $1 AND active`, id, removedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return metering.ErrMeterNotFound
	}
	return nil
}

func scanMeter(row *sql.Row) (*metering.Meter, error) {
	var (
		m         metering.Meter
		serial    sql.NullString
		removedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.TenantID, &m.UnitID, &m.ServiceID, &serial, &m.Source,
		&m.Active, &m.InstalledAt, &removedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.SerialNumber = serial.String
	if removedAt.Valid {
		t := removedAt.Time
		m.RemovedAt = &t
	}
	return &m, nil
}

func collectMeters(rows *sql.Rows) ([]metering.Meter, error) {
	defer rows.Close()
	var out []metering.Meter
	for rows.Next() {
		var (
			m         metering.Meter
			serial    sql.NullString
			removedAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.UnitID, &m.ServiceID, &serial, &m.Source,
			&m.Active, &m.InstalledAt, &removedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.SerialNumber = serial.String
		if removedAt.Valid {
			t := removedAt.Time
			m.RemovedAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
