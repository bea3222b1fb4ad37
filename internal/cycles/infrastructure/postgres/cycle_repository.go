package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	cycles "qhome-metering/internal/cycles/domain"
)

const cycleColumns = `c.id, c.tenant_id, c.name, c.service_id, COALESCE(s.code, ''), c.period_from, c.period_to, c.status, c.created_by, c.created_at, c.updated_at`

const cycleFrom = `
FROM reading_cycles c
LEFT JOIN services s ON s.id = c.service_id`

// CycleRepository is a Postgres implementation of the cycle store.
type CycleRepository struct {
	db *sql.DB
}

// NewCycleRepository constructs a repository.
func NewCycleRepository(db *sql.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

// Get loads one cycle, nil when absent.
func (r *CycleRepository) Get(ctx context.Context, id string) (*cycles.ReadingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	if id == "" {
		return nil, errors.New("cycle repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+cycleColumns+cycleFrom+`
WHERE c.id = $1`, id)
	return scanCycle(row)
}

// List returns all cycles, newest period first.
func (r *CycleRepository) List(ctx context.Context) ([]cycles.ReadingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+cycleColumns+cycleFrom+`
ORDER BY c.period_from DESC, c.id`)
	if err != nil {
		return nil, err
	}
	return collectCycles(rows)
}

// ListByStatus returns cycles with the given status.
func (r *CycleRepository) ListByStatus(ctx context.Context, status string) ([]cycles.ReadingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+cycleColumns+cycleFrom+`
WHERE c.status = $1
ORDER BY c.period_from DESC, c.id`, status)
	if err != nil {
		return nil, err
	}
	return collectCycles(rows)
}

// ListByPeriod returns cycles whose period overlaps [from, to].
func (r *CycleRepository) ListByPeriod(ctx context.Context, from, to time.Time) ([]cycles.ReadingCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cycle repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+cycleColumns+cycleFrom+`
WHERE c.period_from <= $2 AND c.period_to >= $1
ORDER BY c.period_from DESC, c.id`, from, to)
	if err != nil {
		return nil, err
	}
	return collectCycles(rows)
}

// Create inserts a cycle.
func (r *CycleRepository) Create(ctx context.Context, cycle *cycles.ReadingCycle) error {
	if r == nil || r.db == nil {
		return errors.New("cycle repo: nil db")
	}
	if cycle == nil {
		return errors.New("cycle repo: nil cycle")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO reading_cycles (id, tenant_id, name, service_id, period_from, period_to, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		cycle.ID, cycle.TenantID, cycle.Name, cycle.ServiceID,
		cycle.PeriodFrom, cycle.PeriodTo, cycle.Status, cycle.CreatedBy,
		cycle.CreatedAt, cycle.UpdatedAt)
	return err
}

// Update rewrites the mutable cycle fields.
func (r *CycleRepository) Update(ctx context.Context, cycle *cycles.ReadingCycle) error {
	if r == nil || r.db == nil {
		return errors.New("cycle repo: nil db")
	}
	if cycle == nil {
		return errors.New("cycle repo: nil cycle")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE reading_cycles
SET name = $2, period_from = $3, period_to = $4, status = $5, updated_at = $6
WHERE id = $1`,
		cycle.ID, cycle.Name, cycle.PeriodFrom, cycle.PeriodTo, cycle.Status, cycle.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, "cycle repo: cycle not found")
}

// UpdateStatus persists a status transition.
func (r *CycleRepository) UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("cycle repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE reading_cycles
SET status = $2, updated_at = $3
WHERE id = $1`, id, status, updatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, "cycle repo: cycle not found")
}

// Delete removes a cycle.
func (r *CycleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("cycle repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM reading_cycles WHERE id = $1`, id)
	return err
}

func requireRow(res sql.Result, msg string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New(msg)
	}
	return nil
}

func scanCycle(row *sql.Row) (*cycles.ReadingCycle, error) {
	var c cycles.ReadingCycle
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.ServiceID, &c.ServiceCode,
		&c.PeriodFrom, &c.PeriodTo, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func collectCycles(rows *sql.Rows) ([]cycles.ReadingCycle, error) {
	defer rows.Close()
	var out []cycles.ReadingCycle
	for rows.Next() {
		var c cycles.ReadingCycle
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.ServiceID, &c.ServiceCode,
			&c.PeriodFrom, &c.PeriodTo, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
