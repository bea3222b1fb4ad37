package postgres

import (
	"context"
	"database/sql"
	"errors"

	masterdata "qhome-metering/internal/masterdata/domain"
)

// ResidentRepository is a Postgres implementation for residents.
type ResidentRepository struct {
	db *sql.DB
}

// NewResidentRepository constructs a repository.
func NewResidentRepository(db *sql.DB) *ResidentRepository {
	return &ResidentRepository{db: db}
}

const residentColumns = "id, tenant_id, unit_id, full_name, phone, is_primary, moved_in_at, moved_out_at"

// PrimaryByUnit returns the current primary resident, nil when the unit
// has none.
func (r *ResidentRepository) PrimaryByUnit(ctx context.Context, unitID string) (*masterdata.Resident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("resident repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("resident repo: empty unit id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+residentColumns+`
FROM residents
WHERE unit_id = $1 AND is_primary AND moved_out_at IS NULL
LIMIT 1`, unitID)
	res, err := scanResident(row)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListByUnit returns all current residents of a unit.
func (r *ResidentRepository) ListByUnit(ctx context.Context, unitID string) ([]masterdata.Resident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("resident repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("resident repo: empty unit id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+residentColumns+`
FROM residents
WHERE unit_id = $1 AND moved_out_at IS NULL
ORDER BY is_primary DESC, full_name`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var residents []masterdata.Resident
	for rows.Next() {
		var res masterdata.Resident
		var phone sql.NullString
		var movedOut sql.NullTime
		if err := rows.Scan(&res.ID, &res.TenantID, &res.UnitID, &res.FullName, &phone, &res.Primary, &res.MovedInAt, &movedOut); err != nil {
			return nil, err
		}
		res.Phone = phone.String
		if movedOut.Valid {
			t := movedOut.Time
			res.MovedOutAt = &t
		}
		residents = append(residents, res)
	}
	return residents, rows.Err()
}

// Save upserts a resident.
func (r *ResidentRepository) Save(ctx context.Context, resident *masterdata.Resident) error {
	if r == nil || r.db == nil {
		return errors.New("resident repo: nil db")
	}
	if resident == nil {
		return errors.New("resident repo: nil resident")
	}
	if err := resident.Validate(); err != nil {
		return err
	}
	var movedOut any
	if resident.MovedOutAt != nil {
		movedOut = *resident.MovedOutAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO residents (id, tenant_id, unit_id, full_name, phone, is_primary, moved_in_at, moved_out_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id)
DO UPDATE SET full_name = EXCLUDED.full_name, phone = EXCLUDED.phone,
	is_primary = EXCLUDED.is_primary, moved_out_at = EXCLUDED.moved_out_at`,
		resident.ID, resident.TenantID, resident.UnitID, resident.FullName, resident.Phone, resident.Primary, resident.MovedInAt, movedOut)
	return err
}

func scanResident(row *sql.Row) (*masterdata.Resident, error) {
	var res masterdata.Resident
	var phone sql.NullString
	var movedOut sql.NullTime
	if err := row.Scan(&res.ID, &res.TenantID, &res.UnitID, &res.FullName, &phone, &res.Primary, &res.MovedInAt, &movedOut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	res.Phone = phone.String
	if movedOut.Valid {
		t := movedOut.Time
		res.MovedOutAt = &t
	}
	return &res, nil
}
