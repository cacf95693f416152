package postgres

import (
	"context"
	"database/sql"

	"patient-passport-access/internal/domain/emergency"
)

type EmergencyRepo struct {
	db *sql.DB
}

func NewEmergencyRepo(db *sql.DB) *EmergencyRepo {
	return &EmergencyRepo{db: db}
}

const overrideColumns = `
	id, doctor_id, patient_id, justification,
	ip_address, user_agent, access_time`

func (r *EmergencyRepo) Create(ctx context.Context, o emergency.Override) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emergency_overrides (`+overrideColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		o.ID,
		o.DoctorID,
		o.PatientID,
		o.Justification,
		o.IPAddress,
		o.UserAgent,
		o.AccessTime,
	)
	return err
}

func (r *EmergencyRepo) ListByDoctor(ctx context.Context, doctorID string, offset, limit int) ([]emergency.Override, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emergency_overrides WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	items, err := r.list(ctx, `
		SELECT `+overrideColumns+`
		FROM emergency_overrides
		WHERE doctor_id = $1
		ORDER BY access_time DESC
		OFFSET $2 LIMIT $3
	`, doctorID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *EmergencyRepo) ListByPatient(ctx context.Context, patientID string) ([]emergency.Override, error) {
	return r.list(ctx, `
		SELECT `+overrideColumns+`
		FROM emergency_overrides
		WHERE patient_id = $1
		ORDER BY access_time DESC
	`, patientID)
}

func (r *EmergencyRepo) list(ctx context.Context, query string, args ...any) ([]emergency.Override, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]emergency.Override, 0)
	for rows.Next() {
		var o emergency.Override
		if err := rows.Scan(
			&o.ID,
			&o.DoctorID,
			&o.PatientID,
			&o.Justification,
			&o.IPAddress,
			&o.UserAgent,
			&o.AccessTime,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
