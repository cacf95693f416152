package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/domain/accessrequests"
)

type AccessRequestsRepo struct {
	db *sql.DB
}

func NewAccessRequestsRepo(db *sql.DB) *AccessRequestsRepo {
	return &AccessRequestsRepo{db: db}
}

const requestColumns = `
	id, requester_id, patient_id, hospital_id,
	request_type, reason, requested_data,
	status, response_reason,
	created_at, updated_at, expires_at, resolved_at`

// UpsertPending se apoya en el índice parcial access_requests_one_pending.
// Primero vence el pending del par si ya pasó su expiresAt: ese nunca se refresca.
// xmax distinto de 0 indica que la fila ya existía (rama DO UPDATE).
func (r *AccessRequestsRepo) UpsertPending(ctx context.Context, in accessrequests.Request) (accessrequests.Request, bool, error) {
	var refreshed bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE access_requests
			SET status = 'expired', updated_at = $3
			WHERE requester_id = $1
			  AND patient_id = $2
			  AND status = 'pending'
			  AND expires_at <= $3
		`, in.RequesterID, in.PatientID, in.CreatedAt); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO access_requests (`+requestColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (requester_id, patient_id) WHERE status = 'pending'
			DO UPDATE SET
				hospital_id    = EXCLUDED.hospital_id,
				request_type   = EXCLUDED.request_type,
				reason         = EXCLUDED.reason,
				requested_data = EXCLUDED.requested_data,
				updated_at     = EXCLUDED.updated_at,
				expires_at     = EXCLUDED.expires_at
			RETURNING id, created_at, (xmax::text <> '0')
		`,
			in.ID,
			in.RequesterID,
			in.PatientID,
			in.HospitalID,
			string(in.RequestType),
			in.Reason,
			scopesToTextArray(in.RequestedData),
			string(accessrequests.StatusPending),
			in.ResponseReason,
			in.CreatedAt,
			in.UpdatedAt,
			in.ExpiresAt,
			toNullTime(in.ResolvedAt),
		)
		return row.Scan(&in.ID, &in.CreatedAt, &refreshed)
	})
	if err != nil {
		return accessrequests.Request{}, false, err
	}
	in.Status = accessrequests.StatusPending
	return in, refreshed, nil
}

func (r *AccessRequestsRepo) GetByID(ctx context.Context, id string) (accessrequests.Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return accessrequests.Request{}, accessrequests.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return accessrequests.Request{}, accessrequests.ErrNotFound
	}
	return req, err
}

// Transition: UPDATE condicional sobre status = 'pending'. Si no toca filas
// distingue inexistente (NotFound) de ya resuelto (Conflict).
func (r *AccessRequestsRepo) Transition(ctx context.Context, id string, to accessrequests.Status, at time.Time, responseReason string) error {
	var resolvedAt *time.Time
	if to != accessrequests.StatusExpired {
		resolvedAt = &at
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status = $2,
			response_reason = $3,
			updated_at = $4,
			resolved_at = $5
		WHERE id = $1 AND status = 'pending'
	`, id, string(to), responseReason, at, toNullTime(resolvedAt))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM access_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return accessrequests.ErrNotFound
	}
	return accessrequests.ErrConflict
}

func (r *AccessRequestsRepo) Revert(ctx context.Context, id string, from accessrequests.Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status = 'pending',
			response_reason = '',
			updated_at = $3,
			resolved_at = NULL
		WHERE id = $1 AND status = $2
	`, id, string(from), at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return accessrequests.ErrConflict
}

func (r *AccessRequestsRepo) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *AccessRequestsRepo) ListPendingByPatient(ctx context.Context, patientID string, now time.Time) ([]accessrequests.Request, error) {
	return r.list(ctx, `patient_id = $1 AND status = 'pending' AND expires_at > $2`, strings.TrimSpace(patientID), now)
}

func (r *AccessRequestsRepo) ListByRequester(ctx context.Context, requesterID string) ([]accessrequests.Request, error) {
	return r.list(ctx, `requester_id = $1`, strings.TrimSpace(requesterID))
}

func (r *AccessRequestsRepo) list(ctx context.Context, where string, args ...any) ([]accessrequests.Request, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM access_requests
		WHERE `+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]accessrequests.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (accessrequests.Request, error) {
	var req accessrequests.Request
	var reqType, status string
	var data []string
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.PatientID,
		&req.HospitalID,
		&reqType,
		&req.Reason,
		textArray(&data),
		&status,
		&req.ResponseReason,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.ExpiresAt,
		&resolvedAt,
	); err != nil {
		return accessrequests.Request{}, err
	}

	req.RequestType = accessrequests.RequestType(reqType)
	req.Status = accessrequests.Status(status)
	req.RequestedData = make([]accessgrants.Scope, 0, len(data))
	for _, d := range data {
		req.RequestedData = append(req.RequestedData, accessgrants.Scope(d))
	}
	req.ResolvedAt = fromNullTime(resolvedAt)
	return req, nil
}
