package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"patient-passport-access/internal/domain/otp"
)

type OTPRepo struct {
	db *sql.DB
}

func NewOTPRepo(db *sql.DB) *OTPRepo {
	return &OTPRepo{db: db}
}

const otpColumns = `
	id, requester_id, patient_id, code_hash,
	issued_at, expires_at, consumed_at, attempt_count`

// IssueIfNone toma un advisory lock del par: dos requestOTP concurrentes
// nunca dejan dos códigos activos.
func (r *OTPRepo) IssueIfNone(ctx context.Context, c otp.Code, now time.Time) (otp.Code, bool, error) {
	var (
		stored   otp.Code
		existing bool
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockPair(ctx, tx, "otp", c.RequesterID, c.PatientID); err != nil {
			return err
		}

		cur, err := scanCode(tx.QueryRowContext(ctx, activeCodeQuery, c.RequesterID, c.PatientID, now))
		switch {
		case err == nil:
			stored, existing = cur, true
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO otp_codes (`+otpColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			c.ID,
			c.RequesterID,
			c.PatientID,
			c.CodeHash,
			c.IssuedAt,
			c.ExpiresAt,
			toNullTime(c.ConsumedAt),
			c.AttemptCount,
		); err != nil {
			return err
		}
		stored = c
		return nil
	})
	if err != nil {
		return otp.Code{}, false, err
	}
	return stored, existing, nil
}

const activeCodeQuery = `
	SELECT ` + otpColumns + `
	FROM otp_codes
	WHERE requester_id = $1
	  AND patient_id = $2
	  AND consumed_at IS NULL
	  AND expires_at > $3
	ORDER BY issued_at DESC
	LIMIT 1`

func (r *OTPRepo) Active(ctx context.Context, requesterID, patientID string, now time.Time) (otp.Code, error) {
	c, err := scanCode(r.db.QueryRowContext(ctx, activeCodeQuery, requesterID, patientID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return otp.Code{}, otp.ErrNotFound
	}
	return c, err
}

// ReserveAttempt es un único UPDATE condicional: el tope no se puede pasar
// aunque lleguen verificaciones en paralelo.
func (r *OTPRepo) ReserveAttempt(ctx context.Context, id string, max int, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_codes
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		  AND consumed_at IS NULL
		  AND expires_at > $3
		  AND attempt_count < $2
		RETURNING attempt_count
	`, id, max, now).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// sin fila: distinguir bloqueado de no activo (solo cambia el detalle de auditoría)
	var locked bool
	err = r.db.QueryRowContext(ctx, `
		SELECT attempt_count >= $2
		FROM otp_codes
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $3
	`, id, max, now).Scan(&locked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, otp.ErrNotFound
	case err != nil:
		return 0, err
	case locked:
		return max, otp.ErrLocked
	}
	return 0, otp.ErrNotFound
}

func (r *OTPRepo) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otp_codes
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2
	`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var consumed bool
	err = r.db.QueryRowContext(ctx, `SELECT consumed_at IS NOT NULL FROM otp_codes WHERE id = $1`, id).Scan(&consumed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return otp.ErrNotFound
	case err != nil:
		return err
	case consumed:
		return otp.ErrConflict
	}
	return otp.ErrNotFound
}

func scanCode(row rowScanner) (otp.Code, error) {
	var c otp.Code
	var consumedAt sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.RequesterID,
		&c.PatientID,
		&c.CodeHash,
		&c.IssuedAt,
		&c.ExpiresAt,
		&consumedAt,
		&c.AttemptCount,
	); err != nil {
		return otp.Code{}, err
	}
	c.ConsumedAt = fromNullTime(consumedAt)
	return c, nil
}
