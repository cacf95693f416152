package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
)

type AccessGrantsRepo struct {
	db *sql.DB
}

func NewAccessGrantsRepo(db *sql.DB) *AccessGrantsRepo {
	return &AccessGrantsRepo{db: db}
}

const grantColumns = `
	id, grantee_id, patient_id,
	granted_via, scopes, source_id,
	granted_at, expires_at, revoked, revoked_at`

// Supersede: lock del par + revocación de los vivos + insert, en una transacción.
// El índice parcial access_grants_one_live respalda el invariante.
func (r *AccessGrantsRepo) Supersede(ctx context.Context, g accessgrants.Grant, now time.Time) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockPair(ctx, tx, "grant", g.GranteeID, g.PatientID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE access_grants
			SET revoked = TRUE, revoked_at = $3
			WHERE grantee_id = $1
			  AND patient_id = $2
			  AND NOT revoked
		`, g.GranteeID, g.PatientID, now); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO access_grants (`+grantColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			g.ID,
			g.GranteeID,
			g.PatientID,
			string(g.GrantedVia),
			scopesToTextArray(g.Scopes),
			g.SourceID,
			g.GrantedAt,
			g.ExpiresAt,
			g.Revoked,
			toNullTime(g.RevokedAt),
		)
		return err
	})
}

func (r *AccessGrantsRepo) GetByID(ctx context.Context, id string) (accessgrants.Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM access_grants WHERE id = $1`, id)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}
	return g, err
}

func (r *AccessGrantsRepo) FindActive(ctx context.Context, granteeID, patientID string, now time.Time) (accessgrants.Grant, error) {
	granteeID = strings.TrimSpace(granteeID)
	patientID = strings.TrimSpace(patientID)
	if granteeID == "" || patientID == "" {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM access_grants
		WHERE grantee_id = $1
		  AND patient_id = $2
		  AND NOT revoked
		  AND expires_at > $3
		ORDER BY granted_at DESC
		LIMIT 1
	`, granteeID, patientID, now)

	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}
	return g, err
}

func (r *AccessGrantsRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_grants
		SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND NOT revoked
	`, id, at)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return accessgrants.ErrNotFound
	}
	return nil
}

func (r *AccessGrantsRepo) ListByGrantee(ctx context.Context, granteeID string) ([]accessgrants.Grant, error) {
	return r.list(ctx, `grantee_id = $1`, strings.TrimSpace(granteeID))
}

func (r *AccessGrantsRepo) ListByPatient(ctx context.Context, patientID string) ([]accessgrants.Grant, error) {
	return r.list(ctx, `patient_id = $1`, strings.TrimSpace(patientID))
}

func (r *AccessGrantsRepo) list(ctx context.Context, where string, arg string) ([]accessgrants.Grant, error) {
	if arg == "" {
		return []accessgrants.Grant{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+grantColumns+`
		FROM access_grants
		WHERE `+where+`
		ORDER BY granted_at DESC
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]accessgrants.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (accessgrants.Grant, error) {
	var g accessgrants.Grant
	var via string
	var scopes []string
	var revokedAt sql.NullTime

	if err := row.Scan(
		&g.ID,
		&g.GranteeID,
		&g.PatientID,
		&via,
		textArray(&scopes),
		&g.SourceID,
		&g.GrantedAt,
		&g.ExpiresAt,
		&g.Revoked,
		&revokedAt,
	); err != nil {
		return accessgrants.Grant{}, err
	}

	g.GrantedVia = accessgrants.Via(via)
	g.Scopes = textArrayToScopes(scopes)
	g.RevokedAt = fromNullTime(revokedAt)
	return g, nil
}

// helpers
func scopesToTextArray(in []accessgrants.Scope) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func textArrayToScopes(in []string) []accessgrants.Scope {
	if len(in) == 0 {
		return []accessgrants.Scope{}
	}
	out := make([]accessgrants.Scope, 0, len(in))
	for _, s := range in {
		out = append(out, accessgrants.Scope(s))
	}
	return out
}
