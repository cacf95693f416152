package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"patient-passport-access/internal/domain/patients"

	"github.com/jackc/pgx/v5/pgconn"
)

type PatientsRepo struct {
	db *sql.DB
}

func NewPatientsRepo(db *sql.DB) *PatientsRepo {
	return &PatientsRepo{db: db}
}

func (r *PatientsRepo) Create(ctx context.Context, p patients.Patient) error {
	passport := p.Passport
	if passport == nil {
		passport = patients.Passport{}
	}
	raw, err := json.Marshal(passport)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO patients (
			id, user_id, name, email, hospital_id,
			passport, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		p.ID,
		p.UserID,
		p.Name,
		p.Email,
		p.HospitalID,
		string(raw),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return patients.ErrConflict
	}
	return err
}

func (r *PatientsRepo) GetByID(ctx context.Context, id string) (patients.Patient, error) {
	return r.getOne(ctx, `id = $1`, strings.TrimSpace(id))
}

func (r *PatientsRepo) GetByUserID(ctx context.Context, userID string) (patients.Patient, error) {
	return r.getOne(ctx, `user_id = $1`, strings.TrimSpace(userID))
}

func (r *PatientsRepo) getOne(ctx context.Context, where, arg string) (patients.Patient, error) {
	if arg == "" {
		return patients.Patient{}, patients.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT
			id, user_id, name, email, hospital_id,
			passport, created_at, updated_at
		FROM patients
		WHERE `+where, arg)

	var p patients.Patient
	var raw []byte
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Email,
		&p.HospitalID,
		&raw,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return patients.Patient{}, patients.ErrNotFound
		}
		return patients.Patient{}, err
	}

	p.Passport = patients.Passport{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Passport); err != nil {
			return patients.Patient{}, err
		}
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
