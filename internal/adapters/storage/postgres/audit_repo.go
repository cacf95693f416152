package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"patient-passport-access/internal/domain/audit"
)

// AuditRepo es append-only: no hay UPDATE ni DELETE sobre audit_log.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, user_id, patient_id,
			access_type, action, outcome, details,
			ip_address, user_agent, access_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		e.ID,
		e.UserID,
		e.PatientID,
		string(e.AccessType),
		string(e.Action),
		string(e.Outcome),
		e.Details,
		e.IPAddress,
		e.UserAgent,
		e.AccessTime,
	)
	return err
}

func (r *AuditRepo) Query(ctx context.Context, f audit.Filter, offset, limit int) ([]audit.Entry, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, offset, limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, user_id, patient_id,
			access_type, action, outcome, details,
			ip_address, user_agent, access_time
		FROM audit_log`+where+`
		ORDER BY access_time DESC
		OFFSET $`+fmt.Sprint(n+1)+` LIMIT $`+fmt.Sprint(n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var accessType, action, outcome string
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.PatientID,
			&accessType,
			&action,
			&outcome,
			&e.Details,
			&e.IPAddress,
			&e.UserAgent,
			&e.AccessTime,
		); err != nil {
			return nil, 0, err
		}
		e.AccessType = audit.AccessType(accessType)
		e.Action = audit.Action(action)
		e.Outcome = audit.Outcome(outcome)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func auditWhere(f audit.Filter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.StartDate != nil {
		add("access_time >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("access_time <= $%d", *f.EndDate)
	}
	if f.DoctorID != "" {
		add("user_id = $%d", f.DoctorID)
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.AccessType != "" {
		add("access_type = $%d", string(f.AccessType))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
