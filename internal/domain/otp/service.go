package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/domain/audit"
	"patient-passport-access/internal/domain/patients"
	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/platform/metrics"
	"patient-passport-access/internal/ports/auth"
	"patient-passport-access/internal/ports/notify"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrInvalidCode  = errors.New("invalid or expired code")
	ErrConflict     = errors.New("code already used")
	ErrLocked       = errors.New("code locked")
	ErrUnavailable  = errors.New("otp store unavailable")
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

type GrantIssuer interface {
	Issue(ctx context.Context, in accessgrants.IssueInput) (accessgrants.Grant, error)
}

type PatientDirectory interface {
	UserOf(ctx context.Context, patientID string) (string, error)
	Contact(ctx context.Context, patientID string) (patients.Contact, error)
}

type Deps struct {
	Grants   GrantIssuer
	Audits   *audit.Service
	Patients PatientDirectory
	Mailer   notify.Mailer // opcional: sin mailer emailSent=false
	Log      logger.Logger
	Metrics  *metrics.Metrics
}

type Options struct {
	TTL         time.Duration
	MaxAttempts int
	GrantTTL    time.Duration
	BcryptCost  int
}

type Service struct {
	repo     Repository
	deps     Deps
	opts     Options
	log      logger.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewService(repo Repository, deps Deps, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.GrantTTL <= 0 {
		opts.GrantTTL = time.Hour
	}
	if opts.BcryptCost < bcrypt.MinCost || opts.BcryptCost > bcrypt.MaxCost {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		deps:     deps,
		opts:     opts,
		log:      log,
		now:      time.Now,
		generate: generateCode,
	}
}

type RequestResult struct {
	ExistingOTP bool
	EmailSent   bool
	ExpiresAt   time.Time
}

// RequestOTP emite un código para el par salvo que ya haya uno activo.
// El envío de email no bloquea: si falla, el código sigue siendo válido.
func (s *Service) RequestOTP(ctx context.Context, caller auth.Caller, patientID string) (RequestResult, error) {
	patientID, err := s.authorize(ctx, caller, patientID)
	if err != nil {
		return RequestResult{}, err
	}

	contact, err := s.deps.Patients.Contact(ctx, patientID)
	if err != nil {
		return RequestResult{}, ErrNotFound
	}

	now := s.now()

	// camino rápido: evita el costo de bcrypt si ya hay código
	if cur, err := s.repo.Active(ctx, caller.UserID, patientID, now); err == nil {
		s.deps.Metrics.OTPRequested(true)
		return RequestResult{ExistingOTP: true, ExpiresAt: cur.ExpiresAt}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return RequestResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	plain, err := s.generate()
	if err != nil {
		return RequestResult{}, fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.opts.BcryptCost)
	if err != nil {
		return RequestResult{}, fmt.Errorf("hash otp: %w", err)
	}

	stored, existing, err := s.repo.IssueIfNone(ctx, Code{
		ID:          uuid.NewString(),
		RequesterID: caller.UserID,
		PatientID:   patientID,
		CodeHash:    string(hash),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.opts.TTL),
	}, now)
	if err != nil {
		return RequestResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.deps.Metrics.OTPRequested(existing)
	if existing {
		return RequestResult{ExistingOTP: true, ExpiresAt: stored.ExpiresAt}, nil
	}

	s.deps.Audits.RecordBestEffort(ctx, audit.Entry{
		UserID:     caller.UserID,
		PatientID:  patientID,
		AccessType: audit.AccessRegular,
		Action:     audit.ActionCreate,
		Outcome:    audit.OutcomeSuccess,
		Details:    fmt.Sprintf("otp %s issued until %s", stored.ID, stored.ExpiresAt.UTC().Format(time.RFC3339)),
		IPAddress:  caller.IPAddress,
		UserAgent:  caller.UserAgent,
	})

	return RequestResult{
		EmailSent: s.sendCode(ctx, contact, plain, stored),
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// VerifyOTP consume el código y emite un grant vía otp.
// Falta, expirado, bloqueado o distinto responden todos ErrInvalidCode.
func (s *Service) VerifyOTP(ctx context.Context, caller auth.Caller, patientID, code string) (accessgrants.Grant, error) {
	patientID, err := s.authorize(ctx, caller, patientID)
	if err != nil {
		return accessgrants.Grant{}, err
	}
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return accessgrants.Grant{}, fmt.Errorf("%w: code must be exactly 6 digits", ErrInvalidInput)
	}

	now := s.now()
	c, err := s.repo.Active(ctx, caller.UserID, patientID, now)
	switch {
	case errors.Is(err, ErrNotFound):
		return accessgrants.Grant{}, s.rejectCode(ctx, caller, patientID, "no active code")
	case err != nil:
		s.auditVerify(ctx, caller, patientID, audit.OutcomeFailure, "otp store unavailable")
		return accessgrants.Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// el intento se reserva antes de comparar: N verificaciones concurrentes
	// nunca comparan más de MaxAttempts veces
	attempt, err := s.repo.ReserveAttempt(ctx, c.ID, s.opts.MaxAttempts, now)
	switch {
	case errors.Is(err, ErrLocked):
		return accessgrants.Grant{}, s.rejectCode(ctx, caller, patientID, fmt.Sprintf("otp %s locked", c.ID))
	case errors.Is(err, ErrNotFound):
		return accessgrants.Grant{}, s.rejectCode(ctx, caller, patientID, fmt.Sprintf("otp %s no longer active", c.ID))
	case err != nil:
		s.auditVerify(ctx, caller, patientID, audit.OutcomeFailure, "otp store unavailable")
		return accessgrants.Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
		return accessgrants.Grant{}, s.rejectCode(ctx, caller, patientID,
			fmt.Sprintf("otp %s mismatch (attempt %d of %d)", c.ID, attempt, s.opts.MaxAttempts))
	}

	if err := s.repo.Consume(ctx, c.ID, now); err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			s.deps.Metrics.OTPVerified(false)
			s.auditVerify(ctx, caller, patientID, audit.OutcomeFailure, fmt.Sprintf("otp %s already consumed", c.ID))
			return accessgrants.Grant{}, ErrConflict
		case errors.Is(err, ErrNotFound):
			return accessgrants.Grant{}, s.rejectCode(ctx, caller, patientID, fmt.Sprintf("otp %s expired before consume", c.ID))
		}
		return accessgrants.Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g, err := s.deps.Grants.Issue(ctx, accessgrants.IssueInput{
		GranteeID: caller.UserID,
		PatientID: patientID,
		Via:       accessgrants.ViaOTP,
		SourceID:  c.ID,
		TTL:       s.opts.GrantTTL,
		IPAddress: caller.IPAddress,
		UserAgent: caller.UserAgent,
	})
	if err != nil {
		s.log.Error("otp grant issue failed", map[string]any{"otp_id": c.ID, "err": err})
		return accessgrants.Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.deps.Metrics.OTPVerified(true)
	s.auditVerify(ctx, caller, patientID, audit.OutcomeSuccess, fmt.Sprintf("otp %s verified, grant %s", c.ID, g.ID))
	return g, nil
}

// authorize: solo roles no-paciente, y nunca sobre el propio pasaporte.
func (s *Service) authorize(ctx context.Context, caller auth.Caller, patientID string) (string, error) {
	if strings.TrimSpace(caller.UserID) == "" || caller.Role == "" || caller.Is(auth.RolePatient) {
		return "", ErrForbidden
	}
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return "", fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	owner, err := s.deps.Patients.UserOf(ctx, patientID)
	if err != nil {
		return "", ErrNotFound
	}
	if owner == caller.UserID {
		return "", ErrForbidden
	}
	return patientID, nil
}

func (s *Service) rejectCode(ctx context.Context, caller auth.Caller, patientID, details string) error {
	s.deps.Metrics.OTPVerified(false)
	s.auditVerify(ctx, caller, patientID, audit.OutcomeFailure, details)
	return ErrInvalidCode
}

func (s *Service) auditVerify(ctx context.Context, caller auth.Caller, patientID string, outcome audit.Outcome, details string) {
	s.deps.Audits.RecordBestEffort(ctx, audit.Entry{
		UserID:     caller.UserID,
		PatientID:  patientID,
		AccessType: audit.AccessRegular,
		Action:     audit.ActionView,
		Outcome:    outcome,
		Details:    "otp verification: " + details,
		IPAddress:  caller.IPAddress,
		UserAgent:  caller.UserAgent,
	})
}

func (s *Service) sendCode(ctx context.Context, to patients.Contact, plain string, c Code) bool {
	if s.deps.Mailer == nil || strings.TrimSpace(to.Email) == "" {
		s.log.Warn("otp email not sent: no mailer or address", map[string]any{"otp_id": c.ID})
		return false
	}
	err := s.deps.Mailer.Send(ctx, notify.Email{
		To:       to.Email,
		Template: notify.TemplateOTPCode,
		Data: map[string]any{
			"name":       to.Name,
			"code":       plain,
			"minutes":    int(s.opts.TTL / time.Minute),
			"expires_at": c.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		s.log.Warn("otp email delivery failed", map[string]any{
			"otp_id":     c.ID,
			"patient_id": c.PatientID,
			"err":        err,
		})
		return false
	}
	return true
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
