package accessgrants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"patient-passport-access/internal/domain/audit"
	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/platform/metrics"
	"patient-passport-access/internal/ports/auth"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("grant store unavailable")
)

// PatientDirectory evita importar el paquete patients (rompe ciclos).
// Paciente inexistente => un error que cumpla errors.Is(err, ErrNotFound).
type PatientDirectory interface {
	UserOf(ctx context.Context, patientID string) (string, error)
}

type Service struct {
	repo     Repository
	audits   *audit.Service
	patients PatientDirectory
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(repo Repository, audits *audit.Service, patients PatientDirectory, log logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		audits:   audits,
		patients: patients,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

type Decision struct {
	HasAccess bool
	Grant     *Grant
}

// AccessTypeFor mapea el origen del grant al accessType del audit log.
// Sin grant (o vía OTP) => regular.
func AccessTypeFor(via Via) audit.AccessType {
	switch via {
	case ViaConsent:
		return audit.AccessConsent
	case ViaEmergency:
		return audit.AccessEmergency
	default:
		return audit.AccessRegular
	}
}

// CheckAccess es la autoridad antes de servir datos del paciente.
// Siempre audita (también las denegaciones). Falla cerrado: error de store o de audit => deny.
func (s *Service) CheckAccess(ctx context.Context, caller auth.Caller, patientID string) (Decision, error) {
	patientID = strings.TrimSpace(patientID)
	if strings.TrimSpace(caller.UserID) == "" || patientID == "" {
		return Decision{}, fmt.Errorf("%w: patientId required", ErrInvalidInput)
	}

	now := s.now()
	var (
		grant    *Grant
		storeErr error
		details  = "access check: no active grant"
	)

	g, err := s.repo.FindActive(ctx, caller.UserID, patientID, now)
	switch {
	case err == nil && g.ActiveAt(now):
		grant = &g
		details = fmt.Sprintf("access check: granted via %s", g.GrantedVia)
	case err == nil, errors.Is(err, ErrNotFound):
		// sin grant vigente
	default:
		storeErr = err
		details = "access check: grant store unavailable"
		s.log.Error("grant lookup failed", map[string]any{
			"user_id":    caller.UserID,
			"patient_id": patientID,
			"err":        err,
		})
	}

	entry := audit.Entry{
		UserID:     caller.UserID,
		PatientID:  patientID,
		AccessType: audit.AccessRegular,
		Action:     audit.ActionView,
		Outcome:    audit.OutcomeDenied,
		Details:    details,
		IPAddress:  caller.IPAddress,
		UserAgent:  caller.UserAgent,
	}
	if grant != nil {
		entry.AccessType = AccessTypeFor(grant.GrantedVia)
		entry.Outcome = audit.OutcomeAllowed
	}

	if _, err := s.audits.Record(ctx, entry); err != nil {
		s.log.Error("access check audit failed, denying", map[string]any{
			"user_id":    caller.UserID,
			"patient_id": patientID,
			"err":        err,
		})
		s.metrics.AccessDecision(false, "")
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if storeErr != nil {
		s.metrics.AccessDecision(false, "")
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, storeErr)
	}
	if grant == nil {
		s.metrics.AccessDecision(false, "")
		return Decision{HasAccess: false}, nil
	}

	s.metrics.AccessDecision(true, string(grant.GrantedVia))
	return Decision{HasAccess: true, Grant: grant}, nil
}

type IssueInput struct {
	GranteeID string
	PatientID string
	Via       Via
	Scopes    []Scope // vacío => todas las secciones
	SourceID  string
	TTL       time.Duration

	IPAddress string
	UserAgent string
}

// Issue crea el grant y reemplaza (no acumula) el activo del par.
// El audit va primero: si no se puede auditar, no hay grant.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Grant, error) {
	granteeID := strings.TrimSpace(in.GranteeID)
	patientID := strings.TrimSpace(in.PatientID)
	if granteeID == "" || patientID == "" {
		return Grant{}, fmt.Errorf("%w: grantee and patient required", ErrInvalidInput)
	}
	switch in.Via {
	case ViaOTP, ViaConsent, ViaEmergency:
	default:
		return Grant{}, fmt.Errorf("%w: grantedVia", ErrInvalidInput)
	}
	if in.TTL <= 0 {
		return Grant{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}

	scopes := AllScopes()
	if len(in.Scopes) > 0 {
		var err error
		scopes, err = NormalizeScopes(in.Scopes)
		if err != nil {
			return Grant{}, err
		}
		if len(scopes) == 0 {
			scopes = AllScopes()
		}
	}

	now := s.now()
	g := Grant{
		ID:         uuid.NewString(),
		GranteeID:  granteeID,
		PatientID:  patientID,
		GrantedVia: in.Via,
		Scopes:     scopes,
		SourceID:   strings.TrimSpace(in.SourceID),
		GrantedAt:  now,
		ExpiresAt:  now.Add(in.TTL),
	}

	entry := audit.Entry{
		UserID:     granteeID,
		PatientID:  patientID,
		AccessType: AccessTypeFor(in.Via),
		Action:     audit.ActionCreate,
		Outcome:    audit.OutcomeSuccess,
		Details:    fmt.Sprintf("grant %s issued via %s until %s", g.ID, g.GrantedVia, g.ExpiresAt.UTC().Format(time.RFC3339)),
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	}
	if _, err := s.audits.Record(ctx, entry); err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.repo.Supersede(ctx, g, now); err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Details = fmt.Sprintf("grant %s via %s not persisted", g.ID, g.GrantedVia)
		s.audits.RecordBestEffort(ctx, entry)
		return Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.log.Info("access grant issued", map[string]any{
		"grant_id":    g.ID,
		"grantee_id":  g.GranteeID,
		"patient_id":  g.PatientID,
		"granted_via": string(g.GrantedVia),
		"expires_at":  g.ExpiresAt,
	})
	return g, nil
}

// Revoke: el paciente dueño corta el grant antes de que expire.
func (s *Service) Revoke(ctx context.Context, caller auth.Caller, grantID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" || strings.TrimSpace(caller.UserID) == "" {
		return Grant{}, ErrInvalidInput
	}

	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return Grant{}, s.lookupErr(err)
	}

	if err := s.ensureOwner(ctx, g.PatientID, caller.UserID); err != nil {
		return Grant{}, err
	}

	// Idempotente
	if g.Revoked {
		return g, nil
	}

	now := s.now()
	if err := s.repo.Revoke(ctx, g.ID, now); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// otro request lo revocó primero
		if g, err = s.repo.GetByID(ctx, grantID); err != nil {
			return Grant{}, s.lookupErr(err)
		}
		return g, nil
	}

	g.Revoked = true
	g.RevokedAt = &now

	s.audits.RecordBestEffort(ctx, audit.Entry{
		UserID:     caller.UserID,
		PatientID:  g.PatientID,
		AccessType: AccessTypeFor(g.GrantedVia),
		Action:     audit.ActionUpdate,
		Outcome:    audit.OutcomeSuccess,
		Details:    fmt.Sprintf("grant %s for %s revoked by patient", g.ID, g.GranteeID),
		IPAddress:  caller.IPAddress,
		UserAgent:  caller.UserAgent,
	})
	return g, nil
}

func (s *Service) ListByGrantee(ctx context.Context, granteeID string) ([]Grant, error) {
	granteeID = strings.TrimSpace(granteeID)
	if granteeID == "" {
		return nil, ErrInvalidInput
	}
	items, err := s.repo.ListByGrantee(ctx, granteeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return items, nil
}

// ListByPatient solo para el paciente dueño.
func (s *Service) ListByPatient(ctx context.Context, caller auth.Caller, patientID string) ([]Grant, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureOwner(ctx, patientID, caller.UserID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return items, nil
}

// HasScope valida si el grant incluye un scope.
func HasScope(g Grant, scope Scope) bool {
	for _, s := range g.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// NormalizeScopes valida estrictamente y deduplica (manteniendo el orden).
func NormalizeScopes(in []Scope) ([]Scope, error) {
	allowed := map[Scope]struct{}{}
	for _, s := range AllScopes() {
		allowed[s] = struct{}{}
	}

	seen := map[Scope]struct{}{}
	out := make([]Scope, 0, len(in))

	for _, raw := range in {
		s := Scope(strings.ToLower(strings.TrimSpace(string(raw))))
		if s == "" {
			continue
		}
		if _, ok := allowed[s]; !ok {
			return nil, fmt.Errorf("%w: unknown data scope %q", ErrInvalidInput, raw)
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	return out, nil
}

func (s *Service) ensureOwner(ctx context.Context, patientID, userID string) error {
	if s.patients == nil {
		return ErrForbidden
	}
	owner, err := s.patients.UserOf(ctx, patientID)
	if err != nil {
		return s.lookupErr(err)
	}
	if strings.TrimSpace(owner) == "" {
		return ErrNotFound
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) lookupErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
