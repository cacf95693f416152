package accessrequests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/domain/audit"
	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/platform/metrics"
	"patient-passport-access/internal/ports/affiliations"
	"patient-passport-access/internal/ports/auth"
	"patient-passport-access/internal/ports/notify"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("access request not found")
	ErrConflict     = errors.New("access request already resolved")
	ErrExpired      = errors.New("access request expired")
	ErrUnavailable  = errors.New("access request store unavailable")
)

const (
	MaxReasonLength = 500
	MaxExpiryHours  = 168
)

type GrantIssuer interface {
	Issue(ctx context.Context, in accessgrants.IssueInput) (accessgrants.Grant, error)
}

type PatientDirectory interface {
	UserOf(ctx context.Context, patientID string) (string, error)
	PatientIDOf(ctx context.Context, userID string) (string, error)
}

type Deps struct {
	Grants       GrantIssuer
	Audits       *audit.Service
	Patients     PatientDirectory
	Affiliations affiliations.Resolver // opcional
	Notifier     notify.Notifier       // opcional
	Log          logger.Logger
	Metrics      *metrics.Metrics
}

type Options struct {
	DefaultExpiryHours int
	ConsentGrantTTL    time.Duration
}

type Service struct {
	repo Repository
	deps Deps
	opts Options
	log  logger.Logger
	now  func() time.Time
}

func NewService(repo Repository, deps Deps, opts Options) *Service {
	if opts.DefaultExpiryHours <= 0 {
		opts.DefaultExpiryHours = 24
	}
	if opts.ConsentGrantTTL <= 0 {
		opts.ConsentGrantTTL = 24 * time.Hour
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo: repo,
		deps: deps,
		opts: opts,
		log:  log,
		now:  time.Now,
	}
}

type RequestInput struct {
	PatientID      string
	RequestType    string
	Reason         string
	RequestedData  []string
	ExpiresInHours int // 0 => default
}

// RequestAccess crea (o refresca) el pedido pending del doctor sobre el paciente.
// No crea grant: eso ocurre cuando el paciente aprueba.
func (s *Service) RequestAccess(ctx context.Context, caller auth.Caller, in RequestInput) (Request, error) {
	if !caller.Is(auth.RoleDoctor) {
		return Request{}, ErrForbidden
	}

	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		return Request{}, fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	reqType, ok := ParseRequestType(in.RequestType)
	if !ok {
		return Request{}, fmt.Errorf("%w: requestType must be view or update", ErrInvalidInput)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Request{}, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return Request{}, fmt.Errorf("%w: reason must be at most %d characters", ErrInvalidInput, MaxReasonLength)
	}

	raw := make([]accessgrants.Scope, 0, len(in.RequestedData))
	for _, d := range in.RequestedData {
		raw = append(raw, accessgrants.Scope(d))
	}
	scopes, err := accessgrants.NormalizeScopes(raw)
	if err != nil {
		return Request{}, fmt.Errorf("%w: requestedData contains an unknown data type", ErrInvalidInput)
	}
	if len(scopes) == 0 {
		return Request{}, fmt.Errorf("%w: requestedData must not be empty", ErrInvalidInput)
	}

	hours := in.ExpiresInHours
	if hours == 0 {
		hours = s.opts.DefaultExpiryHours
	}
	if hours < 1 || hours > MaxExpiryHours {
		return Request{}, fmt.Errorf("%w: expiresInHours must be between 1 and %d", ErrInvalidInput, MaxExpiryHours)
	}

	patientUserID, err := s.deps.Patients.UserOf(ctx, patientID)
	if err != nil {
		return Request{}, ErrNotFound
	}

	hospitalID, err := s.hospitalOf(ctx, caller)
	if err != nil {
		return Request{}, err
	}

	now := s.now()
	r := Request{
		ID:            uuid.NewString(),
		RequesterID:   caller.UserID,
		PatientID:     patientID,
		HospitalID:    hospitalID,
		RequestType:   reqType,
		Reason:        reason,
		RequestedData: scopes,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(hours) * time.Hour),
	}

	stored, refreshed, err := s.repo.UpsertPending(ctx, r)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	details := "access request created"
	if refreshed {
		details = "pending access request refreshed"
	}
	s.deps.Audits.RecordBestEffort(ctx, audit.Entry{
		UserID:     caller.UserID,
		PatientID:  patientID,
		AccessType: audit.AccessConsent,
		Action:     audit.ActionCreate,
		Outcome:    audit.OutcomeSuccess,
		Details:    fmt.Sprintf("%s: %s (%s)", details, stored.ID, stored.RequestType),
		IPAddress:  caller.IPAddress,
		UserAgent:  caller.UserAgent,
	})

	s.notify(ctx, notify.Notification{
		Kind:        notify.KindAccessRequested,
		RecipientID: patientUserID,
		PatientID:   patientID,
		ActorID:     caller.UserID,
		SubjectID:   stored.ID,
		Message:     "A doctor has requested access to your medical records",
		Data: map[string]string{
			"requestType": string(stored.RequestType),
			"expiresAt":   stored.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})

	return stored, nil
}

type Resolution struct {
	Request Request
	Grant   *accessgrants.Grant
}

// Resolve: el paciente dueño aprueba o deniega. Nunca sobreescribe un estado terminal.
func (s *Service) Resolve(ctx context.Context, caller auth.Caller, requestID, decision, reason string) (Resolution, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Resolution{}, fmt.Errorf("%w: requestId is required", ErrInvalidInput)
	}
	to, ok := parseDecision(decision)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: status must be approved or denied", ErrInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return Resolution{}, fmt.Errorf("%w: reason must be at most %d characters", ErrInvalidInput, MaxReasonLength)
	}

	r, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return Resolution{}, s.lookupErr(err)
	}

	owner, err := s.deps.Patients.UserOf(ctx, r.PatientID)
	if err != nil || owner != caller.UserID {
		return Resolution{}, ErrForbidden
	}

	if r.Status != StatusPending {
		return Resolution{}, ErrConflict
	}

	now := s.now()
	if !now.Before(r.ExpiresAt) {
		if err := s.repo.Transition(ctx, r.ID, StatusExpired, now, ""); err != nil && !errors.Is(err, ErrConflict) {
			s.log.Warn("lazy expiry failed", map[string]any{"request_id": r.ID, "err": err})
		}
		return Resolution{}, ErrExpired
	}

	// la transición reserva el request: dos aprobaciones concurrentes nunca emiten dos grants
	if err := s.repo.Transition(ctx, r.ID, to, now, reason); err != nil {
		if errors.Is(err, ErrConflict) {
			return Resolution{}, ErrConflict
		}
		return Resolution{}, s.lookupErr(err)
	}
	r.Status = to
	r.ResponseReason = reason
	r.UpdatedAt = now
	r.ResolvedAt = &now

	res := Resolution{Request: r}
	if to == StatusApproved {
		g, err := s.deps.Grants.Issue(ctx, accessgrants.IssueInput{
			GranteeID: r.RequesterID,
			PatientID: r.PatientID,
			Via:       accessgrants.ViaConsent,
			Scopes:    r.RequestedData,
			SourceID:  r.ID,
			TTL:       s.opts.ConsentGrantTTL,
		})
		if err != nil {
			// sin grant el request vuelve a pending: el paciente puede volver a aprobar
			s.log.Error("consent grant issue failed", map[string]any{"request_id": r.ID, "err": err})
			if rerr := s.repo.Revert(ctx, r.ID, StatusApproved, s.now()); rerr != nil {
				s.log.Error("consent approval revert failed", map[string]any{"request_id": r.ID, "err": rerr})
			}
			return Resolution{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		res.Grant = &g
	}

	s.deps.Audits.RecordBestEffort(ctx, audit.Entry{
		UserID:     caller.UserID,
		PatientID:  r.PatientID,
		AccessType: audit.AccessConsent,
		Action:     audit.ActionUpdate,
		Outcome:    audit.OutcomeSuccess,
		Details:    fmt.Sprintf("access request %s %s by patient", r.ID, to),
		IPAddress:  caller.IPAddress,
		UserAgent:  caller.UserAgent,
	})

	s.notify(ctx, notify.Notification{
		Kind:        notify.KindAccessResolved,
		RecipientID: r.RequesterID,
		PatientID:   r.PatientID,
		ActorID:     caller.UserID,
		SubjectID:   r.ID,
		Message:     fmt.Sprintf("Your access request was %s", to),
		Data:        map[string]string{"status": string(to)},
	})

	return res, nil
}

// Sweep marca expired los pending vencidos. Seguro de correr en paralelo desde varias instancias.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.deps.Metrics.RequestsExpired(n)
	if n > 0 {
		s.log.Info("expired pending access requests", map[string]any{"count": n})
	}
	return n, nil
}

// Get: visible para el doctor que lo pidió y para el paciente dueño.
func (s *Service) Get(ctx context.Context, caller auth.Caller, id string) (Request, error) {
	r, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return Request{}, s.lookupErr(err)
	}
	if r.RequesterID == caller.UserID || caller.Is(auth.RoleAdmin) {
		return r, nil
	}
	owner, err := s.deps.Patients.UserOf(ctx, r.PatientID)
	if err != nil || owner != caller.UserID {
		return Request{}, ErrForbidden
	}
	return r, nil
}

func (s *Service) ListPendingForPatient(ctx context.Context, caller auth.Caller) ([]Request, error) {
	patientID, err := s.deps.Patients.PatientIDOf(ctx, caller.UserID)
	if err != nil {
		return nil, ErrNotFound
	}
	items, err := s.repo.ListPendingByPatient(ctx, patientID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return items, nil
}

func (s *Service) ListByRequester(ctx context.Context, caller auth.Caller) ([]Request, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return nil, ErrInvalidInput
	}
	items, err := s.repo.ListByRequester(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return items, nil
}

// Now expone el reloj del servicio (handlers lo usan para StatusAt).
func (s *Service) Now() time.Time {
	return s.now()
}

// hospitalOf: afiliación del directorio; si no hay, el hospital del token.
func (s *Service) hospitalOf(ctx context.Context, caller auth.Caller) (string, error) {
	if s.deps.Affiliations != nil {
		h, err := s.deps.Affiliations.HospitalOf(ctx, caller.UserID)
		switch {
		case err == nil && strings.TrimSpace(h) != "":
			return strings.TrimSpace(h), nil
		case err != nil && !errors.Is(err, affiliations.ErrNoAffiliation):
			s.log.Warn("affiliation lookup failed, using session hospital", map[string]any{
				"user_id": caller.UserID,
				"err":     err,
			})
		}
	}
	if h := strings.TrimSpace(caller.HospitalID); h != "" {
		return h, nil
	}
	return "", fmt.Errorf("%w: hospitalId could not be derived from the doctor's affiliation", ErrInvalidInput)
}

func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if s.deps.Notifier == nil {
		return
	}
	n.ID = uuid.NewString()
	n.CreatedAt = s.now().UTC()
	if err := s.deps.Notifier.Notify(ctx, n); err != nil {
		s.log.Warn("notification failed", map[string]any{
			"kind":         string(n.Kind),
			"recipient_id": n.RecipientID,
			"err":          err,
		})
	}
}

func (s *Service) lookupErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func parseDecision(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "approve":
		return StatusApproved, true
	case "denied", "deny", "rejected":
		return StatusDenied, true
	default:
		return "", false
	}
}
