package emergency

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
	"patient-passport-access/internal/ports/auth"
	"patient-passport-access/internal/ports/notify"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("patient not found")
	ErrUnavailable  = errors.New("emergency access unavailable")
)

const MaxJustificationLength = 500

type GrantIssuer interface {
	Issue(ctx context.Context, in accessgrants.IssueInput) (accessgrants.Grant, error)
}

type PatientDirectory interface {
	UserOf(ctx context.Context, patientID string) (string, error)
}

type Deps struct {
	Grants   GrantIssuer
	Audits   *audit.Service
	Patients PatientDirectory
	Notifier notify.Notifier // opcional
	Log      logger.Logger
	Metrics  *metrics.Metrics
}

type Options struct {
	GrantTTL         time.Duration
	MinJustification int
}

type Service struct {
	repo Repository
	deps Deps
	opts Options
	log  logger.Logger
	now  func() time.Time
}

func NewService(repo Repository, deps Deps, opts Options) *Service {
	if opts.GrantTTL <= 0 {
		opts.GrantTTL = time.Hour
	}
	if opts.MinJustification <= 0 {
		opts.MinJustification = 20
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

type Input struct {
	PatientID     string
	Justification string
	IPAddress     string
	UserAgent     string
}

type Result struct {
	Override Override
	Grant    accessgrants.Grant
}

// GrantEmergencyAccess no espera consentimiento. El audit se escribe primero y en forma
// sincrónica: si falla, no hay override ni grant.
func (s *Service) GrantEmergencyAccess(ctx context.Context, caller auth.Caller, in Input) (Result, error) {
	if !caller.Is(auth.RoleDoctor) {
		return Result{}, ErrForbidden
	}

	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		return Result{}, fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	justification := strings.TrimSpace(in.Justification)
	n := utf8.RuneCountInString(justification)
	if n < s.opts.MinJustification {
		return Result{}, fmt.Errorf("%w: justification must be at least %d characters", ErrInvalidInput, s.opts.MinJustification)
	}
	if n > MaxJustificationLength {
		return Result{}, fmt.Errorf("%w: justification must be at most %d characters", ErrInvalidInput, MaxJustificationLength)
	}

	patientUserID, err := s.deps.Patients.UserOf(ctx, patientID)
	if err != nil {
		return Result{}, ErrNotFound
	}

	ip := firstNonEmpty(in.IPAddress, caller.IPAddress)
	ua := firstNonEmpty(in.UserAgent, caller.UserAgent)
	now := s.now()

	o := Override{
		ID:            uuid.NewString(),
		DoctorID:      caller.UserID,
		PatientID:     patientID,
		Justification: justification,
		IPAddress:     ip,
		UserAgent:     ua,
		AccessTime:    now,
	}

	entry := audit.Entry{
		UserID:     caller.UserID,
		PatientID:  patientID,
		AccessType: audit.AccessEmergency,
		Action:     audit.ActionView,
		Outcome:    audit.OutcomeSuccess,
		Details:    fmt.Sprintf("emergency override %s: %s", o.ID, justification),
		IPAddress:  ip,
		UserAgent:  ua,
		AccessTime: now,
	}
	if _, err := s.deps.Audits.Record(ctx, entry); err != nil {
		s.log.Error("emergency audit failed, override aborted", map[string]any{
			"doctor_id":  caller.UserID,
			"patient_id": patientID,
			"err":        err,
		})
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.repo.Create(ctx, o); err != nil {
		s.recordFailure(ctx, entry, fmt.Sprintf("emergency override %s not persisted", o.ID))
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g, err := s.deps.Grants.Issue(ctx, accessgrants.IssueInput{
		GranteeID: caller.UserID,
		PatientID: patientID,
		Via:       accessgrants.ViaEmergency,
		SourceID:  o.ID,
		TTL:       s.opts.GrantTTL,
		IPAddress: ip,
		UserAgent: ua,
	})
	if err != nil {
		s.recordFailure(ctx, entry, fmt.Sprintf("emergency override %s: grant not issued", o.ID))
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.deps.Metrics.EmergencyOverride()
	s.log.Warn("emergency access granted", map[string]any{
		"override_id": o.ID,
		"doctor_id":   o.DoctorID,
		"patient_id":  o.PatientID,
		"grant_id":    g.ID,
		"expires_at":  g.ExpiresAt,
	})

	s.notify(ctx, notify.Notification{
		Kind:        notify.KindEmergencyAccess,
		RecipientID: patientUserID,
		PatientID:   patientID,
		ActorID:     caller.UserID,
		SubjectID:   o.ID,
		Message:     "Emergency access to your medical records was granted to a doctor",
		Data: map[string]string{
			"justification": justification,
			"expiresAt":     g.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})

	return Result{Override: o, Grant: g}, nil
}

type HistoryPage struct {
	Items []Override
	Total int
	Page  int
	Limit int
}

// History: overrides del doctor que llama, más recientes primero.
func (s *Service) History(ctx context.Context, caller auth.Caller, page, limit int) (HistoryPage, error) {
	if !caller.Is(auth.RoleDoctor) {
		return HistoryPage{}, ErrForbidden
	}
	page, limit = audit.NormalizePage(page, limit)

	items, total, err := s.repo.ListByDoctor(ctx, caller.UserID, (page-1)*limit, limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if items == nil {
		items = []Override{}
	}
	return HistoryPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

type Trail struct {
	Overrides []Override
	Logs      audit.Page
}

// PatientTrail junta overrides y entradas de audit de emergencia de un paciente.
// Solo admin o el paciente dueño.
func (s *Service) PatientTrail(ctx context.Context, caller auth.Caller, patientID string, page, limit int) (Trail, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return Trail{}, fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	owner, err := s.deps.Patients.UserOf(ctx, patientID)
	if err != nil {
		return Trail{}, ErrNotFound
	}
	if owner != caller.UserID && !caller.Is(auth.RoleAdmin) {
		return Trail{}, ErrForbidden
	}

	overrides, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return Trail{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if overrides == nil {
		overrides = []Override{}
	}

	logs, err := s.deps.Audits.Query(ctx, audit.Filter{
		PatientID:  patientID,
		AccessType: audit.AccessEmergency,
	}, page, limit)
	if err != nil {
		return Trail{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Trail{Overrides: overrides, Logs: logs}, nil
}

func (s *Service) recordFailure(ctx context.Context, entry audit.Entry, details string) {
	entry.Outcome = audit.OutcomeFailure
	entry.Details = details
	entry.AccessTime = time.Time{}
	s.deps.Audits.RecordBestEffort(ctx, entry)
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

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
