package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("audit log unavailable")
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	// (page-1)*limit no puede desbordar int
	MaxPage = math.MaxInt / MaxLimit
)

type Service struct {
	repo    Repository
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo Repository, log logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:    repo,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Record agrega una entrada. El error se devuelve siempre envuelto en ErrUnavailable
// para que los llamadores decidan si abortan (emergency, issue) o siguen (best-effort).
func (s *Service) Record(ctx context.Context, e Entry) (Entry, error) {
	e.UserID = strings.TrimSpace(e.UserID)
	e.PatientID = strings.TrimSpace(e.PatientID)
	if e.UserID == "" || e.PatientID == "" {
		return Entry{}, fmt.Errorf("%w: userId and patientId required", ErrInvalidInput)
	}
	if !validAccessType(e.AccessType) {
		return Entry{}, fmt.Errorf("%w: accessType", ErrInvalidInput)
	}
	switch e.Action {
	case ActionView, ActionCreate, ActionUpdate, ActionDelete:
	default:
		return Entry{}, fmt.Errorf("%w: action", ErrInvalidInput)
	}

	e.ID = uuid.NewString()
	if e.AccessTime.IsZero() {
		e.AccessTime = s.now().UTC()
	}

	err := s.repo.Append(ctx, e)
	s.metrics.AuditWrite(string(e.AccessType), err)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e, nil
}

// RecordBestEffort loguea la falla y sigue.
func (s *Service) RecordBestEffort(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	if _, err := s.Record(ctx, e); err != nil {
		s.log.Warn("audit write failed", map[string]any{
			"user_id":     e.UserID,
			"patient_id":  e.PatientID,
			"access_type": string(e.AccessType),
			"action":      string(e.Action),
			"err":         err,
		})
	}
}

func (s *Service) Query(ctx context.Context, f Filter, page, limit int) (Page, error) {
	page, limit = NormalizePage(page, limit)

	if f.AccessType != "" && !validAccessType(f.AccessType) {
		return Page{}, fmt.Errorf("%w: accessType", ErrInvalidInput)
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return Page{}, fmt.Errorf("%w: endDate before startDate", ErrInvalidInput)
	}
	f.DoctorID = strings.TrimSpace(f.DoctorID)
	f.PatientID = strings.TrimSpace(f.PatientID)

	items, total, err := s.repo.Query(ctx, f, (page-1)*limit, limit)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if items == nil {
		items = []Entry{}
	}
	return Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// NormalizePage aplica defaults: 1 <= page <= MaxPage, limit 20 (máx 100).
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func validAccessType(t AccessType) bool {
	switch t {
	case AccessRegular, AccessEmergency, AccessConsent:
		return true
	}
	return false
}
