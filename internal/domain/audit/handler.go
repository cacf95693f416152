package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"patient-passport-access/internal/middleware"
	"patient-passport-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/audit-logs", listLogsHandler(svc, ""))
	r.Get("/emergency-access/logs", listLogsHandler(svc, AccessEmergency))
}

type EntryResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	PatientID  string     `json:"patientId"`
	AccessType AccessType `json:"accessType"`
	Action     Action     `json:"action"`
	Outcome    Outcome    `json:"outcome"`
	Details    string     `json:"details"`
	IPAddress  string     `json:"ipAddress,omitempty"`
	UserAgent  string     `json:"userAgent,omitempty"`
	AccessTime time.Time  `json:"accessTime"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type PageResponse struct {
	Logs       []EntryResponse `json:"logs"`
	Pagination Pagination      `json:"pagination"`
}

// listLogsHandler godoc
// @Summary  Query the audit log (admin)
// @Tags     audit
// @Produce  json
// @Param    startDate  query string false "RFC3339 or YYYY-MM-DD"
// @Param    endDate    query string false "RFC3339 or YYYY-MM-DD"
// @Param    doctorId   query string false "user id of the accessing doctor"
// @Param    patientId  query string false "patient id"
// @Param    accessType query string false "regular|emergency|consent"
// @Param    page       query int    false "page (>=1)"
// @Param    limit      query int    false "page size (max 100)"
// @Success  200 {object} PageResponse
// @Failure  400 {string} string
// @Failure  403 {string} string
// @Router   /audit-logs [get]
// @Router   /emergency-access/logs [get]
func listLogsHandler(svc *Service, fixed AccessType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !caller.Is(auth.RoleAdmin) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		f, page, limit, err := ParseQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if fixed != "" {
			f.AccessType = fixed
		}

		p, err := svc.Query(r.Context(), f, page, limit)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ToPageResponse(p))
	}
}

// ParseQuery lee filtros + paginación de la querystring.
func ParseQuery(r *http.Request) (Filter, int, int, error) {
	q := r.URL.Query()
	var f Filter

	if v := strings.TrimSpace(q.Get("startDate")); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			return Filter{}, 0, 0, errors.New("startDate must be RFC3339 or YYYY-MM-DD")
		}
		f.StartDate = &t
	}
	if v := strings.TrimSpace(q.Get("endDate")); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			return Filter{}, 0, 0, errors.New("endDate must be RFC3339 or YYYY-MM-DD")
		}
		f.EndDate = &t
	}
	f.DoctorID = strings.TrimSpace(q.Get("doctorId"))
	f.PatientID = strings.TrimSpace(q.Get("patientId"))
	f.AccessType = AccessType(strings.TrimSpace(q.Get("accessType")))

	page, err := atoiDefault(q.Get("page"), 1)
	if err != nil {
		return Filter{}, 0, 0, errors.New("page must be an integer")
	}
	limit, err := atoiDefault(q.Get("limit"), DefaultLimit)
	if err != nil {
		return Filter{}, 0, 0, errors.New("limit must be an integer")
	}
	return f, page, limit, nil
}

// Fecha sola: endDate incluye el día completo.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func atoiDefault(v string, def int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnavailable):
		http.Error(w, "audit log unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func ToEntryResponse(e Entry) EntryResponse {
	return EntryResponse{
		ID:         e.ID,
		UserID:     e.UserID,
		PatientID:  e.PatientID,
		AccessType: e.AccessType,
		Action:     e.Action,
		Outcome:    e.Outcome,
		Details:    e.Details,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		AccessTime: e.AccessTime,
	}
}

func ToPageResponse(p Page) PageResponse {
	out := make([]EntryResponse, 0, len(p.Items))
	for _, e := range p.Items {
		out = append(out, ToEntryResponse(e))
	}
	return PageResponse{
		Logs: out,
		Pagination: Pagination{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      p.Total,
			TotalPages: p.TotalPages(),
		},
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
