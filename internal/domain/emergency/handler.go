package emergency

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/domain/audit"
	"patient-passport-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/emergency-access/request", requestEmergencyHandler(svc))
	r.Get("/emergency-access/my-history", myHistoryHandler(svc))
	r.Get("/emergency-access/audit/{patientID}", patientTrailHandler(svc))
}

type requestBody struct {
	PatientID     string `json:"patientId"`
	Justification string `json:"justification"`
}

type OverrideResponse struct {
	ID            string    `json:"id"`
	DoctorID      string    `json:"doctorId"`
	PatientID     string    `json:"patientId"`
	Justification string    `json:"justification"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
	AccessTime    time.Time `json:"accessTime"`
}

type EmergencyResponse struct {
	Message     string                     `json:"message"`
	Override    OverrideResponse           `json:"emergencyAccess"`
	AccessGrant accessgrants.GrantResponse `json:"accessGrant"`
}

type HistoryResponse struct {
	Items      []OverrideResponse `json:"items"`
	Pagination audit.Pagination   `json:"pagination"`
}

type TrailResponse struct {
	Overrides []OverrideResponse `json:"overrides"`
	Logs      audit.PageResponse `json:"auditLogs"`
}

// requestEmergencyHandler godoc
// @Summary  Break-glass access to a patient's passport (doctor)
// @Tags     emergency-access
// @Accept   json
// @Produce  json
// @Param    body body requestBody true "patient and justification (20..500 chars)"
// @Success  201 {object} EmergencyResponse
// @Failure  400 {string} string
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Failure  503 {string} string
// @Router   /emergency-access/request [post]
func requestEmergencyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		res, err := svc.GrantEmergencyAccess(r.Context(), caller, Input{
			PatientID:     body.PatientID,
			Justification: body.Justification,
			IPAddress:     caller.IPAddress,
			UserAgent:     caller.UserAgent,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, EmergencyResponse{
			Message:     "Emergency access granted",
			Override:    toOverrideResponse(res.Override),
			AccessGrant: accessgrants.ToGrantResponse(res.Grant, time.Now()),
		})
	}
}

// myHistoryHandler godoc
// @Summary  Emergency overrides performed by the calling doctor
// @Tags     emergency-access
// @Produce  json
// @Param    page  query int false "page (>=1)"
// @Param    limit query int false "page size (max 100)"
// @Success  200 {object} HistoryResponse
// @Failure  403 {string} string
// @Router   /emergency-access/my-history [get]
func myHistoryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		page, limit, err := parsePaging(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		h, err := svc.History(r.Context(), caller, page, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		items := make([]OverrideResponse, 0, len(h.Items))
		for _, o := range h.Items {
			items = append(items, toOverrideResponse(o))
		}
		p := audit.Page{Total: h.Total, Page: h.Page, Limit: h.Limit}
		writeJSON(w, http.StatusOK, HistoryResponse{
			Items: items,
			Pagination: audit.Pagination{
				Page:       h.Page,
				Limit:      h.Limit,
				Total:      h.Total,
				TotalPages: p.TotalPages(),
			},
		})
	}
}

// patientTrailHandler godoc
// @Summary  Emergency overrides and emergency audit entries for a patient (admin or owner)
// @Tags     emergency-access
// @Produce  json
// @Param    patientID path  string true  "patient id"
// @Param    page      query int    false "page (>=1)"
// @Param    limit     query int    false "page size (max 100)"
// @Success  200 {object} TrailResponse
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Router   /emergency-access/audit/{patientID} [get]
func patientTrailHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		page, limit, err := parsePaging(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		t, err := svc.PatientTrail(r.Context(), caller, chi.URLParam(r, "patientID"), page, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		overrides := make([]OverrideResponse, 0, len(t.Overrides))
		for _, o := range t.Overrides {
			overrides = append(overrides, toOverrideResponse(o))
		}
		writeJSON(w, http.StatusOK, TrailResponse{
			Overrides: overrides,
			Logs:      audit.ToPageResponse(t.Logs),
		})
	}
}

func parsePaging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, limit := 1, audit.DefaultLimit
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, errors.New("page must be an integer")
		}
		page = n
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, errors.New("limit must be an integer")
		}
		limit = n
	}
	return page, limit, nil
}

func toOverrideResponse(o Override) OverrideResponse {
	return OverrideResponse{
		ID:            o.ID,
		DoctorID:      o.DoctorID,
		PatientID:     o.PatientID,
		Justification: o.Justification,
		IPAddress:     o.IPAddress,
		UserAgent:     o.UserAgent,
		AccessTime:    o.AccessTime,
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
