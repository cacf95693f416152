package accessgrants

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"patient-passport-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/access-control/check-access/{patientID}", checkAccessHandler(svc))

	// Paciente: ver / revocar grants sobre su pasaporte
	r.Get("/patients/{patientID}/grants", listGrantsByPatientHandler(svc))
	r.Post("/grants/{grantID}/revoke", revokeGrantHandler(svc))

	// Doctor: grants propios
	r.Get("/me/grants", listMyGrantsHandler(svc))
}

type GrantResponse struct {
	ID         string     `json:"id"`
	GranteeID  string     `json:"granteeId"`
	PatientID  string     `json:"patientId"`
	GrantedVia Via        `json:"grantedVia"`
	Scopes     []Scope    `json:"scopes"`
	SourceID   string     `json:"sourceId,omitempty"`
	GrantedAt  time.Time  `json:"grantedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	Active     bool       `json:"active"`
}

type CheckAccessResponse struct {
	HasAccess bool           `json:"hasAccess"`
	Grant     *GrantResponse `json:"grant,omitempty"`
}

// checkAccessHandler godoc
// @Summary  Check whether the caller may read a patient's passport
// @Tags     access-control
// @Produce  json
// @Param    patientID path string true "patient id"
// @Success  200 {object} CheckAccessResponse
// @Failure  400 {string} string
// @Failure  401 {string} string
// @Router   /access-control/check-access/{patientID} [get]
func checkAccessHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		d, err := svc.CheckAccess(r.Context(), caller, chi.URLParam(r, "patientID"))
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			// fail closed
			writeJSON(w, http.StatusOK, CheckAccessResponse{HasAccess: false})
			return
		}

		out := CheckAccessResponse{HasAccess: d.HasAccess}
		if d.Grant != nil {
			gr := ToGrantResponse(*d.Grant, time.Now())
			out.Grant = &gr
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// listGrantsByPatientHandler godoc
// @Summary  List grants over a patient's passport (owning patient)
// @Tags     grants
// @Produce  json
// @Param    patientID path string true "patient id"
// @Success  200 {array} GrantResponse
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Router   /patients/{patientID}/grants [get]
func listGrantsByPatientHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListByPatient(r.Context(), caller, chi.URLParam(r, "patientID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponses(items, r.URL.Query().Get("active") == "true"))
	}
}

// listMyGrantsHandler godoc
// @Summary  List grants held by the caller
// @Tags     grants
// @Produce  json
// @Param    active query bool false "only active grants"
// @Success  200 {array} GrantResponse
// @Router   /me/grants [get]
func listMyGrantsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListByGrantee(r.Context(), caller.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponses(items, r.URL.Query().Get("active") == "true"))
	}
}

// revokeGrantHandler godoc
// @Summary  Revoke a grant early (owning patient)
// @Tags     grants
// @Produce  json
// @Param    grantID path string true "grant id"
// @Success  200 {object} GrantResponse
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Router   /grants/{grantID}/revoke [post]
func revokeGrantHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		g, err := svc.Revoke(r.Context(), caller, chi.URLParam(r, "grantID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ToGrantResponse(g, time.Now()))
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

func ToGrantResponse(g Grant, now time.Time) GrantResponse {
	scopes := g.Scopes
	if scopes == nil {
		scopes = []Scope{}
	}
	return GrantResponse{
		ID:         g.ID,
		GranteeID:  g.GranteeID,
		PatientID:  g.PatientID,
		GrantedVia: g.GrantedVia,
		Scopes:     scopes,
		SourceID:   g.SourceID,
		GrantedAt:  g.GrantedAt,
		ExpiresAt:  g.ExpiresAt,
		Revoked:    g.Revoked,
		RevokedAt:  g.RevokedAt,
		Active:     g.ActiveAt(now),
	}
}

func toGrantResponses(items []Grant, onlyActive bool) []GrantResponse {
	now := time.Now()
	out := make([]GrantResponse, 0, len(items))
	for _, g := range items {
		if onlyActive && !g.ActiveAt(now) {
			continue
		}
		out = append(out, ToGrantResponse(g, now))
	}
	return out
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
