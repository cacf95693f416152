package accessrequests

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	// Rutas completas (no r.Route): /access-control/check-access vive en accessgrants.
	r.Post("/access-control/request", createRequestHandler(svc))
	r.Post("/access-control/respond/{requestID}", respondHandler(svc))
	r.Get("/access-control/patient/pending", listPatientPendingHandler(svc))
	r.Get("/access-control/doctor/requests", listDoctorRequestsHandler(svc))
	r.Get("/access-control/requests/{requestID}", getRequestHandler(svc))
}

// hospitalId no se acepta del cliente: se deriva de la afiliación del doctor.
type createRequestBody struct {
	PatientID      string   `json:"patientId"`
	RequestType    string   `json:"requestType"`
	Reason         string   `json:"reason"`
	RequestedData  []string `json:"requestedData"`
	ExpiresInHours int      `json:"expiresInHours"`
}

type respondBody struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type RequestResponse struct {
	ID             string               `json:"id"`
	RequesterID    string               `json:"requesterId"`
	PatientID      string               `json:"patientId"`
	HospitalID     string               `json:"hospitalId"`
	RequestType    RequestType          `json:"requestType"`
	Reason         string               `json:"reason"`
	RequestedData  []accessgrants.Scope `json:"requestedData"`
	Status         Status               `json:"status"`
	ResponseReason string               `json:"responseReason,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	ExpiresAt      time.Time            `json:"expiresAt"`
	ResolvedAt     *time.Time           `json:"resolvedAt,omitempty"`
}

type ResolutionResponse struct {
	Request RequestResponse             `json:"request"`
	Grant   *accessgrants.GrantResponse `json:"grant,omitempty"`
}

// createRequestHandler godoc
// @Summary  Doctor requests consent access to a patient's passport
// @Tags     access-control
// @Accept   json
// @Produce  json
// @Param    body body createRequestBody true "request"
// @Success  201 {object} RequestResponse
// @Failure  400 {string} string
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Router   /access-control/request [post]
func createRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body createRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		req, err := svc.RequestAccess(r.Context(), caller, RequestInput{
			PatientID:      body.PatientID,
			RequestType:    body.RequestType,
			Reason:         body.Reason,
			RequestedData:  body.RequestedData,
			ExpiresInHours: body.ExpiresInHours,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(req, svc.Now()))
	}
}

// respondHandler godoc
// @Summary  Patient approves or denies an access request
// @Tags     access-control
// @Accept   json
// @Produce  json
// @Param    requestID path string      true "request id"
// @Param    body      body respondBody true "decision: approved | denied"
// @Success  200 {object} ResolutionResponse
// @Failure  400 {string} string
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Failure  409 {string} string
// @Failure  410 {string} string
// @Router   /access-control/respond/{requestID} [post]
func respondHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body respondBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		res, err := svc.Resolve(r.Context(), caller, chi.URLParam(r, "requestID"), body.Status, body.Reason)
		if err != nil {
			writeError(w, err)
			return
		}

		now := svc.Now()
		out := ResolutionResponse{Request: toRequestResponse(res.Request, now)}
		if res.Grant != nil {
			g := accessgrants.ToGrantResponse(*res.Grant, now)
			out.Grant = &g
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// listPatientPendingHandler godoc
// @Summary  Pending access requests for the calling patient
// @Tags     access-control
// @Produce  json
// @Success  200 {array} RequestResponse
// @Failure  404 {string} string
// @Router   /access-control/patient/pending [get]
func listPatientPendingHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListPendingForPatient(r.Context(), caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponses(items, svc.Now(), nil))
	}
}

// listDoctorRequestsHandler godoc
// @Summary  Access requests created by the calling doctor
// @Tags     access-control
// @Produce  json
// @Param    status query string false "CSV: pending,approved,denied,expired"
// @Success  200 {array} RequestResponse
// @Router   /access-control/doctor/requests [get]
func listDoctorRequestsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListByRequester(r.Context(), caller)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponses(items, svc.Now(), parseStatusFilter(r.URL.Query().Get("status"))))
	}
}

// getRequestHandler godoc
// @Summary  Get one access request (requesting doctor or owning patient)
// @Tags     access-control
// @Produce  json
// @Param    requestID path string true "request id"
// @Success  200 {object} RequestResponse
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Router   /access-control/requests/{requestID} [get]
func getRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		req, err := svc.Get(r.Context(), caller, chi.URLParam(r, "requestID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req, svc.Now()))
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
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrExpired):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, ErrUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toRequestResponse(r Request, now time.Time) RequestResponse {
	return RequestResponse{
		ID:             r.ID,
		RequesterID:    r.RequesterID,
		PatientID:      r.PatientID,
		HospitalID:     r.HospitalID,
		RequestType:    r.RequestType,
		Reason:         r.Reason,
		RequestedData:  r.RequestedData,
		Status:         r.StatusAt(now),
		ResponseReason: r.ResponseReason,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		ResolvedAt:     r.ResolvedAt,
	}
}

func toRequestResponses(items []Request, now time.Time, allowed map[Status]struct{}) []RequestResponse {
	out := make([]RequestResponse, 0, len(items))
	for _, it := range items {
		resp := toRequestResponse(it, now)
		if len(allowed) > 0 {
			if _, ok := allowed[resp.Status]; !ok {
				continue
			}
		}
		out = append(out, resp)
	}
	return out
}

func parseStatusFilter(raw string) map[Status]struct{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[Status]struct{}{}
	for _, p := range strings.Split(raw, ",") {
		s := Status(strings.TrimSpace(p))
		if s == "" {
			continue
		}
		out[s] = struct{}{}
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
