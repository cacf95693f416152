package patients

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/patients", createPatientHandler(svc))
	r.Get("/patients/{patientID}/passport", getPassportHandler(svc))
}

type createPatientRequest struct {
	UserID     string                     `json:"userId"`
	Name       string                     `json:"name"`
	Email      string                     `json:"email"`
	HospitalID string                     `json:"hospitalId"`
	Passport   map[string]json.RawMessage `json:"passport"`
}

type PatientResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	HospitalID string    `json:"hospitalId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type PassportResponse struct {
	PatientID  string                     `json:"patientId"`
	Name       string                     `json:"name"`
	AccessedAs string                     `json:"accessedAs"`
	Sections   map[string]json.RawMessage `json:"sections"`
	ExpiresAt  *time.Time                 `json:"accessExpiresAt,omitempty"`
}

// createPatientHandler godoc
// @Summary  Register a patient (admin, hospital or receptionist)
// @Tags     patients
// @Accept   json
// @Produce  json
// @Param    body body createPatientRequest true "patient"
// @Success  201 {object} PatientResponse
// @Failure  400 {string} string
// @Failure  403 {string} string
// @Failure  409 {string} string
// @Router   /patients [post]
func createPatientHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		passport := Passport{}
		for k, v := range req.Passport {
			passport[accessgrants.Scope(k)] = v
		}

		p, err := svc.Create(r.Context(), caller, CreateInput{
			UserID:     req.UserID,
			Name:       req.Name,
			Email:      req.Email,
			HospitalID: req.HospitalID,
			Passport:   passport,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, PatientResponse{
			ID:         p.ID,
			UserID:     p.UserID,
			Name:       p.Name,
			Email:      p.Email,
			HospitalID: p.HospitalID,
			CreatedAt:  p.CreatedAt,
		})
	}
}

// getPassportHandler godoc
// @Summary  Read a patient's passport (owner, or any holder of an active grant)
// @Tags     patients
// @Produce  json
// @Param    patientID path string true "patient id"
// @Success  200 {object} PassportResponse
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Router   /patients/{patientID}/passport [get]
func getPassportHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		v, err := svc.ReadPassport(r.Context(), caller, chi.URLParam(r, "patientID"))
		if err != nil {
			writeError(w, err)
			return
		}

		sections := make(map[string]json.RawMessage, len(v.Sections))
		for k, raw := range v.Sections {
			sections[string(k)] = raw
		}
		writeJSON(w, http.StatusOK, PassportResponse{
			PatientID:  v.PatientID,
			Name:       v.Name,
			AccessedAs: v.AccessedAs,
			Sections:   sections,
			ExpiresAt:  v.ExpiresAt,
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "patient not found", http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
