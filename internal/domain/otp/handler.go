package otp

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
	r.Post("/passport-access/otp/request", requestOTPHandler(svc))
	r.Post("/passport-access/otp/verify", verifyOTPHandler(svc))

	// alias usados por el frontend
	r.Post("/passport-access/request-otp", requestOTPHandler(svc))
	r.Post("/passport-access/verify-otp", verifyOTPHandler(svc))
}

type requestBody struct {
	PatientID string `json:"patientId"`
}

type verifyBody struct {
	PatientID string `json:"patientId"`
	Code      string `json:"code"`
}

type RequestResponse struct {
	ExistingOTP bool      `json:"existingOTP"`
	EmailSent   bool      `json:"emailSent"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Message     string    `json:"message"`
}

type VerifyResponse struct {
	Message     string                     `json:"message"`
	AccessGrant accessgrants.GrantResponse `json:"accessGrant"`
}

// requestOTPHandler godoc
// @Summary  Send a one-time code to the patient so a doctor can access the passport
// @Tags     passport-access
// @Accept   json
// @Produce  json
// @Param    body body requestBody true "patient"
// @Success  200 {object} RequestResponse
// @Failure  400 {string} string
// @Failure  403 {string} string
// @Failure  404 {string} string
// @Router   /passport-access/otp/request [post]
func requestOTPHandler(svc *Service) http.HandlerFunc {
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

		res, err := svc.RequestOTP(r.Context(), caller, body.PatientID)
		if err != nil {
			writeError(w, err)
			return
		}

		msg := "OTP sent to patient email"
		switch {
		case res.ExistingOTP:
			msg = "An active OTP already exists for this patient"
		case !res.EmailSent:
			msg = "OTP generated but email delivery failed"
		}
		writeJSON(w, http.StatusOK, RequestResponse{
			ExistingOTP: res.ExistingOTP,
			EmailSent:   res.EmailSent,
			ExpiresAt:   res.ExpiresAt,
			Message:     msg,
		})
	}
}

// verifyOTPHandler godoc
// @Summary  Verify the patient's one-time code and obtain a 1h access grant
// @Tags     passport-access
// @Accept   json
// @Produce  json
// @Param    body body verifyBody true "patient and code"
// @Success  200 {object} VerifyResponse
// @Failure  400 {string} string
// @Failure  401 {string} string
// @Failure  403 {string} string
// @Failure  409 {string} string
// @Router   /passport-access/otp/verify [post]
func verifyOTPHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.GetCaller(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body verifyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		g, err := svc.VerifyOTP(r.Context(), caller, body.PatientID, body.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, VerifyResponse{
			Message:     "OTP verified",
			AccessGrant: accessgrants.ToGrantResponse(g, time.Now()),
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidCode):
		http.Error(w, ErrInvalidCode.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
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
