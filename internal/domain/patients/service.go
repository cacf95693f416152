package patients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/ports/auth"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = fmt.Errorf("patient %w", accessgrants.ErrNotFound)
	ErrConflict     = errors.New("patient already registered")
)

// AccessChecker es el evaluador de grants (accessgrants.Service).
type AccessChecker interface {
	CheckAccess(ctx context.Context, caller auth.Caller, patientID string) (accessgrants.Decision, error)
}

type Service struct {
	repo   Repository
	access AccessChecker
	now    func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// SetAccessChecker: grants depende de patients (dueño) y patients de grants (lectura),
// así que el router conecta esto después de crear ambos.
func (s *Service) SetAccessChecker(a AccessChecker) {
	s.access = a
}

type CreateInput struct {
	UserID     string
	Name       string
	Email      string
	HospitalID string
	Passport   Passport
}

// Create registra un paciente. Solo staff (admin / hospital / recepción).
func (s *Service) Create(ctx context.Context, caller auth.Caller, in CreateInput) (Patient, error) {
	if !caller.Is(auth.RoleAdmin, auth.RoleHospital, auth.RoleReceptionist) {
		return Patient{}, ErrForbidden
	}

	userID := strings.TrimSpace(in.UserID)
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if userID == "" {
		return Patient{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if name == "" {
		return Patient{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return Patient{}, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}

	passport := Passport{}
	for k, v := range in.Passport {
		scopes, err := accessgrants.NormalizeScopes([]accessgrants.Scope{k})
		if err != nil || len(scopes) != 1 {
			return Patient{}, fmt.Errorf("%w: unknown passport section %q", ErrInvalidInput, k)
		}
		if !json.Valid(v) {
			return Patient{}, fmt.Errorf("%w: passport section %q is not valid json", ErrInvalidInput, k)
		}
		passport[scopes[0]] = v
	}

	hospitalID := strings.TrimSpace(in.HospitalID)
	if hospitalID == "" {
		hospitalID = caller.HospitalID
	}

	now := s.now()
	p := Patient{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		Email:      email,
		HospitalID: hospitalID,
		Passport:   passport,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return Patient{}, err
	}
	return p, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Patient{}, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// UserOf expone el userID dueño de un paciente.
// Se usa para evitar ciclos de imports entre módulos (patients <-> accessgrants / accessrequests).
func (s *Service) UserOf(ctx context.Context, patientID string) (string, error) {
	p, err := s.GetByID(ctx, patientID)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

// PatientIDOf es la inversa: el paciente asociado a un usuario.
func (s *Service) PatientIDOf(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrNotFound
	}
	p, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *Service) Contact(ctx context.Context, patientID string) (Contact, error) {
	p, err := s.GetByID(ctx, patientID)
	if err != nil {
		return Contact{}, err
	}
	return Contact{Name: p.Name, Email: p.Email}, nil
}

type PassportView struct {
	PatientID  string
	Name       string
	AccessedAs string // owner | otp | consent | emergency
	Sections   Passport
	ExpiresAt  *time.Time
}

// ReadPassport es el endpoint de datos protegido: el dueño entra directo,
// cualquier otro pasa por CheckAccess y ve solo las secciones del grant.
func (s *Service) ReadPassport(ctx context.Context, caller auth.Caller, patientID string) (PassportView, error) {
	p, err := s.GetByID(ctx, patientID)
	if err != nil {
		return PassportView{}, err
	}

	if p.UserID == caller.UserID {
		return PassportView{PatientID: p.ID, Name: p.Name, AccessedAs: "owner", Sections: p.Passport}, nil
	}

	if s.access == nil {
		return PassportView{}, ErrForbidden
	}
	d, err := s.access.CheckAccess(ctx, caller, p.ID)
	if err != nil || !d.HasAccess || d.Grant == nil {
		return PassportView{}, ErrForbidden
	}

	exp := d.Grant.ExpiresAt
	return PassportView{
		PatientID:  p.ID,
		Name:       p.Name,
		AccessedAs: string(d.Grant.GrantedVia),
		Sections:   p.Passport.Filter(d.Grant.Scopes),
		ExpiresAt:  &exp,
	}, nil
}
