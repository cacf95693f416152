package audit

import "time"

type AccessType string

const (
	AccessRegular   AccessType = "regular"
	AccessEmergency AccessType = "emergency"
	AccessConsent   AccessType = "consent"
)

type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry es append-only: no hay Update ni Delete en el repositorio.
type Entry struct {
	ID string

	UserID    string
	PatientID string

	AccessType AccessType
	Action     Action
	Outcome    Outcome
	Details    string

	IPAddress string
	UserAgent string

	AccessTime time.Time
}

type Filter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	DoctorID   string
	PatientID  string
	AccessType AccessType
}

type Page struct {
	Items []Entry
	Total int
	Page  int
	Limit int
}

func (p Page) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
