package emergency

import "time"

// Override es el registro histórico de un break-glass. Inmutable y sin expiración:
// lo que expira es el grant que deriva de él.
type Override struct {
	ID string

	DoctorID  string
	PatientID string

	Justification string

	IPAddress  string
	UserAgent  string
	AccessTime time.Time
}
