package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrActorNotFound       = errors.New("actor not found")

	ErrPermissionDenied  = errors.New("permission denied")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is the common ancestor for every double-booking flavour so
	// callers can match the family with a single errors.Is.
	ErrConflict = errors.New("scheduling conflict")

	ErrDoctorDoubleBooked  = fmt.Errorf("%w: doctor already has an appointment at this slot", ErrConflict)
	ErrPatientDoubleBooked = fmt.Errorf("%w: patient already has an appointment at this slot", ErrConflict)

	// ErrStaleVersion means a concurrent writer updated the appointment
	// between our read and our write.
	ErrStaleVersion = fmt.Errorf("%w: appointment was modified concurrently", ErrConflict)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
