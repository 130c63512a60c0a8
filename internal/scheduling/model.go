package scheduling

import (
	"fmt"
	"time"
)

type AppointmentStatus string

const (
	StatusPending              AppointmentStatus = "pending"
	StatusPendingDoctorConfirm AppointmentStatus = "pending_doctor_confirmation"
	StatusScheduled            AppointmentStatus = "scheduled"
	StatusCompleted            AppointmentStatus = "completed"
	StatusCancelled            AppointmentStatus = "cancelled"
	StatusNoShow               AppointmentStatus = "no_show"
)

type ConsultationStatus string

const (
	ConsultationSubmitted     ConsultationStatus = "submitted"
	ConsultationPendingReview ConsultationStatus = "pending_review"
	ConsultationApproved      ConsultationStatus = "approved"
	ConsultationNeedsMoreInfo ConsultationStatus = "needs_more_info"
	ConsultationScheduled     ConsultationStatus = "scheduled"
	ConsultationConfirmed     ConsultationStatus = "confirmed"
	ConsultationRejected      ConsultationStatus = "rejected"

	// ConsultationNone is the zero value for appointments that were never
	// consultation requests (direct frontdesk bookings).
	ConsultationNone ConsultationStatus = ""
)

type Role string

const (
	RoleFrontdesk Role = "frontdesk"
	RoleDoctor    Role = "doctor"
	RoleAdmin     Role = "admin"
	RolePatient   Role = "patient"
)

// ConsultationFields is the triage state composed onto an appointment that
// entered as a consultation request. It has no identity of its own; it is nil
// for directly booked appointments.
type ConsultationFields struct {
	Status      ConsultationStatus
	ReviewedBy  *string
	ReviewedAt  *time.Time
	ReviewNotes string
}

type CheckInInfo struct {
	CheckedInAt   time.Time
	CheckedInBy   string
	IsLate        bool
	LateByMinutes int
}

type NoShowInfo struct {
	NoShowAt time.Time
	Reason   string
	Notes    string
}

// Appointment is the aggregate root. The id and timestamps are assigned by
// the store; Version is the optimistic-concurrency token checked on every
// update.
type Appointment struct {
	ID        int64
	PatientID string
	DoctorID  string
	Date      time.Time // calendar date, midnight local
	Time      string    // canonical "HH:MM" 24h
	Status    AppointmentStatus
	Type      string
	Note      string
	Reason    string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time

	Consultation *ConsultationFields
	CheckIn      *CheckInInfo
	NoShow       *NoShowInfo
}

// ConsultationStatusOrNone returns the nested status, or ConsultationNone for
// appointments without consultation fields.
func (a *Appointment) ConsultationStatusOrNone() ConsultationStatus {
	if a.Consultation == nil {
		return ConsultationNone
	}
	return a.Consultation.Status
}

// SlotTime combines the appointment date and canonical time into a single
// local timestamp.
func (a *Appointment) SlotTime() time.Time {
	t, err := time.ParseInLocation("15:04", a.Time, a.Date.Location())
	if err != nil {
		return a.Date
	}
	return time.Date(a.Date.Year(), a.Date.Month(), a.Date.Day(), t.Hour(), t.Minute(), 0, 0, a.Date.Location())
}

type Patient struct {
	ID    string
	Name  string
	Email string
}

type Actor struct {
	ID    string
	Name  string
	Email string
	Role  Role
}

type DoctorStats struct {
	Today          int `json:"today"`
	PendingReview  int `json:"pending_review"`
	PendingCheckIn int `json:"pending_check_in"`
	Upcoming       int `json:"upcoming"`
}

// Clock supplies "now" so that today/past computations are deterministic in
// tests.
type Clock func() time.Time

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "03:04 PM", "03:04PM"}

// NormalizeClockTime canonicalizes a 24h or 12h display time into "HH:MM".
func NormalizeClockTime(raw string) (string, error) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("%w: time %q is not a valid clock time", ErrValidation, raw)
}

// DateOnly truncates a timestamp to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
