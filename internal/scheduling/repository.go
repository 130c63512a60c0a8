package scheduling

import (
	"context"
	"time"
)

// Reminder is the projection the reminder worker mails out.
type Reminder struct {
	AppointmentID int64
	PatientName   string
	PatientEmail  string
	DoctorID      string
	Date          time.Time
	Time          string
}

// Repository contains all store interactions needed by the orchestrators.
// Consultation fields always travel with the appointment aggregate; there is
// no second interface to cast to.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error)
	GetConsultationFields(ctx context.Context, id int64) (*ConsultationFields, error)
	GetPatientByID(ctx context.Context, id string) (*Patient, error)
	GetActorByID(ctx context.Context, id string) (*Actor, error)

	// CreateAppointment assigns id, version and timestamps. A store-level
	// uniqueness violation comes back as the matching double-booking error.
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateAppointment writes the whole aggregate in one statement, checked
	// against a.Version; a stale token yields ErrStaleVersion.
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// Conflict checks. excludeID skips the appointment being rescheduled so
	// it never conflicts with itself; pass 0 on create.
	HasDoctorConflict(ctx context.Context, doctorID string, date time.Time, clock string, excludeID int64) (bool, error)
	HasPatientConflict(ctx context.Context, patientID string, date time.Time, clock string, excludeID int64) (bool, error)

	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, day *time.Time, limit, offset int) ([]Appointment, error)

	// FindPotentialNoShows returns at most limit candidates whose slot time
	// is on or before cutoff, not checked in, not yet flagged.
	FindPotentialNoShows(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)

	FindRemindersDue(ctx context.Context, day time.Time) ([]Reminder, error)

	// Scoped counts for the dashboard; never load-and-filter.
	CountDoctorBetween(ctx context.Context, doctorID string, from, to time.Time) (int, error)
	CountPendingCheckIns(ctx context.Context, doctorID string, day time.Time) (int, error)
	CountPendingReview(ctx context.Context, doctorID string) (int, error)
}
