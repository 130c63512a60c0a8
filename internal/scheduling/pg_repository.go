package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository uses; pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `
	id, patient_id, doctor_id, appointment_date, appointment_time, status,
	service_type, note, reason, version, created_at, updated_at,
	consultation_status, reviewed_by, reviewed_at, review_notes,
	checked_in_at, checked_in_by, is_late, late_by_minutes,
	no_show_at, no_show_reason, no_show_notes`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                  Appointment
		note, reason       *string
		consultationStatus *string
		reviewedBy         *string
		reviewedAt         *time.Time
		reviewNotes        *string
		checkedInAt        *time.Time
		checkedInBy        *string
		isLate             *bool
		lateByMinutes      *int
		noShowAt           *time.Time
		noShowReason       *string
		noShowNotes        *string
	)

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.Type,
		&note,
		&reason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
		&consultationStatus,
		&reviewedBy,
		&reviewedAt,
		&reviewNotes,
		&checkedInAt,
		&checkedInBy,
		&isLate,
		&lateByMinutes,
		&noShowAt,
		&noShowReason,
		&noShowNotes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if note != nil {
		a.Note = *note
	}
	if reason != nil {
		a.Reason = *reason
	}

	if consultationStatus != nil {
		c := &ConsultationFields{
			Status:     ConsultationStatus(*consultationStatus),
			ReviewedBy: reviewedBy,
			ReviewedAt: reviewedAt,
		}
		if reviewNotes != nil {
			c.ReviewNotes = *reviewNotes
		}
		a.Consultation = c
	}

	if checkedInAt != nil {
		ci := &CheckInInfo{CheckedInAt: *checkedInAt}
		if checkedInBy != nil {
			ci.CheckedInBy = *checkedInBy
		}
		if isLate != nil {
			ci.IsLate = *isLate
		}
		if lateByMinutes != nil {
			ci.LateByMinutes = *lateByMinutes
		}
		a.CheckIn = ci
	}

	if noShowAt != nil {
		ns := &NoShowInfo{NoShowAt: *noShowAt}
		if noShowReason != nil {
			ns.Reason = *noShowReason
		}
		if noShowNotes != nil {
			ns.Notes = *noShowNotes
		}
		a.NoShow = ns
	}

	return &a, nil
}

// consultationArgs flattens the optional composed values for INSERT/UPDATE.
func consultationArgs(a *Appointment) (status, reviewedBy *string, reviewedAt *time.Time, notes *string) {
	if a.Consultation == nil {
		return nil, nil, nil, nil
	}
	s := string(a.Consultation.Status)
	n := a.Consultation.ReviewNotes
	return &s, a.Consultation.ReviewedBy, a.Consultation.ReviewedAt, &n
}

func checkInArgs(a *Appointment) (at *time.Time, by *string, late *bool, lateBy *int) {
	if a.CheckIn == nil {
		return nil, nil, nil, nil
	}
	return &a.CheckIn.CheckedInAt, &a.CheckIn.CheckedInBy, &a.CheckIn.IsLate, &a.CheckIn.LateByMinutes
}

func noShowArgs(a *Appointment) (at *time.Time, reason, notes *string) {
	if a.NoShow == nil {
		return nil, nil, nil
	}
	return &a.NoShow.NoShowAt, &a.NoShow.Reason, &a.NoShow.Notes
}

// mapUniqueViolation translates the partial unique indexes into the
// double-booking errors the orchestrators surface.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "appointments_doctor_slot_key":
			return ErrDoctorDoubleBooked
		case "appointments_patient_slot_key":
			return ErrPatientDoubleBooked
		}
		return ErrDoctorDoubleBooked
	}
	return err
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetConsultationFields(ctx context.Context, id int64) (*ConsultationFields, error) {
	a, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Consultation, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetActorByID(ctx context.Context, id string) (*Actor, error) {
	var u Actor
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActorNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	cStatus, cBy, cAt, cNotes := consultationArgs(a)

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			patient_id, doctor_id, appointment_date, appointment_time, status,
			service_type, note, reason, version, created_at, updated_at,
			consultation_status, reviewed_by, reviewed_at, review_notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, now(), now(), $9, $10, $11, $12)
		RETURNING `+appointmentColumns,
		a.PatientID, a.DoctorID, a.Date, a.Time, a.Status,
		a.Type, a.Note, a.Reason,
		cStatus, cBy, cAt, cNotes,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	cStatus, cBy, cAt, cNotes := consultationArgs(a)
	ciAt, ciBy, ciLate, ciLateBy := checkInArgs(a)
	nsAt, nsReason, nsNotes := noShowArgs(a)

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $3,
		    appointment_time = $4,
		    status = $5,
		    service_type = $6,
		    note = $7,
		    reason = $8,
		    consultation_status = $9,
		    reviewed_by = $10,
		    reviewed_at = $11,
		    review_notes = $12,
		    checked_in_at = $13,
		    checked_in_by = $14,
		    is_late = $15,
		    late_by_minutes = $16,
		    no_show_at = $17,
		    no_show_reason = $18,
		    no_show_notes = $19,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		a.ID, a.Version,
		a.Date, a.Time, a.Status, a.Type, a.Note, a.Reason,
		cStatus, cBy, cAt, cNotes,
		ciAt, ciBy, ciLate, ciLateBy,
		nsAt, nsReason, nsNotes,
	)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, mapUniqueViolation(err)
	}

	// No row matched: either the id is gone or the version token is stale.
	var exists bool
	checkErr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists)
	if checkErr != nil {
		return nil, fmt.Errorf("update appointment %d: %w", a.ID, checkErr)
	}
	if exists {
		return nil, ErrStaleVersion
	}
	return nil, ErrAppointmentNotFound
}

func (r *PgRepository) HasDoctorConflict(ctx context.Context, doctorID string, date time.Time, clock string, excludeID int64) (bool, error) {
	var conflict bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND appointment_date = $2
			  AND appointment_time = $3
			  AND status <> 'cancelled'
			  AND id <> $4
		)
	`, doctorID, date, clock, excludeID).Scan(&conflict)
	if err != nil {
		return false, fmt.Errorf("check doctor conflict: %w", err)
	}
	return conflict, nil
}

func (r *PgRepository) HasPatientConflict(ctx context.Context, patientID string, date time.Time, clock string, excludeID int64) (bool, error) {
	var conflict bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM appointments
			WHERE patient_id = $1
			  AND appointment_date = $2
			  AND appointment_time = $3
			  AND status <> 'cancelled'
			  AND id <> $4
		)
	`, patientID, date, clock, excludeID).Scan(&conflict)
	if err != nil {
		return false, fmt.Errorf("check patient conflict: %w", err)
	}
	return conflict, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID string, day *time.Time, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND ($2::date IS NULL OR appointment_date = $2)
		ORDER BY appointment_date, appointment_time
		LIMIT $3 OFFSET $4
	`, doctorID, day, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) FindPotentialNoShows(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'scheduled')
		  AND checked_in_at IS NULL
		  AND no_show_at IS NULL
		  AND appointment_date + appointment_time::time <= $1
		ORDER BY appointment_date, appointment_time
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) FindRemindersDue(ctx context.Context, day time.Time) ([]Reminder, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, p.name, p.email, a.doctor_id, a.appointment_date, a.appointment_time
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.appointment_date = $1
		  AND a.status NOT IN ('cancelled', 'completed', 'no_show')
		ORDER BY a.appointment_time
	`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reminder
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(&rem.AppointmentID, &rem.PatientName, &rem.PatientEmail, &rem.DoctorID, &rem.Date, &rem.Time); err != nil {
			return nil, err
		}
		result = append(result, rem)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountDoctorBetween(ctx context.Context, doctorID string, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND appointment_date >= $2
		  AND appointment_date < $3
	`, doctorID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count doctor appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) CountPendingCheckIns(ctx context.Context, doctorID string, day time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status IN ('scheduled', 'pending')
		  AND checked_in_at IS NULL
	`, doctorID, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending check-ins: %w", err)
	}
	return n, nil
}

func (r *PgRepository) CountPendingReview(ctx context.Context, doctorID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND consultation_status IN ('pending_review', 'approved')
	`, doctorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending review: %w", err)
	}
	return n, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
