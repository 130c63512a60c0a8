package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinova/clinic-scheduling/internal/config"
	"github.com/clinova/clinic-scheduling/internal/observability/metrics"
	redisclient "github.com/clinova/clinic-scheduling/internal/redis"
)

// ErrSlotContended is returned when another booking holds the slot lock.
var ErrSlotContended = fmt.Errorf("%w: slot is being booked concurrently, please retry", ErrConflict)

// Notifier delivers best-effort emails. Failures never fail a workflow.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// AuditLog records workflow events. Best-effort like Notifier.
type AuditLog interface {
	Record(ctx context.Context, actorID string, recordID int64, action, model string, details map[string]any) error
}

// Result is the two-phase outcome of a workflow operation: the committed
// appointment plus any recoverable phase-2 (notify/audit) warnings.
type Result struct {
	Appointment *Appointment
	Warnings    []string
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	audit    AuditLog
	metrics  *metrics.SchedulingMetrics
	cfg      config.Config
	log      *logrus.Logger
	now      Clock
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, audit AuditLog, m *metrics.SchedulingMetrics, cfg config.Config, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		audit:    audit,
		metrics:  m,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// WithClock swaps the time source; used by tests and nothing else.
func (s *Service) WithClock(c Clock) *Service {
	s.now = c
	return s
}

type Origin string

const (
	OriginPatient   Origin = "patient"
	OriginFrontdesk Origin = "frontdesk"
)

type CreateParams struct {
	PatientID string
	DoctorID  string
	Date      time.Time
	Time      string
	Type      string
	Note      string
	Reason    string
	Origin    Origin
	// PreApproved marks a frontdesk direct-create that skips triage and
	// starts the consultation sub-workflow at approved.
	PreApproved bool
	ActorID     string
}

// Create books a new appointment. The doctor-side and patient-side conflict
// checks and the insert run inside per-slot locks; the partial unique indexes
// re-validate at commit so a racing winner-take-all loser still gets a
// double-booking error.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Result, error) {
	if p.PatientID == "" || p.DoctorID == "" {
		return nil, validationf("patient id and doctor id are required")
	}
	if p.Date.IsZero() {
		return nil, validationf("appointment date is required")
	}

	clock, err := NormalizeClockTime(p.Time)
	if err != nil {
		return nil, err
	}
	date := DateOnly(p.Date)
	if date.Before(DateOnly(s.now())) {
		return nil, validationf("appointment date %s is in the past", date.Format("2006-01-02"))
	}

	patient, err := s.repo.GetPatientByID(ctx, p.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	appt := &Appointment{
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Date:      date,
		Time:      clock,
		Type:      p.Type,
		Note:      p.Note,
		Reason:    p.Reason,
	}

	switch p.Origin {
	case OriginFrontdesk:
		appt.Status = StatusPendingDoctorConfirm
		if p.PreApproved {
			if err := ValidateConsultationTransition(ConsultationNone, ConsultationApproved); err != nil {
				return nil, err
			}
			now := s.now()
			actorID := p.ActorID
			appt.Consultation = &ConsultationFields{
				Status:     ConsultationApproved,
				ReviewedBy: &actorID,
				ReviewedAt: &now,
			}
		}
	default:
		appt.Status = StatusPending
		appt.Consultation = &ConsultationFields{Status: ConsultationSubmitted}
	}

	dateKey := date.Format("2006-01-02")
	keys := []string{
		redisclient.DoctorSlotKey(p.DoctorID, dateKey, clock),
		redisclient.PatientSlotKey(p.PatientID, dateKey, clock),
	}

	var created *Appointment
	err = s.locker.WithSlotLocks(ctx, keys, func(lockCtx context.Context) error {
		if conflict, err := s.repo.HasDoctorConflict(lockCtx, p.DoctorID, date, clock, 0); err != nil {
			return fmt.Errorf("check doctor conflict: %w", err)
		} else if conflict {
			return ErrDoctorDoubleBooked
		}

		if conflict, err := s.repo.HasPatientConflict(lockCtx, p.PatientID, date, clock, 0); err != nil {
			return fmt.Errorf("check patient conflict: %w", err)
		} else if conflict {
			return ErrPatientDoubleBooked
		}

		var err error
		created, err = s.repo.CreateAppointment(lockCtx, appt)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotContended
		}
		if errors.Is(err, ErrConflict) {
			s.metrics.ObserveConflict(conflictSide(err))
		}
		return nil, err
	}

	s.metrics.ObserveBooking(string(created.Status))

	res := &Result{Appointment: created}
	s.recordAudit(ctx, res, p.ActorID, created.ID, "appointment.created", map[string]any{
		"doctor_id": created.DoctorID,
		"date":      dateKey,
		"time":      created.Time,
		"origin":    string(p.Origin),
	})
	s.sendEmail(ctx, res, patient.Email,
		"Appointment request received",
		fmt.Sprintf("Hi %s, your appointment request with doctor %s for %s at %s was received and is awaiting confirmation.",
			patient.Name, created.DoctorID, dateKey, created.Time))

	return res, nil
}

// Confirm moves a requested appointment onto the doctor's schedule.
func (s *Service) Confirm(ctx context.Context, id int64, actorID string) (*Result, error) {
	actor, err := s.repo.GetActorByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role == RoleDoctor && actor.ID != appt.DoctorID {
		return nil, fmt.Errorf("%w: appointment belongs to another doctor", ErrPermissionDenied)
	}
	if actor.Role != RoleDoctor && actor.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: role %s cannot confirm appointments", ErrPermissionDenied, actor.Role)
	}

	if err := ValidateTransition(appt.Status, StatusScheduled); err != nil {
		return nil, err
	}
	appt.Status = StatusScheduled

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(StatusScheduled))

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, actorID, id, "appointment.confirmed", nil)
	s.notifyPatient(ctx, res, updated,
		"Appointment confirmed",
		fmt.Sprintf("Your appointment on %s at %s has been confirmed.", updated.Date.Format("2006-01-02"), updated.Time))

	return res, nil
}

// CheckIn records the patient's arrival and lateness against the slot time.
func (s *Service) CheckIn(ctx context.Context, id int64, actorID string) (*Result, error) {
	actor, err := s.repo.GetActorByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.CheckIn != nil {
		return nil, validationf("appointment %d is already checked in", id)
	}
	if appt.Status != StatusPending && appt.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: cannot check in appointment in status %s", ErrInvalidTransition, appt.Status)
	}

	now := s.now()
	ci := &CheckInInfo{
		CheckedInAt: now,
		CheckedInBy: actor.ID,
	}
	if slot := appt.SlotTime(); now.After(slot) {
		ci.IsLate = true
		ci.LateByMinutes = int(now.Sub(slot).Minutes())
	}
	appt.CheckIn = ci

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, actorID, id, "appointment.checked_in", map[string]any{
		"is_late":         ci.IsLate,
		"late_by_minutes": ci.LateByMinutes,
	})
	return res, nil
}

// Complete marks a consultation finished.
func (s *Service) Complete(ctx context.Context, id int64, actorID string) (*Result, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := ValidateTransition(appt.Status, StatusCompleted); err != nil {
		return nil, err
	}
	appt.Status = StatusCompleted

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(StatusCompleted))

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, actorID, id, "appointment.completed", nil)
	return res, nil
}

// Cancel transitions any non-terminal appointment to cancelled. Cancelling a
// cancelled or completed appointment fails without touching the row.
func (s *Service) Cancel(ctx context.Context, id int64, actorID, reason string) (*Result, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := ValidateTransition(appt.Status, StatusCancelled); err != nil {
		return nil, err
	}
	appt.Status = StatusCancelled
	appt.Note = appendNote(appt.Note, fmt.Sprintf("cancelled by %s: %s", actorID, reason))

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(StatusCancelled))

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, actorID, id, "appointment.cancelled", map[string]any{"reason": reason})
	s.notifyPatient(ctx, res, updated,
		"Appointment cancelled",
		fmt.Sprintf("Your appointment on %s at %s was cancelled.", updated.Date.Format("2006-01-02"), updated.Time))
	return res, nil
}

// Decline is the doctor-initiated rejection of an appointment assigned to
// them. The consultation status is left as last recorded.
func (s *Service) Decline(ctx context.Context, id int64, doctorID, reason string) (*Result, error) {
	actor, err := s.repo.GetActorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleDoctor {
		return nil, fmt.Errorf("%w: only doctors can decline appointments", ErrPermissionDenied)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, fmt.Errorf("%w: appointment is assigned to another doctor", ErrPermissionDenied)
	}
	if appt.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, appt.Status)
	}

	if err := ValidateTransition(appt.Status, StatusCancelled); err != nil {
		return nil, err
	}
	appt.Status = StatusCancelled
	appt.Note = appendNote(appt.Note, fmt.Sprintf("declined by doctor %s at %s: %s",
		doctorID, s.now().Format(time.RFC3339), reason))

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(StatusCancelled))

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, doctorID, id, "appointment.declined", map[string]any{"reason": reason})
	s.notifyPatient(ctx, res, updated,
		"Appointment declined",
		fmt.Sprintf("Your appointment on %s at %s was declined by the doctor. Reason: %s",
			updated.Date.Format("2006-01-02"), updated.Time, reason))
	return res, nil
}

// GetAppointment loads a single aggregate.
func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListByPatient pages through a patient's appointments.
func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ListByDoctor pages through a doctor's appointments, optionally for one day.
func (s *Service) ListByDoctor(ctx context.Context, doctorID string, day *time.Time, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	if day != nil {
		d := DateOnly(*day)
		day = &d
	}
	return s.repo.ListByDoctor(ctx, doctorID, day, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func appendNote(existing, entry string) string {
	if existing == "" {
		return entry
	}
	return existing + "\n" + entry
}

func conflictSide(err error) string {
	switch {
	case errors.Is(err, ErrPatientDoubleBooked):
		return "patient"
	case errors.Is(err, ErrDoctorDoubleBooked):
		return "doctor"
	default:
		return "contention"
	}
}

// recordAudit and the notify helpers implement the phase-2 contract: the
// transactional write has committed, so failures here become warnings on the
// result instead of errors.
func (s *Service) recordAudit(ctx context.Context, res *Result, actorID string, recordID int64, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, actorID, recordID, action, "appointment", details); err != nil {
		s.log.WithFields(logrus.Fields{
			"appointment_id": recordID,
			"action":         action,
		}).WithError(err).Warn("audit record failed")
		res.Warnings = append(res.Warnings, fmt.Sprintf("audit %s failed: %v", action, err))
	}
}

func (s *Service) sendEmail(ctx context.Context, res *Result, to, subject, body string) {
	if s.notifier == nil || to == "" {
		return
	}
	if err := s.notifier.SendEmail(ctx, to, subject, body); err != nil {
		s.log.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).WithError(err).Warn("notification failed")
		res.Warnings = append(res.Warnings, fmt.Sprintf("notification %q failed: %v", subject, err))
	}
}

func (s *Service) notifyPatient(ctx context.Context, res *Result, appt *Appointment, subject, body string) {
	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		s.log.WithField("patient_id", appt.PatientID).WithError(err).Warn("patient lookup for notification failed")
		res.Warnings = append(res.Warnings, fmt.Sprintf("notification %q failed: %v", subject, err))
		return
	}
	s.sendEmail(ctx, res, patient.Email, subject, body)
}

func (s *Service) notifyDoctor(ctx context.Context, res *Result, doctorID, subject, body string) {
	actor, err := s.repo.GetActorByID(ctx, doctorID)
	if err != nil {
		s.log.WithField("doctor_id", doctorID).WithError(err).Warn("doctor lookup for notification failed")
		res.Warnings = append(res.Warnings, fmt.Sprintf("notification %q failed: %v", subject, err))
		return
	}
	s.sendEmail(ctx, res, actor.Email, subject, body)
}
