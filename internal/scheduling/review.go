package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisclient "github.com/clinova/clinic-scheduling/internal/redis"
)

type ReviewAction string

const (
	ReviewApprove       ReviewAction = "approve"
	ReviewNeedsMoreInfo ReviewAction = "needs_more_info"
	ReviewReject        ReviewAction = "reject"
)

type ReviewParams struct {
	AppointmentID int64
	ActorID       string
	Action        ReviewAction
	// ProposedDate and ProposedTime are required for approve-with-slot; an
	// approve without them only advances the sub-workflow to approved.
	ProposedDate *time.Time
	ProposedTime string
	Notes        string
}

// Review applies a triage action to a consultation request. Approving with a
// concrete slot is the join point between the two state machines: the
// consultation advances current -> approved -> scheduled, the coarse status
// moves to scheduled and the slot is rewritten, all in a single
// version-checked write. If any edge is illegal nothing is persisted.
func (s *Service) Review(ctx context.Context, p ReviewParams) (*Result, error) {
	actor, err := s.repo.GetActorByID(ctx, p.ActorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleFrontdesk && actor.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: role %s cannot review consultation requests", ErrPermissionDenied, actor.Role)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}

	switch p.Action {
	case ReviewApprove:
		return s.reviewApprove(ctx, actor, appt, p)
	case ReviewNeedsMoreInfo:
		return s.reviewNeedsMoreInfo(ctx, actor, appt, p)
	case ReviewReject:
		return s.reviewReject(ctx, actor, appt, p)
	default:
		return nil, validationf("unknown review action %q", p.Action)
	}
}

func (s *Service) reviewApprove(ctx context.Context, actor *Actor, appt *Appointment, p ReviewParams) (*Result, error) {
	// Terminal appointments freeze their consultation; a cancelled or
	// completed appointment must never mail the patient an approval.
	if appt.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, appt.Status)
	}

	current := appt.ConsultationStatusOrNone()
	withSlot := p.ProposedDate != nil || p.ProposedTime != ""

	if !withSlot {
		// Approve only; the coarse status is left untouched.
		if err := ValidateConsultationTransition(current, ConsultationApproved); err != nil {
			return nil, err
		}
		s.stampReview(appt, actor.ID, ConsultationApproved, p.Notes)

		updated, err := s.repo.UpdateAppointment(ctx, appt)
		if err != nil {
			return nil, err
		}

		res := &Result{Appointment: updated}
		s.recordAudit(ctx, res, actor.ID, appt.ID, "consultation.approved", nil)
		s.notifyPatient(ctx, res, updated,
			"Consultation request approved",
			"Your consultation request has been approved. We will contact you with a time slot.")
		return res, nil
	}

	if p.ProposedDate == nil || p.ProposedTime == "" {
		return nil, validationf("approve requires both a proposed date and a proposed time")
	}
	clock, err := NormalizeClockTime(p.ProposedTime)
	if err != nil {
		return nil, err
	}
	date := DateOnly(*p.ProposedDate)
	if date.Before(DateOnly(s.now())) {
		return nil, validationf("proposed date %s is in the past", date.Format("2006-01-02"))
	}

	// Both consultation edges and the lifecycle edge must be legal before
	// anything is written.
	if err := ValidateConsultationTransition(current, ConsultationApproved); err != nil {
		return nil, err
	}
	if err := ValidateConsultationTransition(ConsultationApproved, ConsultationScheduled); err != nil {
		return nil, err
	}
	if err := ValidateTransition(appt.Status, StatusScheduled); err != nil {
		return nil, err
	}

	dateKey := date.Format("2006-01-02")
	keys := []string{
		redisclient.DoctorSlotKey(appt.DoctorID, dateKey, clock),
		redisclient.PatientSlotKey(appt.PatientID, dateKey, clock),
	}

	var updated *Appointment
	err = s.locker.WithSlotLocks(ctx, keys, func(lockCtx context.Context) error {
		// The appointment's own row must not count against its new slot.
		if conflict, err := s.repo.HasDoctorConflict(lockCtx, appt.DoctorID, date, clock, appt.ID); err != nil {
			return fmt.Errorf("check doctor conflict: %w", err)
		} else if conflict {
			return ErrDoctorDoubleBooked
		}
		if conflict, err := s.repo.HasPatientConflict(lockCtx, appt.PatientID, date, clock, appt.ID); err != nil {
			return fmt.Errorf("check patient conflict: %w", err)
		} else if conflict {
			return ErrPatientDoubleBooked
		}

		s.stampReview(appt, actor.ID, ConsultationScheduled, p.Notes)
		appt.Status = StatusScheduled
		appt.Date = date
		appt.Time = clock

		var err error
		updated, err = s.repo.UpdateAppointment(lockCtx, appt)
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
	s.metrics.ObserveTransition(string(StatusScheduled))

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, actor.ID, appt.ID, "consultation.scheduled", map[string]any{
		"date": dateKey,
		"time": clock,
	})
	s.notifyPatient(ctx, res, updated,
		"Consultation scheduled",
		fmt.Sprintf("Your consultation has been scheduled for %s at %s.", dateKey, clock))
	s.notifyDoctor(ctx, res, updated.DoctorID,
		"New consultation scheduled",
		fmt.Sprintf("A consultation was scheduled on your calendar for %s at %s.", dateKey, clock))
	return res, nil
}

func (s *Service) reviewNeedsMoreInfo(ctx context.Context, actor *Actor, appt *Appointment, p ReviewParams) (*Result, error) {
	if appt.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, appt.Status)
	}
	if p.Notes == "" {
		return nil, validationf("needs_more_info requires review notes")
	}
	if err := ValidateConsultationTransition(appt.ConsultationStatusOrNone(), ConsultationNeedsMoreInfo); err != nil {
		return nil, err
	}
	s.stampReview(appt, actor.ID, ConsultationNeedsMoreInfo, p.Notes)

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, actor.ID, appt.ID, "consultation.needs_more_info", map[string]any{"notes": p.Notes})
	s.notifyPatient(ctx, res, updated,
		"More information needed",
		fmt.Sprintf("We need more information about your consultation request: %s", p.Notes))
	return res, nil
}

// reviewReject cancels the appointment regardless of the current consultation
// state; no graph edge is validated on this path. The consultation lands in
// the terminal rejected state so the outcome stays auditable.
func (s *Service) reviewReject(ctx context.Context, actor *Actor, appt *Appointment, p ReviewParams) (*Result, error) {
	if appt.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, appt.Status)
	}

	s.stampReview(appt, actor.ID, ConsultationRejected, p.Notes)
	appt.Status = StatusCancelled
	appt.Note = appendNote(appt.Note, fmt.Sprintf("consultation request rejected by %s", actor.ID))

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(StatusCancelled))

	res := &Result{Appointment: updated}
	s.recordAudit(ctx, res, actor.ID, appt.ID, "consultation.rejected", map[string]any{"notes": p.Notes})
	s.notifyPatient(ctx, res, updated,
		"Consultation request declined",
		"Unfortunately your consultation request could not be accommodated. Please contact the clinic for alternatives.")
	return res, nil
}

// stampReview overwrites the reviewer fields; reviews replace, never append.
func (s *Service) stampReview(appt *Appointment, actorID string, status ConsultationStatus, notes string) {
	now := s.now()
	if appt.Consultation == nil {
		appt.Consultation = &ConsultationFields{}
	}
	appt.Consultation.Status = status
	appt.Consultation.ReviewedBy = &actorID
	appt.Consultation.ReviewedAt = &now
	if notes != "" {
		appt.Consultation.ReviewNotes = notes
	}
}
