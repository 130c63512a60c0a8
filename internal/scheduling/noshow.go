package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepNoShows flags appointments whose slot time plus the grace window has
// elapsed without a check-in. Each run handles at most the configured batch
// size; the worker calls it repeatedly, so one invocation stays cheap.
// Returns the number of appointments transitioned.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.NoShowGrace)

	candidates, err := s.repo.FindPotentialNoShows(ctx, cutoff, s.cfg.NoShowBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find potential no-shows: %w", err)
	}

	swept := 0
	for i := range candidates {
		appt := candidates[i]

		if err := ValidateTransition(appt.Status, StatusNoShow); err != nil {
			continue
		}
		appt.Status = StatusNoShow
		appt.NoShow = &NoShowInfo{
			NoShowAt: now,
			Reason:   "no check-in within grace window",
			Notes:    fmt.Sprintf("grace window %s elapsed after slot %s %s", s.cfg.NoShowGrace, appt.Date.Format("2006-01-02"), appt.Time),
		}

		if _, err := s.repo.UpdateAppointment(ctx, &appt); err != nil {
			// A concurrent check-in or cancellation won the race; skip it.
			if errors.Is(err, ErrStaleVersion) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.WithField("appointment_id", appt.ID).WithError(err).Error("failed to flag no-show")
			continue
		}

		s.metrics.ObserveNoShow()
		if s.audit != nil {
			if err := s.audit.Record(ctx, "system", appt.ID, "appointment.no_show", "appointment", map[string]any{
				"reason": appt.NoShow.Reason,
			}); err != nil {
				s.log.WithField("appointment_id", appt.ID).WithError(err).Warn("audit record failed")
			}
		}
		swept++
	}

	if swept > 0 {
		s.log.WithFields(logrus.Fields{"swept": swept, "candidates": len(candidates)}).Info("no-show sweep complete")
	}
	return swept, nil
}

// SendReminders emails every patient with a live appointment on the given
// day. Delivery is best-effort; a failed send is logged and counted, never
// fatal.
func (s *Service) SendReminders(ctx context.Context, day time.Time) (sent int, failed int, err error) {
	target := DateOnly(day)

	reminders, err := s.repo.FindRemindersDue(ctx, target)
	if err != nil {
		return 0, 0, fmt.Errorf("find reminders due: %w", err)
	}

	for _, rem := range reminders {
		if s.notifier == nil || rem.PatientEmail == "" {
			continue
		}
		body := fmt.Sprintf("Hi %s, this is a reminder of your appointment on %s at %s.",
			rem.PatientName, rem.Date.Format("2006-01-02"), rem.Time)
		if err := s.notifier.SendEmail(ctx, rem.PatientEmail, "Appointment reminder", body); err != nil {
			s.log.WithField("appointment_id", rem.AppointmentID).WithError(err).Warn("reminder email failed")
			failed++
			continue
		}
		sent++
	}

	return sent, failed, nil
}
