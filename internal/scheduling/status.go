package scheduling

import "fmt"

// lifecycleEdges is the coarse appointment state machine. Absent keys or
// targets are illegal; cancelled and completed have no outgoing edges.
var lifecycleEdges = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:              {StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusPendingDoctorConfirm: {StatusScheduled, StatusCancelled},
	StatusScheduled:            {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusNoShow:               {StatusCancelled},
}

// consultationEdges is the nested triage state machine. ConsultationNone is a
// legal source: a frontdesk-created appointment may start out pre-approved,
// but may never jump straight to scheduled.
var consultationEdges = map[ConsultationStatus][]ConsultationStatus{
	ConsultationNone:          {ConsultationPendingReview, ConsultationApproved},
	ConsultationSubmitted:     {ConsultationPendingReview, ConsultationApproved, ConsultationNeedsMoreInfo},
	ConsultationPendingReview: {ConsultationApproved, ConsultationNeedsMoreInfo},
	ConsultationNeedsMoreInfo: {ConsultationPendingReview, ConsultationApproved},
	ConsultationApproved:      {ConsultationScheduled},
	ConsultationScheduled:     {ConsultationConfirmed},
}

// IsTerminal reports whether the coarse status admits no further transitions.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to AppointmentStatus) bool {
	for _, t := range lifecycleEdges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition (wrapped with the offending
// edge) when from -> to is not in the lifecycle graph.
func ValidateTransition(from, to AppointmentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: appointment %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ConsultationCanTransition reports whether from -> to is a legal
// consultation edge.
func ConsultationCanTransition(from, to ConsultationStatus) bool {
	for _, t := range consultationEdges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateConsultationTransition returns ErrInvalidTransition when from -> to
// is not in the consultation graph.
func ValidateConsultationTransition(from, to ConsultationStatus) error {
	if !ConsultationCanTransition(from, to) {
		f := string(from)
		if f == "" {
			f = "none"
		}
		return fmt.Errorf("%w: consultation %s -> %s", ErrInvalidTransition, f, to)
	}
	return nil
}
