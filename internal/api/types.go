package api

import (
	"time"

	"github.com/clinova/clinic-scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	PatientID   string `json:"patient_id"`
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"` // 2006-01-02
	Time        string `json:"time"` // 24h or 12h display form
	Type        string `json:"type,omitempty"`
	Note        string `json:"note,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Origin      string `json:"origin,omitempty"` // patient (default) or frontdesk
	PreApproved bool   `json:"pre_approved,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
}

type ReviewRequest struct {
	ActorID      string `json:"actor_id"`
	Action       string `json:"action"` // approve, needs_more_info, reject
	ProposedDate string `json:"proposed_date,omitempty"`
	ProposedTime string `json:"proposed_time,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type ActorRequest struct {
	ActorID string `json:"actor_id"`
}

type CancelRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

type DeclineRequest struct {
	DoctorID string `json:"doctor_id"`
	Reason   string `json:"reason,omitempty"`
}

type ConsultationResponse struct {
	Status      string     `json:"status"`
	ReviewedBy  *string    `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
}

type CheckInResponse struct {
	CheckedInAt   time.Time `json:"checked_in_at"`
	CheckedInBy   string    `json:"checked_in_by"`
	IsLate        bool      `json:"is_late"`
	LateByMinutes int       `json:"late_by_minutes"`
}

type NoShowResponse struct {
	NoShowAt time.Time `json:"no_show_at"`
	Reason   string    `json:"reason"`
	Notes    string    `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID           int64                 `json:"id"`
	PatientID    string                `json:"patient_id"`
	DoctorID     string                `json:"doctor_id"`
	Date         string                `json:"date"`
	Time         string                `json:"time"`
	Status       string                `json:"status"`
	Type         string                `json:"type,omitempty"`
	Note         string                `json:"note,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	Version      int                   `json:"version"`
	Consultation *ConsultationResponse `json:"consultation,omitempty"`
	CheckIn      *CheckInResponse      `json:"check_in,omitempty"`
	NoShow       *NoShowResponse       `json:"no_show,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment, warnings []string) AppointmentResponse {
	resp := AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      a.Date.Format("2006-01-02"),
		Time:      a.Time,
		Status:    string(a.Status),
		Type:      a.Type,
		Note:      a.Note,
		Reason:    a.Reason,
		Version:   a.Version,
		Warnings:  warnings,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.Consultation != nil {
		resp.Consultation = &ConsultationResponse{
			Status:      string(a.Consultation.Status),
			ReviewedBy:  a.Consultation.ReviewedBy,
			ReviewedAt:  a.Consultation.ReviewedAt,
			ReviewNotes: a.Consultation.ReviewNotes,
		}
	}
	if a.CheckIn != nil {
		resp.CheckIn = &CheckInResponse{
			CheckedInAt:   a.CheckIn.CheckedInAt,
			CheckedInBy:   a.CheckIn.CheckedInBy,
			IsLate:        a.CheckIn.IsLate,
			LateByMinutes: a.CheckIn.LateByMinutes,
		}
	}
	if a.NoShow != nil {
		resp.NoShow = &NoShowResponse{
			NoShowAt: a.NoShow.NoShowAt,
			Reason:   a.NoShow.Reason,
			Notes:    a.NoShow.Notes,
		}
	}
	return resp
}
