package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinova/clinic-scheduling/internal/scheduling"
)

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as 2006-01-02")
			return
		}

		origin := scheduling.OriginPatient
		if req.Origin == string(scheduling.OriginFrontdesk) {
			origin = scheduling.OriginFrontdesk
		}

		res, err := svc.Create(r.Context(), scheduling.CreateParams{
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
			Date:        date,
			Time:        req.Time,
			Type:        req.Type,
			Note:        req.Note,
			Reason:      req.Reason,
			Origin:      origin,
			PreApproved: req.PreApproved,
			ActorID:     req.ActorID,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(res.Appointment, res.Warnings))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, nil))
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		var (
			appts []scheduling.Appointment
			err   error
		)
		switch {
		case q.Get("patient_id") != "":
			appts, err = svc.ListByPatient(r.Context(), q.Get("patient_id"), limit, offset)
		case q.Get("doctor_id") != "":
			var day *time.Time
			if d := q.Get("date"); d != "" {
				parsed, perr := time.Parse("2006-01-02", d)
				if perr != nil {
					writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as 2006-01-02")
					return
				}
				day = &parsed
			}
			appts, err = svc.ListByDoctor(r.Context(), q.Get("doctor_id"), day, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
			return
		}
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i], nil))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func confirmAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}
		var req ActorRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Confirm(r.Context(), id, req.ActorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment, res.Warnings))
	}
}

func reviewAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}
		var req ReviewRequest
		if !decodeBody(w, r, &req) {
			return
		}

		params := scheduling.ReviewParams{
			AppointmentID: id,
			ActorID:       req.ActorID,
			Action:        scheduling.ReviewAction(req.Action),
			ProposedTime:  req.ProposedTime,
			Notes:         req.Notes,
		}
		if req.ProposedDate != "" {
			date, perr := time.Parse("2006-01-02", req.ProposedDate)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "proposed_date must be formatted as 2006-01-02")
				return
			}
			params.ProposedDate = &date
		}

		res, err := svc.Review(r.Context(), params)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment, res.Warnings))
	}
}

func declineAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}
		var req DeclineRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Decline(r.Context(), id, req.DoctorID, req.Reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment, res.Warnings))
	}
}

func checkInAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}
		var req ActorRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.CheckIn(r.Context(), id, req.ActorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment, res.Warnings))
	}
}

func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}
		var req ActorRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Complete(r.Context(), id, req.ActorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment, res.Warnings))
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}
		var req CancelRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Cancel(r.Context(), id, req.ActorID, req.Reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(res.Appointment, res.Warnings))
	}
}

func doctorStatsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := chi.URLParam(r, "doctorID")
		stats, err := svc.DoctorStats(r.Context(), doctorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrActorNotFound):
		writeError(w, http.StatusNotFound, "actor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, scheduling.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrDoctorDoubleBooked):
		writeError(w, http.StatusConflict, "doctor_double_booked", err.Error())
	case errors.Is(err, scheduling.ErrPatientDoubleBooked):
		writeError(w, http.StatusConflict, "patient_double_booked", err.Error())
	case errors.Is(err, scheduling.ErrSlotContended):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, scheduling.ErrStaleVersion):
		writeError(w, http.StatusConflict, "stale_version", err.Error())
	case errors.Is(err, scheduling.ErrConflict):
		writeError(w, http.StatusConflict, "scheduling_conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
