package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinova/clinic-scheduling/internal/config"
	"github.com/clinova/clinic-scheduling/internal/scheduling"
)

// stubRepo lets each test wire only the repository calls its handler path
// touches; everything else answers not-found.
type stubRepo struct {
	getAppointment     func(ctx context.Context, id int64) (*scheduling.Appointment, error)
	getPatient         func(ctx context.Context, id string) (*scheduling.Patient, error)
	getActor           func(ctx context.Context, id string) (*scheduling.Actor, error)
	createAppointment  func(ctx context.Context, a *scheduling.Appointment) (*scheduling.Appointment, error)
	updateAppointment  func(ctx context.Context, a *scheduling.Appointment) (*scheduling.Appointment, error)
	hasDoctorConflict  func(ctx context.Context, doctorID string, date time.Time, clock string, excludeID int64) (bool, error)
	hasPatientConflict func(ctx context.Context, patientID string, date time.Time, clock string, excludeID int64) (bool, error)
	listByPatient      func(ctx context.Context, patientID string, limit, offset int) ([]scheduling.Appointment, error)
	countDoctorBetween func(ctx context.Context, doctorID string, from, to time.Time) (int, error)
}

func (s *stubRepo) GetAppointmentByID(ctx context.Context, id int64) (*scheduling.Appointment, error) {
	if s.getAppointment != nil {
		return s.getAppointment(ctx, id)
	}
	return nil, scheduling.ErrAppointmentNotFound
}

func (s *stubRepo) GetConsultationFields(ctx context.Context, id int64) (*scheduling.ConsultationFields, error) {
	a, err := s.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Consultation, nil
}

func (s *stubRepo) GetPatientByID(ctx context.Context, id string) (*scheduling.Patient, error) {
	if s.getPatient != nil {
		return s.getPatient(ctx, id)
	}
	return nil, scheduling.ErrPatientNotFound
}

func (s *stubRepo) GetActorByID(ctx context.Context, id string) (*scheduling.Actor, error) {
	if s.getActor != nil {
		return s.getActor(ctx, id)
	}
	return nil, scheduling.ErrActorNotFound
}

func (s *stubRepo) CreateAppointment(ctx context.Context, a *scheduling.Appointment) (*scheduling.Appointment, error) {
	if s.createAppointment != nil {
		return s.createAppointment(ctx, a)
	}
	return nil, errors.New("unexpected CreateAppointment")
}

func (s *stubRepo) UpdateAppointment(ctx context.Context, a *scheduling.Appointment) (*scheduling.Appointment, error) {
	if s.updateAppointment != nil {
		return s.updateAppointment(ctx, a)
	}
	return nil, errors.New("unexpected UpdateAppointment")
}

func (s *stubRepo) HasDoctorConflict(ctx context.Context, doctorID string, date time.Time, clock string, excludeID int64) (bool, error) {
	if s.hasDoctorConflict != nil {
		return s.hasDoctorConflict(ctx, doctorID, date, clock, excludeID)
	}
	return false, nil
}

func (s *stubRepo) HasPatientConflict(ctx context.Context, patientID string, date time.Time, clock string, excludeID int64) (bool, error) {
	if s.hasPatientConflict != nil {
		return s.hasPatientConflict(ctx, patientID, date, clock, excludeID)
	}
	return false, nil
}

func (s *stubRepo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]scheduling.Appointment, error) {
	if s.listByPatient != nil {
		return s.listByPatient(ctx, patientID, limit, offset)
	}
	return nil, nil
}

func (s *stubRepo) ListByDoctor(ctx context.Context, doctorID string, day *time.Time, limit, offset int) ([]scheduling.Appointment, error) {
	return nil, nil
}

func (s *stubRepo) FindPotentialNoShows(ctx context.Context, cutoff time.Time, limit int) ([]scheduling.Appointment, error) {
	return nil, nil
}

func (s *stubRepo) FindRemindersDue(ctx context.Context, day time.Time) ([]scheduling.Reminder, error) {
	return nil, nil
}

func (s *stubRepo) CountDoctorBetween(ctx context.Context, doctorID string, from, to time.Time) (int, error) {
	if s.countDoctorBetween != nil {
		return s.countDoctorBetween(ctx, doctorID, from, to)
	}
	return 0, nil
}

func (s *stubRepo) CountPendingCheckIns(ctx context.Context, doctorID string, day time.Time) (int, error) {
	return 0, nil
}

func (s *stubRepo) CountPendingReview(ctx context.Context, doctorID string) (int, error) {
	return 0, nil
}

type inlineLocker struct{}

func (inlineLocker) WithSlotLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestRouter(repo scheduling.Repository) http.Handler {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	svc := scheduling.NewService(repo, inlineLocker{}, nil, nil, nil, config.Config{
		NoShowGrace:     time.Hour,
		NoShowBatchSize: 100,
		UpcomingWindow:  5,
	}, log)

	return NewRouter(RouterConfig{
		Service: svc,
		Log:     log,
		Env:     "test",
		Version: "test",
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if s, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(s))
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func futureDate(t *testing.T) string {
	t.Helper()
	return time.Now().AddDate(0, 0, 7).Format("2006-01-02")
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	repo := &stubRepo{
		getPatient: func(ctx context.Context, id string) (*scheduling.Patient, error) {
			return &scheduling.Patient{ID: id, Name: "Ada Kline", Email: "ada@example.com"}, nil
		},
		createAppointment: func(ctx context.Context, a *scheduling.Appointment) (*scheduling.Appointment, error) {
			out := *a
			out.ID = 1
			out.Version = 1
			return &out, nil
		},
	}
	router := newTestRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: "pat-1",
		DoctorID:  "doc-1",
		Date:      futureDate(t),
		Time:      "10:30 AM",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "10:30", resp.Time)
	require.NotNil(t, resp.Consultation)
	assert.Equal(t, "submitted", resp.Consultation.Status)
	assert.Empty(t, resp.Warnings)
}

func TestCreateAppointmentEndpointBadRequests(t *testing.T) {
	router := newTestRouter(&stubRepo{})

	rec := doJSON(t, router, http.MethodPost, "/appointments", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: "pat-1", DoctorID: "doc-1", Date: "10/06/2025", Time: "10:00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_date")
}

func TestCreateAppointmentEndpointConflict(t *testing.T) {
	repo := &stubRepo{
		getPatient: func(ctx context.Context, id string) (*scheduling.Patient, error) {
			return &scheduling.Patient{ID: id}, nil
		},
		hasDoctorConflict: func(ctx context.Context, doctorID string, date time.Time, clock string, excludeID int64) (bool, error) {
			return true, nil
		},
	}
	router := newTestRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: "pat-1", DoctorID: "doc-1", Date: futureDate(t), Time: "10:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "doctor_double_booked")
}

func TestCreateAppointmentEndpointUnknownPatient(t *testing.T) {
	router := newTestRouter(&stubRepo{})

	rec := doJSON(t, router, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: "ghost", DoctorID: "doc-1", Date: futureDate(t), Time: "10:00",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "patient_not_found")
}

func TestGetAppointmentEndpoint(t *testing.T) {
	repo := &stubRepo{
		getAppointment: func(ctx context.Context, id int64) (*scheduling.Appointment, error) {
			return &scheduling.Appointment{
				ID: id, PatientID: "pat-1", DoctorID: "doc-1",
				Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Time: "10:00",
				Status: scheduling.StatusScheduled, Version: 2,
			}, nil
		},
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/appointments/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, "2025-06-10", resp.Date)
	assert.Equal(t, 2, resp.Version)
}

func TestGetAppointmentEndpointBadID(t *testing.T) {
	router := newTestRouter(&stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/appointments/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/appointments/999", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAppointmentsEndpointRequiresFilter(t *testing.T) {
	router := newTestRouter(&stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_filter")
}

func TestListAppointmentsEndpointByPatient(t *testing.T) {
	repo := &stubRepo{
		listByPatient: func(ctx context.Context, patientID string, limit, offset int) ([]scheduling.Appointment, error) {
			assert.Equal(t, 20, limit, "default page size applies")
			return []scheduling.Appointment{{
				ID: 1, PatientID: patientID, DoctorID: "doc-1",
				Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Time: "10:00",
				Status: scheduling.StatusPending, Version: 1,
			}}, nil
		},
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/appointments?patient_id=pat-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "pat-1", resp[0].PatientID)
}

func TestConfirmEndpointInvalidTransition(t *testing.T) {
	repo := &stubRepo{
		getActor: func(ctx context.Context, id string) (*scheduling.Actor, error) {
			return &scheduling.Actor{ID: id, Role: scheduling.RoleDoctor}, nil
		},
		getAppointment: func(ctx context.Context, id int64) (*scheduling.Appointment, error) {
			return &scheduling.Appointment{
				ID: id, DoctorID: "doc-1", PatientID: "pat-1",
				Status: scheduling.StatusCompleted, Version: 1,
			}, nil
		},
	}
	router := newTestRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/appointments/7/confirm", ActorRequest{ActorID: "doc-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_status_transition")
}

func TestConfirmEndpointStaleVersion(t *testing.T) {
	repo := &stubRepo{
		getActor: func(ctx context.Context, id string) (*scheduling.Actor, error) {
			return &scheduling.Actor{ID: id, Role: scheduling.RoleDoctor}, nil
		},
		getAppointment: func(ctx context.Context, id int64) (*scheduling.Appointment, error) {
			return &scheduling.Appointment{
				ID: id, DoctorID: "doc-1", PatientID: "pat-1",
				Status: scheduling.StatusPendingDoctorConfirm, Version: 1,
			}, nil
		},
		updateAppointment: func(ctx context.Context, a *scheduling.Appointment) (*scheduling.Appointment, error) {
			return nil, scheduling.ErrStaleVersion
		},
	}
	router := newTestRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/appointments/7/confirm", ActorRequest{ActorID: "doc-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "stale_version")
}

func TestReviewEndpointPermissionDenied(t *testing.T) {
	repo := &stubRepo{
		getActor: func(ctx context.Context, id string) (*scheduling.Actor, error) {
			return &scheduling.Actor{ID: id, Role: scheduling.RoleDoctor}, nil
		},
	}
	router := newTestRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/appointments/7/review", ReviewRequest{
		ActorID: "doc-1", Action: "approve",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission_denied")
}

func TestDoctorStatsEndpoint(t *testing.T) {
	repo := &stubRepo{
		countDoctorBetween: func(ctx context.Context, doctorID string, from, to time.Time) (int, error) {
			if to.Sub(from) == 24*time.Hour {
				return 3, nil // today
			}
			return 8, nil // upcoming window
		},
	}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/doctors/doc-1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats scheduling.DoctorStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Today)
	assert.Equal(t, 8, stats.Upcoming)
}

func TestRequestIDHeader(t *testing.T) {
	router := newTestRouter(&stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/appointments?patient_id=pat-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{scheduling.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{scheduling.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{scheduling.ErrActorNotFound, http.StatusNotFound, "actor_not_found"},
		{scheduling.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
		{scheduling.ErrValidation, http.StatusUnprocessableEntity, "validation_failed"},
		{scheduling.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
		{scheduling.ErrDoctorDoubleBooked, http.StatusConflict, "doctor_double_booked"},
		{scheduling.ErrPatientDoubleBooked, http.StatusConflict, "patient_double_booked"},
		{scheduling.ErrSlotContended, http.StatusConflict, "slot_being_booked"},
		{scheduling.ErrStaleVersion, http.StatusConflict, "stale_version"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handleDomainError(rec, tc.err)
		assert.Equalf(t, tc.status, rec.Code, "error %v", tc.err)
		assert.Truef(t, strings.Contains(rec.Body.String(), tc.code), "error %v: body %s", tc.err, rec.Body.String())
	}
}
