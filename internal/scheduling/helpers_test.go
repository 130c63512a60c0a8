package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinova/clinic-scheduling/internal/config"
	redisclient "github.com/clinova/clinic-scheduling/internal/redis"
)

// memRepo is an in-memory Repository with the same uniqueness and version
// semantics as the Postgres implementation. Its brute-force count methods
// double as the oracle for the aggregation tests.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	appts    map[int64]*Appointment
	patients map[string]*Patient
	actors   map[string]*Actor
	now      func() time.Time
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{
		nextID:   1,
		appts:    make(map[int64]*Appointment),
		patients: make(map[string]*Patient),
		actors:   make(map[string]*Actor),
		now:      now,
	}
}

func (r *memRepo) addPatient(p Patient) { r.patients[p.ID] = &p }
func (r *memRepo) addActor(a Actor)     { r.actors[a.ID] = &a }

func cloneAppt(a *Appointment) *Appointment {
	c := *a
	if a.Consultation != nil {
		cf := *a.Consultation
		c.Consultation = &cf
	}
	if a.CheckIn != nil {
		ci := *a.CheckIn
		c.CheckIn = &ci
	}
	if a.NoShow != nil {
		ns := *a.NoShow
		c.NoShow = &ns
	}
	return &c
}

// seed inserts an appointment directly, bypassing the service.
func (r *memRepo) seed(a Appointment) *Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == 0 {
		a.ID = r.nextID
		r.nextID++
	} else if a.ID >= r.nextID {
		r.nextID = a.ID + 1
	}
	if a.Version == 0 {
		a.Version = 1
	}
	r.appts[a.ID] = cloneAppt(&a)
	return cloneAppt(&a)
}

func (r *memRepo) get(id int64) *Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.appts[id]; ok {
		return cloneAppt(a)
	}
	return nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return cloneAppt(a), nil
}

func (r *memRepo) GetConsultationFields(ctx context.Context, id int64) (*ConsultationFields, error) {
	a, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Consultation, nil
}

func (r *memRepo) GetPatientByID(_ context.Context, id string) (*Patient, error) {
	if p, ok := r.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPatientNotFound
}

func (r *memRepo) GetActorByID(_ context.Context, id string) (*Actor, error) {
	if a, ok := r.actors[id]; ok {
		ca := *a
		return &ca, nil
	}
	return nil, ErrActorNotFound
}

func (r *memRepo) slotTaken(doctorID, patientID string, date time.Time, clock string, excludeID int64) error {
	for _, other := range r.appts {
		if other.ID == excludeID || other.Status == StatusCancelled {
			continue
		}
		if !other.Date.Equal(date) || other.Time != clock {
			continue
		}
		if doctorID != "" && other.DoctorID == doctorID {
			return ErrDoctorDoubleBooked
		}
		if patientID != "" && other.PatientID == patientID {
			return ErrPatientDoubleBooked
		}
	}
	return nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.slotTaken(a.DoctorID, a.PatientID, a.Date, a.Time, 0); err != nil {
		return nil, err
	}

	stored := cloneAppt(a)
	stored.ID = r.nextID
	r.nextID++
	stored.Version = 1
	stored.CreatedAt = r.now()
	stored.UpdatedAt = r.now()
	r.appts[stored.ID] = stored
	return cloneAppt(stored), nil
}

func (r *memRepo) UpdateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.appts[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if existing.Version != a.Version {
		return nil, ErrStaleVersion
	}
	if a.Status != StatusCancelled {
		if err := r.slotTaken(a.DoctorID, a.PatientID, a.Date, a.Time, a.ID); err != nil {
			return nil, err
		}
	}

	stored := cloneAppt(a)
	stored.Version = a.Version + 1
	stored.UpdatedAt = r.now()
	r.appts[a.ID] = stored
	return cloneAppt(stored), nil
}

func (r *memRepo) HasDoctorConflict(_ context.Context, doctorID string, date time.Time, clock string, excludeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Is(r.slotTaken(doctorID, "", date, clock, excludeID), ErrDoctorDoubleBooked), nil
}

func (r *memRepo) HasPatientConflict(_ context.Context, patientID string, date time.Time, clock string, excludeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Is(r.slotTaken("", patientID, date, clock, excludeID), ErrPatientDoubleBooked), nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, *cloneAppt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), nil
}

func (r *memRepo) ListByDoctor(_ context.Context, doctorID string, day *time.Time, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID != doctorID {
			continue
		}
		if day != nil && !a.Date.Equal(*day) {
			continue
		}
		out = append(out, *cloneAppt(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), nil
}

func page(in []Appointment, limit, offset int) []Appointment {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func (r *memRepo) FindPotentialNoShows(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Status != StatusPending && a.Status != StatusScheduled {
			continue
		}
		if a.CheckIn != nil || a.NoShow != nil {
			continue
		}
		if a.SlotTime().After(cutoff) {
			continue
		}
		out = append(out, *cloneAppt(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotTime().Before(out[j].SlotTime()) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) FindRemindersDue(_ context.Context, day time.Time) ([]Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Reminder
	for _, a := range r.appts {
		if !a.Date.Equal(day) {
			continue
		}
		if a.Status == StatusCancelled || a.Status == StatusCompleted || a.Status == StatusNoShow {
			continue
		}
		rem := Reminder{AppointmentID: a.ID, DoctorID: a.DoctorID, Date: a.Date, Time: a.Time}
		if p, ok := r.patients[a.PatientID]; ok {
			rem.PatientName = p.Name
			rem.PatientEmail = p.Email
		}
		out = append(out, rem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentID < out[j].AppointmentID })
	return out, nil
}

func (r *memRepo) CountDoctorBetween(_ context.Context, doctorID string, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.DoctorID != doctorID || a.Status == StatusCancelled {
			continue
		}
		if !a.Date.Before(from) && a.Date.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountPendingCheckIns(_ context.Context, doctorID string, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.DoctorID != doctorID || !a.Date.Equal(day) {
			continue
		}
		if a.Status != StatusScheduled && a.Status != StatusPending {
			continue
		}
		if a.CheckIn == nil {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountPendingReview(_ context.Context, doctorID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.DoctorID != doctorID || a.Status == StatusCancelled || a.Consultation == nil {
			continue
		}
		if a.Consultation.Status == ConsultationPendingReview || a.Consultation.Status == ConsultationApproved {
			n++
		}
	}
	return n, nil
}

// fakeLocker runs the critical section inline, or fails every acquisition.
type fakeLocker struct {
	contended bool
	calls     int
}

func (l *fakeLocker) WithSlotLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	l.calls++
	if l.contended {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type fakeNotifier struct {
	sent []sentEmail
	err  error
}

func (n *fakeNotifier) SendEmail(_ context.Context, to, subject, body string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

type auditedEvent struct {
	ActorID  string
	RecordID int64
	Action   string
	Model    string
	Details  map[string]any
}

type fakeAudit struct {
	events []auditedEvent
	err    error
}

func (a *fakeAudit) Record(_ context.Context, actorID string, recordID int64, action, model string, details map[string]any) error {
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, auditedEvent{ActorID: actorID, RecordID: recordID, Action: action, Model: model, Details: details})
	return nil
}

// testEnv bundles a service with its fakes and a fixed clock.
type testEnv struct {
	svc      *Service
	repo     *memRepo
	locker   *fakeLocker
	notifier *fakeNotifier
	audit    *fakeAudit
	now      time.Time
}

func newTestEnv(now time.Time) *testEnv {
	env := &testEnv{
		repo:     newMemRepo(func() time.Time { return now }),
		locker:   &fakeLocker{},
		notifier: &fakeNotifier{},
		audit:    &fakeAudit{},
		now:      now,
	}

	cfg := config.Config{
		NoShowGrace:     60 * time.Minute,
		NoShowBatchSize: 100,
		UpcomingWindow:  5,
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	env.svc = NewService(env.repo, env.locker, env.notifier, env.audit, nil, cfg, log).
		WithClock(func() time.Time { return now })
	return env
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func mustTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}
