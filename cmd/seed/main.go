package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinova/clinic-scheduling/internal/db"
)

var log = logrus.New()

func main() {
	log.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedFrontdesk(context.Background(), pool, 5); err != nil {
		log.Fatalf("seed frontdesk: %v", err)
	}
	patients, err := seedPatients(context.Background(), pool, 500)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, doctors, patients, 1000); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]string, error) {
	log.WithField("count", count).Info("seeding doctors")

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		name := "Dr. " + gofakeit.Name()
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, name, email, role)
			VALUES ($1, $2, $3, 'doctor')
		`, id, name, gofakeit.Email())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedFrontdesk(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.WithField("count", count).Info("seeding frontdesk staff")

	for i := 0; i < count; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, name, email, role)
			VALUES ($1, $2, $3, 'frontdesk')
		`, uuid.NewString(), gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return err
		}
	}
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]string, error) {
	log.WithField("count", count).Info("seeding patients")

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email)
			VALUES ($1, $2, $3)
		`, id, gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var serviceTypes = []string{
	"General Consultation",
	"Follow-up",
	"Dermatology",
	"Cardiology",
	"Physiotherapy",
	"Vaccination",
	"Lab Review",
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, doctors, patients []string, count int) error {
	log.WithField("count", count).Info("seeding appointments")

	inserted := 0
	for inserted < count {
		doctor := doctors[gofakeit.Number(0, len(doctors)-1)]
		patient := patients[gofakeit.Number(0, len(patients)-1)]
		date := time.Now().AddDate(0, 0, gofakeit.Number(0, 14))
		clock := fmt.Sprintf("%02d:%02d", gofakeit.Number(8, 17), 15*gofakeit.Number(0, 3))

		_, err := pool.Exec(ctx, `
			INSERT INTO appointments (
				patient_id, doctor_id, appointment_date, appointment_time, status,
				service_type, consultation_status
			)
			VALUES ($1, $2, $3, $4, 'pending', $5, 'submitted')
			ON CONFLICT DO NOTHING
		`, patient, doctor, date, clock, serviceTypes[gofakeit.Number(0, len(serviceTypes)-1)])
		if err != nil {
			return err
		}
		inserted++
	}
	return nil
}
