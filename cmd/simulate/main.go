// Command simulate fires concurrent booking requests at the API to exercise
// the conflict guard: many workers race for a small set of doctor slots and
// the tool reports how many bookings won, how many were rejected as
// double-booked, and the latency distribution.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinova/clinic-scheduling/internal/db"
)

type simConfig struct {
	apiBaseURL string
	workers    int
	requests   int
	doctors    int
	slots      int
}

type opMetrics struct {
	total     int64
	success   int64
	conflict  int64
	errorped  int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *opMetrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&om.total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&om.success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.conflict, 1)
	default:
		atomic.AddInt64(&om.errorped, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *opMetrics) percentile(p float64) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), om.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	log := logrus.New()

	cfg := simConfig{}
	flag.StringVar(&cfg.apiBaseURL, "api", "http://localhost:8080", "API base URL")
	flag.IntVar(&cfg.workers, "workers", 20, "concurrent workers")
	flag.IntVar(&cfg.requests, "requests", 500, "total booking attempts")
	flag.IntVar(&cfg.doctors, "doctors", 3, "distinct doctors to contend for")
	flag.IntVar(&cfg.slots, "slots", 10, "distinct slots per doctor")
	flag.Parse()

	log.WithFields(logrus.Fields{
		"workers": cfg.workers,
		"reqs":    cfg.requests,
		"doctors": cfg.doctors,
		"slots":   cfg.slots,
	}).Info("simulation starting")

	doctorIDs := make([]string, cfg.doctors)
	for i := range doctorIDs {
		doctorIDs[i] = uuid.NewString()
	}

	patientIDs, err := loadPatients(cfg.requests)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	log.WithField("patients", len(patientIDs)).Info("loaded patient pool")

	metrics := &opMetrics{}
	jobs := make(chan int)
	var wg sync.WaitGroup

	client := &http.Client{Timeout: 10 * time.Second}
	date := time.Now().AddDate(0, 0, 7).Format("2006-01-02")

	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				doctor := doctorIDs[rand.Intn(len(doctorIDs))]
				patient := patientIDs[rand.Intn(len(patientIDs))]
				clock := fmt.Sprintf("%02d:00", 8+rand.Intn(cfg.slots))
				attemptBooking(client, cfg.apiBaseURL, patient, doctor, date, clock, metrics)
			}
		}()
	}

	start := time.Now()
	for i := 0; i < cfg.requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	log.WithFields(logrus.Fields{
		"total":    atomic.LoadInt64(&metrics.total),
		"success":  atomic.LoadInt64(&metrics.success),
		"conflict": atomic.LoadInt64(&metrics.conflict),
		"error":    atomic.LoadInt64(&metrics.errorped),
		"duration": time.Since(start).String(),
		"p50":      metrics.percentile(0.50).String(),
		"p95":      metrics.percentile(0.95).String(),
	}).Info("simulation complete")
}

func loadPatients(limit int) ([]string, error) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 2)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no patients found, run cmd/seed first")
	}
	return ids, rows.Err()
}

func attemptBooking(client *http.Client, baseURL, patientID, doctorID, date, clock string, metrics *opMetrics) {
	payload, _ := json.Marshal(map[string]any{
		"patient_id": patientID,
		"doctor_id":  doctorID,
		"date":       date,
		"time":       clock,
		"type":       "General Consultation",
	})

	start := time.Now()
	resp, err := client.Post(baseURL+"/appointments", "application/json", bytes.NewReader(payload))
	latency := time.Since(start)
	if err != nil {
		metrics.record(latency, 0)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	metrics.record(latency, resp.StatusCode)
}
