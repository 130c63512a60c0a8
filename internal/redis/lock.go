package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

// Locker guards the conflict-check-then-write critical section for a booking.
// Keys identify a doctor-side or patient-side slot; a booking takes both.
type Locker interface {
	WithSlotLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSlotLocker creates a locker that uses one Redis key per slot.
func NewRedisSlotLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
	}
}

// DoctorSlotKey names the lock for a doctor's slot at date+time.
func DoctorSlotKey(doctorID, date, clock string) string {
	return fmt.Sprintf("lock:slot:doctor:%s:%s:%s", doctorID, date, clock)
}

// PatientSlotKey names the lock for a patient's slot at date+time.
func PatientSlotKey(patientID, date, clock string) string {
	return fmt.Sprintf("lock:slot:patient:%s:%s:%s", patientID, date, clock)
}

func (l *redisSlotLocker) WithSlotLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	// Acquire in sorted order so two bookings touching the same pair of
	// slots can never deadlock each other.
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var held []string
	for _, key := range sorted {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			l.releaseAll(ctx, held, token)
			return fmt.Errorf("acquire slot lock %s: %w", key, err)
		}
		if !ok {
			l.releaseAll(ctx, held, token)
			return ErrLockNotAcquired
		}
		held = append(held, key)
	}

	defer l.releaseAll(ctx, held, token)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) releaseAll(ctx context.Context, keys []string, token string) {
	for _, key := range keys {
		if err := l.release(ctx, key, token); err != nil {
			continue
		}
	}
}

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock %s: %w", key, err)
	}
	return nil
}
