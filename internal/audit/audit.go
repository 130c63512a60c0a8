// Package audit records workflow events to an append-only table. Events are
// written after the transactional core mutation has committed; a failed write
// surfaces as a warning on the workflow result, not an error.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Recorder struct {
	db DB
}

func NewRecorder(db DB) *Recorder {
	return &Recorder{db: db}
}

// Record satisfies the orchestrators' audit contract.
func (r *Recorder) Record(ctx context.Context, actorID string, recordID int64, action, model string, details map[string]any) error {
	var payload []byte
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_events (id, actor_id, record_id, action, model, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, uuid.NewString(), actorID, recordID, action, model, payload)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
