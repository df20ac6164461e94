package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Outcome is the terminal state of a conversion attempt (§4.3).
type Outcome string

const (
	OutcomeStored Outcome = "stored"
	OutcomeFailed Outcome = "failed"
)

// Attempt is one row of the conversion_attempts audit ledger. It is
// purely operational: nothing in the cache/queue invariants reads it
// back, so a failed write is logged and swallowed, never surfaced to a
// caller.
type Attempt struct {
	Hash       string
	URL        string
	MediaClass string
	FormatName string
	Outcome    Outcome
	Error      string
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
}

// DBTX abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// AuditRepository writes conversion_attempts rows.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates an AuditRepository backed by db.
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts a. Callers treat a non-nil error as log-and-swallow
// per the audit log's "never gate a user-facing response" contract
// (§7).
func (r *AuditRepository) Record(ctx context.Context, a Attempt) error {
	const query = `
		INSERT INTO conversion_attempts
			(id, hash, url, media_class, format_name, outcome, error, duration_ms, started_at, finished_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var errText *string
	if a.Error != "" {
		errText = &a.Error
	}

	_, err := r.db.Exec(ctx, query,
		uuid.New(),
		a.Hash,
		a.URL,
		a.MediaClass,
		a.FormatName,
		string(a.Outcome),
		errText,
		a.Duration.Milliseconds(),
		a.StartedAt,
		a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion_attempts row: %w", err)
	}
	return nil
}
