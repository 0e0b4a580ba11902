package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
)

const maxFetchBatch = 1000

// PostgresStore persists entries in the notification_outbox table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_outbox (id, case_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, uuid.UUID(entry.CaseID), entry.EventType, entry.Payload, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// FetchUnprocessed skips rows locked by another worker's in-flight batch.
func (s *PostgresStore) FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	limit = min(limit, maxFetchBatch)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, event_type, payload, created_at, processed_at
		FROM notification_outbox
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e         Entry
			caseID    uuid.UUID
			processed sql.NullTime
		)
		if err := rows.Scan(&e.ID, &caseID, &e.EventType, &e.Payload, &e.CreatedAt, &processed); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.CaseID = id.CaseID(caseID)
		if processed.Valid {
			e.ProcessedAt = &processed.Time
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, entryID uuid.UUID, processedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_outbox SET processed_at = $2
		WHERE id = $1 AND processed_at IS NULL
	`, entryID, processedAt)
	if err != nil {
		return fmt.Errorf("mark outbox entry processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_outbox WHERE processed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notification_outbox WHERE processed_at IS NOT NULL AND processed_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete processed entries: %w", err)
	}
	return res.RowsAffected()
}
