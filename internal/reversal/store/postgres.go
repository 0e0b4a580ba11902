package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"fraudengine/internal/reversal/models"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore persists reversal records in reversal_records. transaction_id
// is unique, so a concurrent second writer gets ErrAlreadyExists.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, transaction_id, case_id, original_token_id, replacement_token_id,
	operation_id, reversal_type, reason, detected_at, reversed_at, within_sla`

func (s *PostgresStore) Create(ctx context.Context, r *models.ReversalRecord) error {
	var caseID any
	if r.CaseID != nil {
		caseID = uuid.UUID(*r.CaseID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reversal_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.UUID(r.ID),
		uuid.UUID(r.TransactionID),
		caseID,
		uuid.UUID(r.OriginalTokenID),
		uuid.UUID(r.ReplacementTokenID),
		uuid.UUID(r.OperationID),
		string(r.ReversalType),
		r.Reason,
		r.DetectedAt,
		r.ReversedAt,
		r.WithinSLA,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert reversal record: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByTransaction(ctx context.Context, txID id.TransactionID) (*models.ReversalRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM reversal_records WHERE transaction_id = $1`, uuid.UUID(txID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find reversal record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*models.ReversalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM reversal_records ORDER BY reversed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reversal records: %w", err)
	}
	defer rows.Close()

	var out []*models.ReversalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reversal record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reversal records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ReversalRecord, error) {
	var (
		r            models.ReversalRecord
		recordID     uuid.UUID
		txID         uuid.UUID
		caseID       uuid.NullUUID
		originalID   uuid.UUID
		replaceID    uuid.UUID
		operationID  uuid.UUID
		reversalType string
	)
	if err := row.Scan(&recordID, &txID, &caseID, &originalID, &replaceID, &operationID,
		&reversalType, &r.Reason, &r.DetectedAt, &r.ReversedAt, &r.WithinSLA); err != nil {
		return nil, err
	}
	r.ID = id.ReversalID(recordID)
	r.TransactionID = id.TransactionID(txID)
	if caseID.Valid {
		c := id.CaseID(caseID.UUID)
		r.CaseID = &c
	}
	r.OriginalTokenID = id.TokenID(originalID)
	r.ReplacementTokenID = id.TokenID(replaceID)
	r.OperationID = id.OperationID(operationID)
	r.ReversalType = models.ReversalType(reversalType)
	r.DetectedAt = r.DetectedAt.UTC()
	r.ReversedAt = r.ReversedAt.UTC()
	return &r, nil
}
