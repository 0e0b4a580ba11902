package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"fraudengine/internal/cases/models"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore persists cases in the fraud_cases table. A partial unique
// index on transaction_id keeps at most one case per transaction that is not
// closed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const caseColumns = `id, transaction_id, token_id, reporter_id, case_type, priority, status, source,
	evidence, assigned_arbitrator_id, assigned_at, resolution, resolution_reasoning, resolved_at,
	closed_at, closure_reason, escalated_at, escalation_notified, resolution_failed, failure_reason,
	token_held, created_at, updated_at, version`

func (s *PostgresStore) Create(ctx context.Context, c *models.FraudCase) error {
	evidence, err := json.Marshal(c.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fraud_cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, caseArgs(c, evidence)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, caseID id.CaseID) (*models.FraudCase, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM fraud_cases WHERE id = $1`, uuid.UUID(caseID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindOpenByTransaction(ctx context.Context, txID id.TransactionID) (*models.FraudCase, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM fraud_cases WHERE transaction_id = $1 AND status <> 'closed'`,
		uuid.UUID(txID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find case by transaction: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.FraudCase, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return s.query(ctx, "list cases by status",
		`WHERE status = ANY($1)`, names)
}

func (s *PostgresStore) ListByArbitrator(ctx context.Context, arbitrator id.UserID) ([]*models.FraudCase, error) {
	return s.query(ctx, "list cases by arbitrator",
		`WHERE status IN ('open', 'investigating') AND assigned_arbitrator_id = $1`, uuid.UUID(arbitrator))
}

func (s *PostgresStore) ListUnassigned(ctx context.Context) ([]*models.FraudCase, error) {
	return s.query(ctx, "list unassigned cases",
		`WHERE status IN ('open', 'investigating') AND assigned_arbitrator_id IS NULL`)
}

func (s *PostgresStore) ListOverdueCandidates(ctx context.Context, cutoff time.Time) ([]*models.FraudCase, error) {
	return s.query(ctx, "list overdue cases",
		`WHERE status IN ('open', 'investigating') AND escalated_at IS NULL AND created_at <= $1`, cutoff)
}

func (s *PostgresStore) ListEscalatedUnnotified(ctx context.Context) ([]*models.FraudCase, error) {
	return s.query(ctx, "list unnotified escalations",
		`WHERE escalated_at IS NOT NULL AND NOT escalation_notified`)
}

// Execute locks the case row, runs mutate and writes the case back with its
// version bumped.
func (s *PostgresStore) Execute(ctx context.Context, caseID id.CaseID, mutate func(*models.FraudCase) error) (*models.FraudCase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin case tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	c, err := scanCase(tx.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM fraud_cases WHERE id = $1 FOR UPDATE`, uuid.UUID(caseID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock case: %w", err)
	}
	if err := mutate(c); err != nil {
		return nil, err
	}
	c.Version++
	evidence, err := json.Marshal(c.Evidence)
	if err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE fraud_cases SET
			priority = $2, status = $3, evidence = $4, assigned_arbitrator_id = $5, assigned_at = $6,
			resolution = $7, resolution_reasoning = $8, resolved_at = $9, closed_at = $10,
			closure_reason = $11, escalated_at = $12, escalation_notified = $13,
			resolution_failed = $14, failure_reason = $15, token_held = $16, updated_at = $17,
			version = $18
		WHERE id = $1
	`, uuid.UUID(c.ID), string(c.Priority), string(c.Status), evidence,
		nullableUser(c.AssignedArbitratorID), c.AssignedAt, nullableResolution(c.Resolution),
		c.ResolutionReasoning, c.ResolvedAt, c.ClosedAt, c.ClosureReason, c.EscalatedAt,
		c.EscalationNotified, c.ResolutionFailed, c.FailureReason, c.TokenHeld, c.UpdatedAt, c.Version)
	if err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) query(ctx context.Context, label, where string, args ...any) ([]*models.FraudCase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM fraud_cases `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	defer rows.Close()

	out := make([]*models.FraudCase, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return out, nil
}

func caseArgs(c *models.FraudCase, evidence []byte) []any {
	return []any{
		uuid.UUID(c.ID), uuid.UUID(c.TransactionID), uuid.UUID(c.TokenID), nullableUser(c.ReporterID),
		string(c.CaseType), string(c.Priority), string(c.Status), string(c.Source),
		evidence, nullableUser(c.AssignedArbitratorID), c.AssignedAt, nullableResolution(c.Resolution),
		c.ResolutionReasoning, c.ResolvedAt, c.ClosedAt, c.ClosureReason, c.EscalatedAt,
		c.EscalationNotified, c.ResolutionFailed, c.FailureReason, c.TokenHeld,
		c.CreatedAt, c.UpdatedAt, c.Version,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.FraudCase, error) {
	var (
		c                                           models.FraudCase
		caseID, txID, tokenID                       uuid.UUID
		reporter, arbitrator                        uuid.NullUUID
		caseType, priority, status, source          string
		evidence                                    []byte
		resolution, reasoning                       sql.NullString
		assignedAt, resolvedAt, closedAt, escalated sql.NullTime
	)
	if err := row.Scan(&caseID, &txID, &tokenID, &reporter, &caseType, &priority, &status, &source,
		&evidence, &arbitrator, &assignedAt, &resolution, &reasoning, &resolvedAt,
		&closedAt, &c.ClosureReason, &escalated, &c.EscalationNotified, &c.ResolutionFailed,
		&c.FailureReason, &c.TokenHeld, &c.CreatedAt, &c.UpdatedAt, &c.Version); err != nil {
		return nil, err
	}
	c.ID = id.CaseID(caseID)
	c.TransactionID = id.TransactionID(txID)
	c.TokenID = id.TokenID(tokenID)
	c.ReporterID = userFromNull(reporter)
	c.AssignedArbitratorID = userFromNull(arbitrator)
	c.CaseType = models.CaseType(caseType)
	c.Priority = models.Priority(priority)
	c.Status = models.Status(status)
	c.Source = models.Source(source)
	if err := json.Unmarshal(evidence, &c.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	if c.Evidence == nil {
		c.Evidence = make(map[string]any)
	}
	if resolution.Valid {
		r := models.Resolution(resolution.String)
		c.Resolution = &r
	}
	if reasoning.Valid {
		c.ResolutionReasoning = &reasoning.String
	}
	c.AssignedAt = timeFromNull(assignedAt)
	c.ResolvedAt = timeFromNull(resolvedAt)
	c.ClosedAt = timeFromNull(closedAt)
	c.EscalatedAt = timeFromNull(escalated)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func nullableUser(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}

func nullableResolution(r *models.Resolution) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}

func userFromNull(u uuid.NullUUID) *id.UserID {
	if !u.Valid {
		return nil
	}
	v := id.UserID(u.UUID)
	return &v
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
