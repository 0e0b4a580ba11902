package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"fraudengine/internal/ledger/models"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore persists tokens and audit entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed token store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const tokenColumns = `id, cbdc_type, denomination, owner_id, status, chain_head, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, tokens []*models.Token, entries []*models.AuditEntry) error {
	return s.inTx(ctx, "create tokens", func(tx *sql.Tx) error {
		for _, t := range tokens {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tokens (`+tokenColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, uuid.UUID(t.ID), string(t.CBDCType), t.Denomination, uuid.UUID(t.OwnerID),
				string(t.Status), t.ChainHead, t.CreatedAt, t.UpdatedAt)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
					return sentinel.ErrAlreadyExists
				}
				return fmt.Errorf("insert token: %w", err)
			}
		}
		return insertEntries(ctx, tx, entries)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, uuid.UUID(tokenID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) AuditTrail(ctx context.Context, tokenID id.TokenID) ([]*models.AuditEntry, error) {
	if _, err := s.FindByID(ctx, tokenID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_id, token_id, operation, old_status, new_status,
		       old_owner, new_owner, reason, created_at, prev_tag, integrity_tag
		FROM token_audit_entries
		WHERE token_id = $1
		ORDER BY seq
	`, uuid.UUID(tokenID))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// Execute locks the token row, runs mutate and writes the token and its new
// entries in the same transaction.
func (s *PostgresStore) Execute(ctx context.Context, tokenID id.TokenID, mutate func(*models.Token) ([]*models.AuditEntry, error)) (*models.Token, error) {
	var out *models.Token
	err := s.inTx(ctx, "execute token", func(tx *sql.Tx) error {
		t, err := scanToken(tx.QueryRowContext(ctx,
			`SELECT `+tokenColumns+` FROM tokens WHERE id = $1 FOR UPDATE`, uuid.UUID(tokenID)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock token: %w", err)
		}
		entries, err := mutate(t)
		if err != nil {
			return err
		}
		if err := updateToken(ctx, tx, t); err != nil {
			return err
		}
		if err := insertEntries(ctx, tx, entries); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteBatch locks all rows of the batch in id order and commits only when
// mutate accepts the whole batch.
func (s *PostgresStore) ExecuteBatch(ctx context.Context, tokenIDs []id.TokenID, mutate func([]*models.Token) ([]*models.AuditEntry, error)) ([]*models.Token, error) {
	var out []*models.Token
	err := s.inTx(ctx, "execute token batch", func(tx *sql.Tx) error {
		ids := make([]string, len(tokenIDs))
		for i, tid := range tokenIDs {
			ids[i] = tid.String()
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT `+tokenColumns+`
			FROM tokens
			WHERE id = ANY($1::uuid[])
			ORDER BY id
			FOR UPDATE
		`, "{"+strings.Join(ids, ",")+"}")
		if err != nil {
			return fmt.Errorf("lock token batch: %w", err)
		}
		found := make(map[id.TokenID]*models.Token, len(tokenIDs))
		for rows.Next() {
			t, err := scanToken(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan token: %w", err)
			}
			found[t.ID] = t
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate token batch: %w", err)
		}
		rows.Close()

		batch := make([]*models.Token, len(tokenIDs))
		for i, tid := range tokenIDs {
			batch[i] = found[tid]
		}
		entries, err := mutate(batch)
		if err != nil {
			return err
		}

		// update in id order, same as the lock order above
		ordered := slices.Clone(batch)
		slices.SortFunc(ordered, func(a, b *models.Token) int {
			return strings.Compare(a.ID.String(), b.ID.String())
		})
		for _, t := range ordered {
			if err := updateToken(ctx, tx, t); err != nil {
				return err
			}
		}
		if err := insertEntries(ctx, tx, entries); err != nil {
			return err
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) inTx(ctx context.Context, label string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", label, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", label, err)
	}
	return nil
}

func updateToken(ctx context.Context, exec dbExecutor, t *models.Token) error {
	res, err := exec.ExecContext(ctx, `
		UPDATE tokens
		SET owner_id = $2, status = $3, chain_head = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(t.ID), uuid.UUID(t.OwnerID), string(t.Status), t.ChainHead, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func insertEntries(ctx context.Context, exec dbExecutor, entries []*models.AuditEntry) error {
	for _, e := range entries {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO token_audit_entries (
				id, operation_id, token_id, operation, old_status, new_status,
				old_owner, new_owner, reason, created_at, prev_tag, integrity_tag
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, e.ID, uuid.UUID(e.OperationID), uuid.UUID(e.TokenID), string(e.Operation),
			string(e.OldStatus), string(e.NewStatus), uuid.UUID(e.OldOwner), uuid.UUID(e.NewOwner),
			e.Reason, e.Timestamp, e.PrevTag, e.IntegrityTag)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.Token, error) {
	var t models.Token
	var tokenID, ownerID uuid.UUID
	var cbdcType, status string
	if err := row.Scan(&tokenID, &cbdcType, &t.Denomination, &ownerID, &status, &t.ChainHead, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ID = id.TokenID(tokenID)
	t.OwnerID = id.UserID(ownerID)
	t.CBDCType = models.CBDCType(cbdcType)
	t.Status = models.Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func scanEntry(row rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var opID, tokenID, oldOwner, newOwner uuid.UUID
	var operation, oldStatus, newStatus string
	if err := row.Scan(&e.ID, &opID, &tokenID, &operation, &oldStatus, &newStatus,
		&oldOwner, &newOwner, &e.Reason, &e.Timestamp, &e.PrevTag, &e.IntegrityTag); err != nil {
		return nil, err
	}
	e.OperationID = id.OperationID(opID)
	e.TokenID = id.TokenID(tokenID)
	e.Operation = models.Operation(operation)
	e.OldStatus = models.Status(oldStatus)
	e.NewStatus = models.Status(newStatus)
	e.OldOwner = id.UserID(oldOwner)
	e.NewOwner = id.UserID(newOwner)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
