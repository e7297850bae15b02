package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/sentinel"
	txcontext "nightwatch/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations; the (tenant_id, sequence_number) constraint converts a lost
// tail race into sentinel.ErrConflict.
const uniqueViolation = "23505"

// PostgresStore persists ledger entries in PostgreSQL. Queries honor a
// transaction threaded through the context so appends can share a
// transaction with the caller's own mutation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const entryColumns = `
	id, tenant_id, sequence_number, at, actor_id, actor_role, actor_ip,
	actor_device, action, entity_type, entity_id, previous_value, new_value,
	previous_hash, entry_hash
`

func (s *PostgresStore) Tail(ctx context.Context, tenantID id.TenantID) (*Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY sequence_number DESC
		LIMIT 1`
	entry, err := scanEntry(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chain tail: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Insert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO audit_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.TenantID),
		int64(entry.SequenceNumber),
		entry.At,
		uuid.UUID(entry.ActorID),
		string(entry.ActorRole),
		entry.ActorIP,
		entry.ActorDevice,
		string(entry.Action),
		entry.EntityType,
		entry.EntityID,
		nullRaw(entry.PreviousValue),
		nullRaw(entry.NewValue),
		entry.PreviousHash,
		entry.EntryHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert ledger entry seq %d: %w", entry.SequenceNumber, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE tenant_id = $1`
	args := []any{uuid.UUID(filter.TenantID)}

	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND at <= $` + strconv.Itoa(len(args))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		query += ` AND action = $` + strconv.Itoa(len(args))
	}
	if !filter.ActorID.IsNil() {
		args = append(args, uuid.UUID(filter.ActorID))
		query += ` AND actor_id = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY sequence_number`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) Range(ctx context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM audit_entries
		WHERE tenant_id = $1 AND sequence_number >= $2`
	args := []any{uuid.UUID(tenantID), int64(fromSeq)}
	if toSeq > 0 {
		args = append(args, int64(toSeq))
		query += ` AND sequence_number <= $3`
	}
	query += ` ORDER BY sequence_number`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read chain range: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) EntryBefore(ctx context.Context, tenantID id.TenantID, seq uint64) (*Entry, error) {
	if seq <= 1 {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + `
		FROM audit_entries
		WHERE tenant_id = $1 AND sequence_number = $2`
	entry, err := scanEntry(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), int64(seq-1)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chain predecessor: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Halted(ctx context.Context, tenantID id.TenantID) (*Halt, error) {
	query := `
		SELECT tenant_id, broken_at_seq, halted_at
		FROM chain_halts
		WHERE tenant_id = $1 AND cleared_at IS NULL
	`
	var halt Halt
	var tid uuid.UUID
	var brokenAt int64
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID)).Scan(&tid, &brokenAt, &halt.HaltedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chain halt: %w", err)
	}
	halt.TenantID = id.TenantID(tid)
	halt.BrokenAtSeq = uint64(brokenAt)
	return &halt, nil
}

func (s *PostgresStore) SetHalt(ctx context.Context, halt Halt) error {
	// An active halt wins; a previously cleared halt is reopened with the
	// new break point.
	query := `
		INSERT INTO chain_halts (tenant_id, broken_at_seq, halted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			broken_at_seq = EXCLUDED.broken_at_seq,
			halted_at = EXCLUDED.halted_at,
			cleared_at = NULL,
			cleared_by = NULL
		WHERE chain_halts.cleared_at IS NOT NULL
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(halt.TenantID), int64(halt.BrokenAtSeq), halt.HaltedAt)
	if err != nil {
		return fmt.Errorf("set chain halt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearHalt(ctx context.Context, tenantID id.TenantID, clearedBy id.StaffID) error {
	query := `
		UPDATE chain_halts
		SET cleared_at = now(), cleared_by = $2
		WHERE tenant_id = $1 AND cleared_at IS NULL
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(clearedBy))
	if err != nil {
		return fmt.Errorf("clear chain halt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear chain halt: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("clear chain halt: %w", sentinel.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var entryID, tenantID, actorID uuid.UUID
	var seq int64
	var role, action string
	var prevVal, newVal sql.Null[string]

	err := row.Scan(&entryID, &tenantID, &seq, &e.At, &actorID, &role,
		&e.ActorIP, &e.ActorDevice, &action, &e.EntityType, &e.EntityID,
		&prevVal, &newVal, &e.PreviousHash, &e.EntryHash)
	if err != nil {
		return nil, err
	}

	e.ID = id.EntryID(entryID)
	e.TenantID = id.TenantID(tenantID)
	e.SequenceNumber = uint64(seq)
	e.ActorID = id.StaffID(actorID)
	e.ActorRole = id.Role(role)
	e.Action = Action(action)
	e.At = e.At.UTC()
	if prevVal.Valid {
		e.PreviousValue = json.RawMessage(prevVal.V)
	}
	if newVal.Valid {
		e.NewValue = json.RawMessage(newVal.V)
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

// nullRaw binds a snapshot as a text parameter. A []byte would be sent
// as bytea, which does not match the TEXT snapshot columns.
func nullRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
