package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"nightwatch/internal/reconcile"
	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/sentinel"
	txcontext "nightwatch/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL unique-violation error code; the
// one_active_session_per_booth partial index converts a booth race into
// sentinel.ErrConflict.
const uniqueViolation = "23505"

// PostgresStore persists sessions in PostgreSQL. Queries honor a
// transaction threaded through the context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
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

const sessionColumns = `
	id, tenant_id, booth_id, dancer_id, opened_by, state, started_at, ended_at,
	manual_count, dj_sync_count, by_time_count, final_count, variance, severity,
	flagged, customer_confirmed, dispute_reason, created_at, updated_at
`

func (s *PostgresStore) Insert(ctx context.Context, sess *VipSession) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(sess.ID),
		uuid.UUID(sess.TenantID),
		uuid.UUID(sess.BoothID),
		uuid.UUID(sess.DancerID),
		uuid.UUID(sess.OpenedBy),
		string(sess.State),
		sess.StartedAt,
		sess.EndedAt,
		sess.ManualCount,
		sess.DJSyncCount,
		sess.ByTimeCount,
		sess.FinalCount,
		sess.Variance,
		nullSeverity(sess.Severity),
		sess.Flagged,
		sess.CustomerConfirmed,
		nullString(sess.DisputeReason),
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert session for booth %s: %w", sess.BoothID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*VipSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1 AND id = $2`
	sess, err := scanSession(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(sessionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get session %s: %w", sessionID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Update(ctx context.Context, sess *VipSession) error {
	query := `
		UPDATE sessions SET
			state = $3, ended_at = $4, manual_count = $5, dj_sync_count = $6,
			by_time_count = $7, final_count = $8, variance = $9, severity = $10,
			flagged = $11, customer_confirmed = $12, dispute_reason = $13,
			updated_at = $14
		WHERE tenant_id = $1 AND id = $2
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(sess.TenantID),
		uuid.UUID(sess.ID),
		string(sess.State),
		sess.EndedAt,
		sess.ManualCount,
		sess.DJSyncCount,
		sess.ByTimeCount,
		sess.FinalCount,
		sess.Variance,
		nullSeverity(sess.Severity),
		sess.Flagged,
		sess.CustomerConfirmed,
		nullString(sess.DisputeReason),
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update session %s: %w", sess.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*VipSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1`
	args := []any{uuid.UUID(filter.TenantID)}

	if !filter.OpenedBy.IsNil() {
		args = append(args, uuid.UUID(filter.OpenedBy))
		query += ` AND opened_by = $` + strconv.Itoa(len(args))
	}
	if !filter.DancerID.IsNil() {
		args = append(args, uuid.UUID(filter.DancerID))
		query += ` AND dancer_id = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND started_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND started_at <= $` + strconv.Itoa(len(args))
	}
	if len(filter.States) > 0 {
		placeholders := ""
		for i, state := range filter.States {
			args = append(args, string(state))
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "$" + strconv.Itoa(len(args))
		}
		query += ` AND state IN (` + placeholders + `)`
	}

	query += ` ORDER BY started_at`
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
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*VipSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*VipSession, error) {
	var sess VipSession
	var sessionID, tenantID, boothID, dancerID, openedBy uuid.UUID
	var state string
	var endedAt sql.Null[time.Time]
	var djSync, byTime, finalCount, variance sql.Null[int64]
	var severity, disputeReason sql.Null[string]
	var confirmed sql.Null[bool]

	err := row.Scan(&sessionID, &tenantID, &boothID, &dancerID, &openedBy,
		&state, &sess.StartedAt, &endedAt, &sess.ManualCount, &djSync, &byTime,
		&finalCount, &variance, &severity, &sess.Flagged, &confirmed,
		&disputeReason, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sess.ID = id.SessionID(sessionID)
	sess.TenantID = id.TenantID(tenantID)
	sess.BoothID = id.BoothID(boothID)
	sess.DancerID = id.DancerID(dancerID)
	sess.OpenedBy = id.StaffID(openedBy)
	sess.State = State(state)
	sess.StartedAt = sess.StartedAt.UTC()
	if endedAt.Valid {
		t := endedAt.V.UTC()
		sess.EndedAt = &t
	}
	sess.DJSyncCount = intPtr(djSync)
	sess.ByTimeCount = intPtr(byTime)
	sess.FinalCount = intPtr(finalCount)
	sess.Variance = intPtr(variance)
	if severity.Valid {
		sev := reconcile.Severity(severity.V)
		sess.Severity = &sev
	}
	if confirmed.Valid {
		sess.CustomerConfirmed = &confirmed.V
	}
	if disputeReason.Valid {
		sess.DisputeReason = disputeReason.V
	}
	return &sess, nil
}

func intPtr(v sql.Null[int64]) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.V)
	return &n
}

func nullSeverity(sev *reconcile.Severity) any {
	if sev == nil {
		return nil
	}
	return string(*sev)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
