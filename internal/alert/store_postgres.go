package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/sentinel"
	txcontext "nightwatch/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL unique-violation error code; the
// one_open_alert_per_entity partial index converts a duplicate open alert
// into sentinel.ErrConflict.
const uniqueViolation = "23505"

// PostgresStore persists alerts in PostgreSQL. Queries honor a transaction
// threaded through the context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed alert store.
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

const alertColumns = `
	id, tenant_id, alert_type, severity, status, related_entity_type,
	related_entity_id, related_actor_id, details, resolution, dismiss_reason,
	resolved_by, resolved_at, created_at, updated_at
`

func (s *PostgresStore) Insert(ctx context.Context, a *AnomalyAlert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	details := a.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID),
		uuid.UUID(a.TenantID),
		string(a.Type),
		string(a.Severity),
		string(a.Status),
		a.RelatedEntityType,
		a.RelatedEntityID,
		nullStaffID(a.RelatedActorID),
		[]byte(details),
		nullString(a.Resolution),
		nullString(a.DismissReason),
		nullStaffID(a.ResolvedBy),
		a.ResolvedAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert alert for %s %s: %w", a.RelatedEntityType, a.RelatedEntityID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID id.TenantID, alertID id.AlertID) (*AnomalyAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = $1 AND id = $2`
	a, err := scanAlert(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(alertID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get alert %s: %w", alertID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateGuarded(ctx context.Context, a *AnomalyAlert, fromStatus Status) error {
	query := `
		UPDATE alerts SET
			status = $4, resolution = $5, dismiss_reason = $6, resolved_by = $7,
			resolved_at = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2 AND status = $3
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.TenantID),
		uuid.UUID(a.ID),
		string(fromStatus),
		string(a.Status),
		nullString(a.Resolution),
		nullString(a.DismissReason),
		nullStaffID(a.ResolvedBy),
		a.ResolvedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost status race from a missing row.
		if _, getErr := s.Get(ctx, a.TenantID, a.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("update alert %s from %s: %w", a.ID, fromStatus, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*AnomalyAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = $1`
	args := []any{uuid.UUID(filter.TenantID)}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		query += ` AND severity = $` + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += ` AND alert_type = $` + strconv.Itoa(len(args))
	}
	if !filter.RelatedActorID.IsNil() {
		args = append(args, uuid.UUID(filter.RelatedActorID))
		query += ` AND related_actor_id = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY created_at`
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
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*AnomalyAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*AnomalyAlert, error) {
	var a AnomalyAlert
	var alertID, tenantID uuid.UUID
	var alertType, severity, status string
	var relatedActor, resolvedBy sql.Null[uuid.UUID]
	var resolution, dismissReason sql.Null[string]
	var resolvedAt sql.Null[time.Time]
	var details []byte

	err := row.Scan(&alertID, &tenantID, &alertType, &severity, &status,
		&a.RelatedEntityType, &a.RelatedEntityID, &relatedActor, &details,
		&resolution, &dismissReason, &resolvedBy, &resolvedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.ID = id.AlertID(alertID)
	a.TenantID = id.TenantID(tenantID)
	a.Type = Type(alertType)
	a.Severity = Severity(severity)
	a.Status = Status(status)
	a.Details = details
	if relatedActor.Valid {
		staff := id.StaffID(relatedActor.V)
		a.RelatedActorID = &staff
	}
	if resolution.Valid {
		a.Resolution = resolution.V
	}
	if dismissReason.Valid {
		a.DismissReason = dismissReason.V
	}
	if resolvedBy.Valid {
		staff := id.StaffID(resolvedBy.V)
		a.ResolvedBy = &staff
	}
	if resolvedAt.Valid {
		t := resolvedAt.V.UTC()
		a.ResolvedAt = &t
	}
	return &a, nil
}

func nullStaffID(staffID *id.StaffID) any {
	if staffID == nil {
		return nil
	}
	return uuid.UUID(*staffID)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
