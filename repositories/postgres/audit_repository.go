package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
)

// AuditRepository implements the repositories.AuditRepository interface.
// The audit_entries table is append-only; there is no update path, and
// DeleteOlderThan is the single, explicitly-invoked purge.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `id, org_id, actor, action, resource_type, resource_id, decision, reason, details, timestamp`

// Insert appends a new audit entry
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, org_id, actor, action, resource_type, resource_id, decision, reason, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var decision sql.NullString
	if entry.Decision != "" {
		decision = sql.NullString{String: string(entry.Decision), Valid: true}
	}

	var details interface{}
	if len(entry.Details) > 0 {
		details = []byte(entry.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		entry.ID,
		entry.OrgID,
		entry.Actor,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		decision,
		entry.Reason,
		details,
		entry.Timestamp,
	)

	if err != nil {
		return wrapStoreError("failed to insert audit entry", err)
	}

	return nil
}

// GetByID retrieves an audit entry by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	row := executor.QueryRowContext(ctx, query, id)

	entry, err := scanAuditEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit entry %s: %w", id, services.ErrItemNotFound)
		}
		return nil, wrapStoreError("failed to get audit entry", err)
	}

	return entry, nil
}

// Query retrieves entries matching the filter, timestamp descending
func (r *AuditRepository) Query(ctx context.Context, filter repositories.AuditFilter, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE 1=1
	`
	args := make([]interface{}, 0, 8)

	if filter.OrgID != nil {
		args = append(args, *filter.OrgID)
		query += fmt.Sprintf(" AND org_id = $%d", len(args))
	}
	if filter.Actor != "" {
		args = append(args, filter.Actor)
		query += fmt.Sprintf(" AND actor = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		query += fmt.Sprintf(" AND resource_type = $%d", len(args))
	}
	if filter.Decision != "" {
		args = append(args, filter.Decision)
		query += fmt.Sprintf(" AND decision = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError("failed to query audit entries", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entry rows: %w", err)
	}

	return entries, nil
}

// DeleteOlderThan purges entries older than the cutoff and returns the purged count
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM audit_entries WHERE timestamp < $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, wrapStoreError("failed to purge audit entries", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("audit entries purged",
		zap.Int64("count", purged),
		zap.Time("cutoff", cutoff))

	return purged, nil
}

// scanAuditEntry scans a single audit entry from a row or rows scan func
func scanAuditEntry(scan func(dest ...interface{}) error) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{}
	var decision sql.NullString
	var reason sql.NullString
	var details []byte

	err := scan(
		&entry.ID,
		&entry.OrgID,
		&entry.Actor,
		&entry.Action,
		&entry.ResourceType,
		&entry.ResourceID,
		&decision,
		&reason,
		&details,
		&entry.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if decision.Valid {
		entry.Decision = models.Decision(decision.String)
	}
	if reason.Valid {
		entry.Reason = reason.String
	}
	if len(details) > 0 {
		entry.Details = details
	}

	return entry, nil
}
