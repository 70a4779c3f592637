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

// ContextItemRepository implements the repositories.ContextItemRepository interface
type ContextItemRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewContextItemRepository creates a new context item repository
func NewContextItemRepository(db *DB, logger *zap.Logger) repositories.ContextItemRepository {
	return &ContextItemRepository{
		db:     db,
		logger: logger,
	}
}

const contextItemColumns = `id, org_id, feature, status, priority, confidence_score, content, created_by, created_at, updated_at`

// Create creates a new context item
func (r *ContextItemRepository) Create(ctx context.Context, item *models.ContextItem) error {
	query := `
		INSERT INTO context_items (id, org_id, feature, status, priority, confidence_score, content, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		item.ID,
		item.OrgID,
		item.Feature,
		item.Status,
		item.Priority,
		item.ConfidenceScore,
		item.Content,
		item.CreatedBy,
		item.CreatedAt,
		item.UpdatedAt,
	)

	if err != nil {
		return wrapStoreError("failed to create context item", err)
	}

	r.logger.Debug("context item created", zap.String("id", item.ID.String()))
	return nil
}

// GetByID retrieves a context item by ID
func (r *ContextItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContextItem, error) {
	query := `
		SELECT ` + contextItemColumns + `
		FROM context_items
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	item := &models.ContextItem{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&item.ID,
		&item.OrgID,
		&item.Feature,
		&item.Status,
		&item.Priority,
		&item.ConfidenceScore,
		&item.Content,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("context item %s: %w", id, services.ErrItemNotFound)
		}
		return nil, wrapStoreError("failed to get context item", err)
	}

	return item, nil
}

// Query retrieves items matching the filter, highest priority first then
// newest first. Returns an empty slice when nothing matches.
func (r *ContextItemRepository) Query(ctx context.Context, filter repositories.ContextItemFilter, limit, offset int) ([]*models.ContextItem, error) {
	query := `
		SELECT ` + contextItemColumns + `
		FROM context_items
		WHERE org_id = $1
	`
	args := []interface{}{filter.OrgID}

	if filter.Feature != nil {
		args = append(args, *filter.Feature)
		query += fmt.Sprintf(" AND feature = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY priority DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError("failed to query context items", err)
	}
	defer rows.Close()

	items := make([]*models.ContextItem, 0)
	for rows.Next() {
		item := &models.ContextItem{}
		if err := rows.Scan(
			&item.ID,
			&item.OrgID,
			&item.Feature,
			&item.Status,
			&item.Priority,
			&item.ConfidenceScore,
			&item.Content,
			&item.CreatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan context item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating context item rows: %w", err)
	}

	return items, nil
}

// UpdateStatus sets the item status
func (r *ContextItemRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ItemStatus) error {
	query := `
		UPDATE context_items
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		return wrapStoreError("failed to update context item status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("context item %s: %w", id, services.ErrItemNotFound)
	}

	r.logger.Debug("context item status updated",
		zap.String("id", id.String()),
		zap.String("status", string(status)))
	return nil
}
