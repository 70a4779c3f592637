package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
)

// SharingRequestRepository implements the repositories.SharingRequestRepository interface
type SharingRequestRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSharingRequestRepository creates a new sharing request repository
func NewSharingRequestRepository(db *DB, logger *zap.Logger) repositories.SharingRequestRepository {
	return &SharingRequestRepository{
		db:     db,
		logger: logger,
	}
}

const sharingColumns = `id, source_org_id, target_org_id, feature, item_ids, status, requested_by, decided_by, created_at, updated_at`

// Create creates a new sharing request
func (r *SharingRequestRepository) Create(ctx context.Context, req *models.SharingRequest) error {
	query := `
		INSERT INTO sharing_requests (id, source_org_id, target_org_id, feature, item_ids, status, requested_by, decided_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		req.ID,
		req.SourceOrgID,
		req.TargetOrgID,
		req.Feature,
		req.ItemIDsArray(),
		req.Status,
		req.RequestedBy,
		req.DecidedBy,
		req.CreatedAt,
		req.UpdatedAt,
	)

	if err != nil {
		return wrapStoreError("failed to create sharing request", err)
	}

	r.logger.Debug("sharing request created", zap.String("id", req.ID.String()))
	return nil
}

// GetByID retrieves a sharing request by ID
func (r *SharingRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SharingRequest, error) {
	query := `
		SELECT ` + sharingColumns + `
		FROM sharing_requests
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	return r.scanRequest(executor.QueryRowContext(ctx, query, id), id)
}

// Transition moves the request from the expected status to the target status
// as a single conditional update. Zero rows affected means the request was
// not in the expected state at commit time, which surfaces as a conflict:
// approving an already-rejected request fails rather than silently
// succeeding.
func (r *SharingRequestRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.SharingStatus, decidedBy string) (*models.SharingRequest, error) {
	query := `
		UPDATE sharing_requests
		SET status = $3,
		    decided_by = $4,
		    updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + sharingColumns

	executor := GetExecutor(ctx, r.db)
	req, err := r.scanRequest(executor.QueryRowContext(ctx, query, id, from, to, decidedBy, time.Now()), id)
	if err != nil {
		if services.IsNotFoundError(err) {
			// Row exists in another state, or does not exist at all
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("sharing request %s not in state %q: %w", id, from, services.ErrStaleTransition)
		}
		return nil, err
	}

	r.logger.Debug("sharing request transitioned",
		zap.String("id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	return req, nil
}

// FindApproved retrieves approved requests granting the target organization
// access for the feature
func (r *SharingRequestRepository) FindApproved(ctx context.Context, targetOrgID uuid.UUID, feature models.Feature) ([]*models.SharingRequest, error) {
	query := `
		SELECT ` + sharingColumns + `
		FROM sharing_requests
		WHERE target_org_id = $1 AND feature = $2 AND status = $3
	`

	return r.queryRequests(ctx, query, targetOrgID, feature, models.SharingApproved)
}

// ListByOrg retrieves requests where the organization is source or target
func (r *SharingRequestRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.SharingRequest, error) {
	query := `
		SELECT ` + sharingColumns + `
		FROM sharing_requests
		WHERE source_org_id = $1 OR target_org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryRequests(ctx, query, orgID, limit, offset)
}

// scanRequest scans a single sharing request row
func (r *SharingRequestRepository) scanRequest(row *sql.Row, id uuid.UUID) (*models.SharingRequest, error) {
	req := &models.SharingRequest{}
	var itemIDs pq.StringArray

	err := row.Scan(
		&req.ID,
		&req.SourceOrgID,
		&req.TargetOrgID,
		&req.Feature,
		&itemIDs,
		&req.Status,
		&req.RequestedBy,
		&req.DecidedBy,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sharing request %s: %w", id, services.ErrSharingNotFound)
		}
		return nil, wrapStoreError("failed to scan sharing request", err)
	}

	if err := req.SetItemIDsFromArray(itemIDs); err != nil {
		return nil, fmt.Errorf("failed to parse sharing request item ids: %w", err)
	}
	return req, nil
}

// queryRequests is a helper method to query multiple sharing requests
func (r *SharingRequestRepository) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*models.SharingRequest, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError("failed to query sharing requests", err)
	}
	defer rows.Close()

	requests := make([]*models.SharingRequest, 0)
	for rows.Next() {
		req := &models.SharingRequest{}
		var itemIDs pq.StringArray
		if err := rows.Scan(
			&req.ID,
			&req.SourceOrgID,
			&req.TargetOrgID,
			&req.Feature,
			&itemIDs,
			&req.Status,
			&req.RequestedBy,
			&req.DecidedBy,
			&req.CreatedAt,
			&req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sharing request: %w", err)
		}
		if err := req.SetItemIDsFromArray(itemIDs); err != nil {
			return nil, fmt.Errorf("failed to parse sharing request item ids: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sharing request rows: %w", err)
	}

	return requests, nil
}
