package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
)

// OrganizationRepository implements the repositories.OrganizationRepository interface
type OrganizationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB, logger *zap.Logger) repositories.OrganizationRepository {
	return &OrganizationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, name, slug, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.Slug,
		org.ParentID,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		return wrapStoreError("failed to create organization", err)
	}

	r.logger.Debug("organization created", zap.String("id", org.ID.String()))
	return nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	query := `
		SELECT id, name, slug, parent_id, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	org := &models.Organization{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.ParentID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", id, services.ErrUnknownOrganization)
		}
		return nil, wrapStoreError("failed to get organization", err)
	}

	return org, nil
}

// GetBySlug retrieves an organization by slug
func (r *OrganizationRepository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	query := `
		SELECT id, name, slug, parent_id, created_at, updated_at
		FROM organizations
		WHERE slug = $1
	`

	executor := GetExecutor(ctx, r.db)
	org := &models.Organization{}

	err := executor.QueryRowContext(ctx, query, slug).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.ParentID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %q: %w", slug, services.ErrUnknownOrganization)
		}
		return nil, wrapStoreError("failed to get organization by slug", err)
	}

	return org, nil
}

// List retrieves all organizations with pagination
func (r *OrganizationRepository) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	query := `
		SELECT id, name, slug, parent_id, created_at, updated_at
		FROM organizations
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, wrapStoreError("failed to list organizations", err)
	}
	defer rows.Close()

	orgs := make([]*models.Organization, 0)
	for rows.Next() {
		org := &models.Organization{}
		if err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.Slug,
			&org.ParentID,
			&org.CreatedAt,
			&org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organization rows: %w", err)
	}

	return orgs, nil
}

// Update updates an organization's mutable settings. Identity (id, slug,
// parent) is immutable after creation.
func (r *OrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	query := `
		UPDATE organizations
		SET name = $2,
		    updated_at = $3
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.UpdatedAt,
	)

	if err != nil {
		return wrapStoreError("failed to update organization", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("organization %s: %w", org.ID, services.ErrUnknownOrganization)
	}

	r.logger.Debug("organization updated", zap.String("id", org.ID.String()))
	return nil
}
