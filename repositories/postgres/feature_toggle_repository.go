package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
)

// FeatureToggleRepository implements the repositories.FeatureToggleRepository interface
type FeatureToggleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewFeatureToggleRepository creates a new feature toggle repository
func NewFeatureToggleRepository(db *DB, logger *zap.Logger) repositories.FeatureToggleRepository {
	return &FeatureToggleRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes a toggle for (org, feature). Last writer wins: the unique
// (org_id, feature) constraint plus ON CONFLICT keeps exactly one active
// toggle per pair without any extra locking.
func (r *FeatureToggleRepository) Upsert(ctx context.Context, toggle *models.FeatureToggle) error {
	query := `
		INSERT INTO feature_toggles (id, org_id, feature, enabled, locked, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, feature)
		DO UPDATE SET
			enabled = EXCLUDED.enabled,
			locked = EXCLUDED.locked,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		toggle.ID,
		toggle.OrgID,
		toggle.Feature,
		toggle.Enabled,
		toggle.Locked,
		toggle.UpdatedBy,
		toggle.CreatedAt,
		toggle.UpdatedAt,
	)

	if err != nil {
		return wrapStoreError("failed to upsert feature toggle", err)
	}

	r.logger.Debug("feature toggle upserted",
		zap.String("org_id", toggle.OrgID.String()),
		zap.String("feature", string(toggle.Feature)),
		zap.Bool("enabled", toggle.Enabled))
	return nil
}

// Get retrieves the toggle for (org, feature); nil when absent
func (r *FeatureToggleRepository) Get(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*models.FeatureToggle, error) {
	query := `
		SELECT id, org_id, feature, enabled, locked, updated_by, created_at, updated_at
		FROM feature_toggles
		WHERE org_id = $1 AND feature = $2
	`

	executor := GetExecutor(ctx, r.db)
	toggle := &models.FeatureToggle{}

	err := executor.QueryRowContext(ctx, query, orgID, feature).Scan(
		&toggle.ID,
		&toggle.OrgID,
		&toggle.Feature,
		&toggle.Enabled,
		&toggle.Locked,
		&toggle.UpdatedBy,
		&toggle.CreatedAt,
		&toggle.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreError("failed to get feature toggle", err)
	}

	return toggle, nil
}

// GetByOrgID retrieves all toggles for an organization
func (r *FeatureToggleRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.FeatureToggle, error) {
	query := `
		SELECT id, org_id, feature, enabled, locked, updated_by, created_at, updated_at
		FROM feature_toggles
		WHERE org_id = $1
		ORDER BY feature
	`

	return r.queryToggles(ctx, query, orgID)
}

// GetForOrgs retrieves toggles for the given feature across a set of
// organizations, keyed by org ID. Used to read a whole scope chain at once.
func (r *FeatureToggleRepository) GetForOrgs(ctx context.Context, orgIDs []uuid.UUID, feature models.Feature) (map[uuid.UUID]*models.FeatureToggle, error) {
	if len(orgIDs) == 0 {
		return map[uuid.UUID]*models.FeatureToggle{}, nil
	}

	ids := make(pq.StringArray, 0, len(orgIDs))
	for _, id := range orgIDs {
		ids = append(ids, id.String())
	}

	query := `
		SELECT id, org_id, feature, enabled, locked, updated_by, created_at, updated_at
		FROM feature_toggles
		WHERE org_id = ANY($1::uuid[]) AND feature = $2
	`

	toggles, err := r.queryToggles(ctx, query, ids, feature)
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]*models.FeatureToggle, len(toggles))
	for _, t := range toggles {
		out[t.OrgID] = t
	}
	return out, nil
}

// queryToggles is a helper method to query multiple toggles
func (r *FeatureToggleRepository) queryToggles(ctx context.Context, query string, args ...interface{}) ([]*models.FeatureToggle, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError("failed to query feature toggles", err)
	}
	defer rows.Close()

	var toggles []*models.FeatureToggle
	for rows.Next() {
		toggle := &models.FeatureToggle{}
		if err := rows.Scan(
			&toggle.ID,
			&toggle.OrgID,
			&toggle.Feature,
			&toggle.Enabled,
			&toggle.Locked,
			&toggle.UpdatedBy,
			&toggle.CreatedAt,
			&toggle.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feature toggle: %w", err)
		}
		toggles = append(toggles, toggle)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating toggle rows: %w", err)
	}

	return toggles, nil
}
