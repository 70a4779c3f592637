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

// QuotaRepository implements the repositories.QuotaRepository interface
type QuotaRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *DB, logger *zap.Logger) repositories.QuotaRepository {
	return &QuotaRepository{
		db:     db,
		logger: logger,
	}
}

const quotaColumns = `id, org_id, feature, max_limit, used, period_start, period_length_seconds, updated_at`

// Get retrieves the quota for (org, feature)
func (r *QuotaRepository) Get(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*models.Quota, error) {
	query := `
		SELECT ` + quotaColumns + `
		FROM quotas
		WHERE org_id = $1 AND feature = $2
	`

	executor := GetExecutor(ctx, r.db)
	return r.scanQuota(executor.QueryRowContext(ctx, query, orgID, feature))
}

// CreateIfAbsent inserts the quota unless one already exists for the
// (org, feature) pair, then returns the stored row. ON CONFLICT DO NOTHING
// makes concurrent first access converge on a single row.
func (r *QuotaRepository) CreateIfAbsent(ctx context.Context, quota *models.Quota) (*models.Quota, error) {
	query := `
		INSERT INTO quotas (id, org_id, feature, max_limit, used, period_start, period_length_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, feature) DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		quota.ID,
		quota.OrgID,
		quota.Feature,
		quota.Limit,
		quota.Used,
		quota.PeriodStart,
		int64(quota.PeriodLength.Seconds()),
		quota.UpdatedAt,
	)
	if err != nil {
		return nil, wrapStoreError("failed to create quota", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		r.logger.Debug("quota created lazily",
			zap.String("org_id", quota.OrgID.String()),
			zap.String("feature", string(quota.Feature)),
			zap.Int("limit", quota.Limit))
	}

	// Read back whichever row won
	return r.Get(ctx, quota.OrgID, quota.Feature)
}

// CreateOrUpdateLimit inserts the quota, or replaces the limit and period
// while keeping accumulated usage when a row already exists
func (r *QuotaRepository) CreateOrUpdateLimit(ctx context.Context, quota *models.Quota) (*models.Quota, error) {
	query := `
		INSERT INTO quotas (id, org_id, feature, max_limit, used, period_start, period_length_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, feature) DO UPDATE SET
			max_limit = EXCLUDED.max_limit,
			period_length_seconds = EXCLUDED.period_length_seconds,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + quotaColumns

	executor := GetExecutor(ctx, r.db)
	stored, err := r.scanQuota(executor.QueryRowContext(ctx, query,
		quota.ID,
		quota.OrgID,
		quota.Feature,
		quota.Limit,
		quota.Used,
		quota.PeriodStart,
		int64(quota.PeriodLength.Seconds()),
		quota.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	r.logger.Debug("quota limit set",
		zap.String("org_id", quota.OrgID.String()),
		zap.String("feature", string(quota.Feature)),
		zap.Int("limit", stored.Limit))

	return stored, nil
}

// ConsumeAtomic increments used by amount only when used+amount stays within
// the limit, as a single conditional update (compare-and-swap). Two
// concurrent consumers never both succeed on the last remaining unit.
func (r *QuotaRepository) ConsumeAtomic(ctx context.Context, orgID uuid.UUID, feature models.Feature, amount int) (*models.Quota, error) {
	query := `
		UPDATE quotas
		SET used = used + $3,
		    updated_at = $4
		WHERE org_id = $1 AND feature = $2 AND used + $3 <= max_limit
		RETURNING ` + quotaColumns

	executor := GetExecutor(ctx, r.db)
	quota, err := r.scanQuota(executor.QueryRowContext(ctx, query, orgID, feature, amount, time.Now()))
	if err != nil {
		if services.IsNotFoundError(err) {
			// Either no quota row or the condition failed; disambiguate so
			// the caller sees exceeded vs. missing.
			existing, getErr := r.Get(ctx, orgID, feature)
			if getErr != nil {
				return nil, getErr
			}
			return existing, fmt.Errorf("consume %d of %s for org %s: %w",
				amount, feature, orgID, services.ErrQuotaExceeded)
		}
		return nil, err
	}

	r.logger.Debug("quota consumed",
		zap.String("org_id", orgID.String()),
		zap.String("feature", string(feature)),
		zap.Int("amount", amount),
		zap.Int("used", quota.Used),
		zap.Int("limit", quota.Limit))

	return quota, nil
}

// ResetUsage zeroes used and advances period_start
func (r *QuotaRepository) ResetUsage(ctx context.Context, orgID uuid.UUID, feature models.Feature, periodStart time.Time) (*models.Quota, error) {
	query := `
		UPDATE quotas
		SET used = 0,
		    period_start = $3,
		    updated_at = $4
		WHERE org_id = $1 AND feature = $2
		RETURNING ` + quotaColumns

	executor := GetExecutor(ctx, r.db)
	quota, err := r.scanQuota(executor.QueryRowContext(ctx, query, orgID, feature, periodStart, time.Now()))
	if err != nil {
		return nil, err
	}

	r.logger.Debug("quota usage reset",
		zap.String("org_id", orgID.String()),
		zap.String("feature", string(feature)))

	return quota, nil
}

// GetByOrgID retrieves all quotas for an organization
func (r *QuotaRepository) GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Quota, error) {
	query := `
		SELECT ` + quotaColumns + `
		FROM quotas
		WHERE org_id = $1
		ORDER BY feature
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, wrapStoreError("failed to query quotas", err)
	}
	defer rows.Close()

	quotas := make([]*models.Quota, 0)
	for rows.Next() {
		quota := &models.Quota{}
		var periodSeconds int64
		if err := rows.Scan(
			&quota.ID,
			&quota.OrgID,
			&quota.Feature,
			&quota.Limit,
			&quota.Used,
			&quota.PeriodStart,
			&periodSeconds,
			&quota.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan quota: %w", err)
		}
		quota.PeriodLength = time.Duration(periodSeconds) * time.Second
		quotas = append(quotas, quota)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quota rows: %w", err)
	}

	return quotas, nil
}

// scanQuota scans a single quota row
func (r *QuotaRepository) scanQuota(row *sql.Row) (*models.Quota, error) {
	quota := &models.Quota{}
	var periodSeconds int64

	err := row.Scan(
		&quota.ID,
		&quota.OrgID,
		&quota.Feature,
		&quota.Limit,
		&quota.Used,
		&quota.PeriodStart,
		&periodSeconds,
		&quota.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quota: %w", services.ErrQuotaNotFound)
		}
		return nil, wrapStoreError("failed to scan quota", err)
	}

	quota.PeriodLength = time.Duration(periodSeconds) * time.Second
	return quota, nil
}
