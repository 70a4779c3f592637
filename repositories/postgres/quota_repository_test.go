package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/services"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return &DB{DB: mockDB, logger: zap.NewNop()}, mock
}

func quotaRows(q *models.Quota) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "feature", "max_limit", "used", "period_start", "period_length_seconds", "updated_at",
	}).AddRow(q.ID.String(), q.OrgID.String(), string(q.Feature), q.Limit, q.Used, q.PeriodStart, int64(q.PeriodLength.Seconds()), q.UpdatedAt)
}

func TestQuotaConsumeAtomic(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()

	t.Run("increments usage when within limit", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		updated := models.NewQuota(orgID, models.FeatureVendorInsights, 10, time.Hour)
		updated.Used = 3

		mock.ExpectQuery("UPDATE quotas").
			WithArgs(orgID, models.FeatureVendorInsights, 1, sqlmock.AnyArg()).
			WillReturnRows(quotaRows(updated))

		quota, err := repo.ConsumeAtomic(ctx, orgID, models.FeatureVendorInsights, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, quota.Used)
		assert.Equal(t, 10, quota.Limit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exceeded when the conditional update matches no row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		existing := models.NewQuota(orgID, models.FeatureVendorInsights, 5, time.Hour)
		existing.Used = 5

		mock.ExpectQuery("UPDATE quotas").
			WithArgs(orgID, models.FeatureVendorInsights, 1, sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT (.+) FROM quotas").
			WithArgs(orgID, models.FeatureVendorInsights).
			WillReturnRows(quotaRows(existing))

		quota, err := repo.ConsumeAtomic(ctx, orgID, models.FeatureVendorInsights, 1)
		assert.True(t, services.IsQuotaExceededError(err))
		require.NotNil(t, quota)
		assert.Equal(t, 5, quota.Used)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing quota row surfaces as not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		mock.ExpectQuery("UPDATE quotas").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT (.+) FROM quotas").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.ConsumeAtomic(ctx, orgID, models.FeatureVendorInsights, 1)
		assert.True(t, errors.Is(err, services.ErrQuotaNotFound))
	})
}

func TestQuotaCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()

	t.Run("inserts and reads back the new row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		quota := models.NewQuota(orgID, models.FeatureCaseStudies, 100, time.Hour)

		mock.ExpectExec("INSERT INTO quotas").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM quotas").
			WithArgs(orgID, models.FeatureCaseStudies).
			WillReturnRows(quotaRows(quota))

		stored, err := repo.CreateIfAbsent(ctx, quota)
		require.NoError(t, err)
		assert.Equal(t, quota.ID, stored.ID)
		assert.Equal(t, 100, stored.Limit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent loser returns the row that won", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		loser := models.NewQuota(orgID, models.FeatureCaseStudies, 100, time.Hour)
		winner := models.NewQuota(orgID, models.FeatureCaseStudies, 50, time.Hour)
		winner.Used = 2

		mock.ExpectExec("INSERT INTO quotas").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM quotas").
			WithArgs(orgID, models.FeatureCaseStudies).
			WillReturnRows(quotaRows(winner))

		stored, err := repo.CreateIfAbsent(ctx, loser)
		require.NoError(t, err)
		assert.Equal(t, winner.ID, stored.ID)
		assert.Equal(t, 50, stored.Limit)
		assert.Equal(t, 2, stored.Used)
	})
}

func TestQuotaCreateOrUpdateLimit(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()

	t.Run("keeps accumulated usage when replacing the limit", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		requested := models.NewQuota(orgID, models.FeatureVendorInsights, 20, time.Hour)
		stored := models.NewQuota(orgID, models.FeatureVendorInsights, 20, time.Hour)
		stored.Used = 7

		mock.ExpectQuery("INSERT INTO quotas").
			WillReturnRows(quotaRows(stored))

		result, err := repo.CreateOrUpdateLimit(ctx, requested)
		require.NoError(t, err)
		assert.Equal(t, 20, result.Limit)
		assert.Equal(t, 7, result.Used)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuotaResetUsage(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()

	t.Run("zeroes usage and advances the period", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		periodStart := time.Now()
		reset := models.NewQuota(orgID, models.FeatureVendorInsights, 10, time.Hour)
		reset.PeriodStart = periodStart

		mock.ExpectQuery("UPDATE quotas").
			WithArgs(orgID, models.FeatureVendorInsights, periodStart, sqlmock.AnyArg()).
			WillReturnRows(quotaRows(reset))

		quota, err := repo.ResetUsage(ctx, orgID, models.FeatureVendorInsights, periodStart)
		require.NoError(t, err)
		assert.Zero(t, quota.Used)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row surfaces as not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		mock.ExpectQuery("UPDATE quotas").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.ResetUsage(ctx, orgID, models.FeatureVendorInsights, time.Now())
		assert.True(t, errors.Is(err, services.ErrQuotaNotFound))
	})
}

func TestQuotaGetByOrgID(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()

	t.Run("scans multiple rows with period conversion", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		a := models.NewQuota(orgID, models.FeatureCaseStudies, 10, 24*time.Hour)
		b := models.NewQuota(orgID, models.FeatureVendorInsights, 5, time.Hour)
		rows := quotaRows(a).
			AddRow(b.ID.String(), b.OrgID.String(), string(b.Feature), b.Limit, b.Used, b.PeriodStart, int64(b.PeriodLength.Seconds()), b.UpdatedAt)

		mock.ExpectQuery("SELECT (.+) FROM quotas").
			WithArgs(orgID).
			WillReturnRows(rows)

		quotas, err := repo.GetByOrgID(ctx, orgID)
		require.NoError(t, err)
		require.Len(t, quotas, 2)
		assert.Equal(t, 24*time.Hour, quotas[0].PeriodLength)
		assert.Equal(t, time.Hour, quotas[1].PeriodLength)
	})

	t.Run("no rows yields empty slice", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewQuotaRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM quotas").
			WithArgs(orgID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "org_id", "feature", "max_limit", "used", "period_start", "period_length_seconds", "updated_at",
			}))

		quotas, err := repo.GetByOrgID(ctx, orgID)
		require.NoError(t, err)
		assert.NotNil(t, quotas)
		assert.Empty(t, quotas)
	})
}
