package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/config"
	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
	"github.com/callsight/rag-control-plane/services/audit"
)

// CheckResult is the outcome of a non-consuming quota check
type CheckResult struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// Service manages per-(organization, feature) usage quotas. Quota rows are
// created lazily on first access with configured defaults, and consumption
// goes through a single conditional update so concurrent consumers can never
// push usage past the limit.
type Service struct {
	quotaRepo repositories.QuotaRepository
	orgRepo   repositories.OrganizationRepository
	txManager repositories.TransactionManager
	recorder  *audit.Recorder
	defaults  config.QuotaConfig
	logger    *zap.Logger
}

// NewService creates a new quota service
func NewService(
	quotaRepo repositories.QuotaRepository,
	orgRepo repositories.OrganizationRepository,
	txManager repositories.TransactionManager,
	recorder *audit.Recorder,
	defaults config.QuotaConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		quotaRepo: quotaRepo,
		orgRepo:   orgRepo,
		txManager: txManager,
		recorder:  recorder,
		defaults:  defaults,
		logger:    logger,
	}
}

// Check reports whether the requested amount fits in the remaining quota
// without consuming anything. A false result is advisory; Consume re-checks
// atomically.
func (s *Service) Check(ctx context.Context, orgID uuid.UUID, feature models.Feature, requested int) (*CheckResult, error) {
	if requested <= 0 {
		requested = 1
	}

	q, err := s.ensureQuota(ctx, orgID, feature)
	if err != nil {
		return nil, err
	}

	return &CheckResult{
		Allowed:   q.Used+requested <= q.Limit,
		Remaining: q.Remaining(),
	}, nil
}

// Consume increments usage by amount. Returns the updated quota on success,
// or ErrQuotaExceeded with usage unchanged when the amount does not fit.
func (s *Service) Consume(ctx context.Context, orgID uuid.UUID, feature models.Feature, amount int) (*models.Quota, error) {
	if amount <= 0 {
		amount = 1
	}

	if _, err := s.ensureQuota(ctx, orgID, feature); err != nil {
		return nil, err
	}

	q, err := s.quotaRepo.ConsumeAtomic(ctx, orgID, feature, amount)
	if err != nil {
		if services.IsQuotaExceededError(err) {
			s.logger.Debug("quota consume rejected",
				zap.String("org_id", orgID.String()),
				zap.String("feature", string(feature)),
				zap.Int("amount", amount))
		}
		return q, err
	}

	return q, nil
}

// Reset zeroes usage and starts a new period. The reset and its audit entry
// commit together.
func (s *Service) Reset(ctx context.Context, orgID uuid.UUID, feature models.Feature, actor string) (*models.Quota, error) {
	if actor == "" {
		return nil, services.WrapError(services.ErrorTypeValidation, "actor is required", services.ErrInvalidInput)
	}

	before, err := s.ensureQuota(ctx, orgID, feature)
	if err != nil {
		return nil, err
	}

	var q *models.Quota
	err = s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		reset, err := s.quotaRepo.ResetUsage(txCtx, orgID, feature, time.Now())
		if err != nil {
			return err
		}
		q = reset

		entry := models.NewAuditEntry(orgID, actor, models.AuditActionQuotaReset, "quota").
			WithResource(reset.ID).
			WithDetails(map[string]interface{}{
				"feature":    feature,
				"used_prior": before.Used,
				"limit":      reset.Limit,
			})
		_, err = s.recorder.Record(txCtx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quota reset",
		zap.String("org_id", orgID.String()),
		zap.String("feature", string(feature)),
		zap.Int("used_prior", before.Used),
		zap.String("actor", actor))

	return q, nil
}

// SetLimit creates or replaces the quota limit for (org, feature), keeping
// accumulated usage when a row already exists
func (s *Service) SetLimit(ctx context.Context, orgID uuid.UUID, feature models.Feature, limit int) (*models.Quota, error) {
	if !models.IsKnownFeature(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, services.ErrUnknownFeature)
	}
	if limit < 0 {
		return nil, services.WrapError(services.ErrorTypeValidation, "limit must not be negative", services.ErrInvalidInput)
	}
	if _, err := s.orgRepo.GetByID(ctx, orgID); err != nil {
		return nil, err
	}

	quota := models.NewQuota(orgID, feature, limit, s.defaults.DefaultPeriod)
	return s.quotaRepo.CreateOrUpdateLimit(ctx, quota)
}

// Summary returns every quota row the organization has accrued
func (s *Service) Summary(ctx context.Context, orgID uuid.UUID) ([]*models.Quota, error) {
	if _, err := s.orgRepo.GetByID(ctx, orgID); err != nil {
		return nil, err
	}
	return s.quotaRepo.GetByOrgID(ctx, orgID)
}

// ensureQuota loads the quota, lazily creating it with configured defaults on
// first access. CreateIfAbsent is insert-if-missing then read-back, so two
// concurrent first accesses converge on one row.
func (s *Service) ensureQuota(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*models.Quota, error) {
	if !models.IsKnownFeature(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, services.ErrUnknownFeature)
	}

	q, err := s.quotaRepo.Get(ctx, orgID, feature)
	if err == nil {
		return q, nil
	}
	if !services.IsNotFoundError(err) {
		return nil, err
	}

	if _, err := s.orgRepo.GetByID(ctx, orgID); err != nil {
		return nil, err
	}

	return s.quotaRepo.CreateIfAbsent(ctx, models.NewQuota(orgID, feature, s.defaults.DefaultLimit, s.defaults.DefaultPeriod))
}
