package isolation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
	"github.com/callsight/rag-control-plane/services/audit"
	"github.com/callsight/rag-control-plane/services/features"
	"github.com/callsight/rag-control-plane/services/quota"
	"github.com/callsight/rag-control-plane/services/sharing"
)

// DenyReason explains a denied access decision. When several gates would
// deny, the recorded reason follows this precedence: feature_disabled, then
// quota_exceeded, then cross_tenant_denied.
type DenyReason string

const (
	ReasonFeatureDisabled DenyReason = "feature_disabled"
	ReasonQuotaExceeded   DenyReason = "quota_exceeded"
	ReasonCrossTenant     DenyReason = "cross_tenant_denied"
)

// Decision is the outcome of one access authorization. Every decision,
// allowed or denied, carries the ID of the audit entry that recorded it.
type Decision struct {
	Allowed   bool       `json:"allowed"`
	Reason    DenyReason `json:"reason,omitempty"`
	Remaining int        `json:"remaining"`
	AuditID   uuid.UUID  `json:"audit_id"`
}

// Service is the single enforcement point for tenant-scoped content access.
// One call runs the full gate sequence: feature resolution, quota headroom,
// cross-tenant ownership, then an atomic consume. Exactly one audit entry is
// written per decision; a failed audit write fails the call.
type Service struct {
	features  *features.Service
	quotas    *quota.Service
	sharing   *sharing.Service
	itemRepo  repositories.ContextItemRepository
	orgRepo   repositories.OrganizationRepository
	txManager repositories.TransactionManager
	recorder  *audit.Recorder
	logger    *zap.Logger
}

// NewService creates a new isolation enforcement service
func NewService(
	featureSvc *features.Service,
	quotaSvc *quota.Service,
	sharingSvc *sharing.Service,
	itemRepo repositories.ContextItemRepository,
	orgRepo repositories.OrganizationRepository,
	txManager repositories.TransactionManager,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		features:  featureSvc,
		quotas:    quotaSvc,
		sharing:   sharingSvc,
		itemRepo:  itemRepo,
		orgRepo:   orgRepo,
		txManager: txManager,
		recorder:  recorder,
		logger:    logger,
	}
}

// AuthorizeAccess decides whether the organization may retrieve content for
// the feature, optionally scoped to one context item (pass uuid.Nil for a
// feature-level check). Malformed input, an unknown organization, or an
// unknown feature fail fast with a typed error before any quota movement or
// audit write. An allowed decision consumes one quota unit atomically with
// its audit entry.
func (s *Service) AuthorizeAccess(ctx context.Context, orgID uuid.UUID, feature models.Feature, itemID uuid.UUID, actor string) (*Decision, error) {
	if actor == "" {
		return nil, services.WrapError(services.ErrorTypeValidation, "actor is required", services.ErrInvalidInput)
	}
	if !models.IsKnownFeature(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, services.ErrUnknownFeature)
	}
	if _, err := s.orgRepo.GetByID(ctx, orgID); err != nil {
		return nil, err
	}

	var item *models.ContextItem
	if itemID != uuid.Nil {
		loaded, err := s.itemRepo.GetByID(ctx, itemID)
		if err != nil {
			return nil, err
		}
		item = loaded
	}

	resolution, err := s.features.Resolve(ctx, orgID, feature)
	if err != nil {
		return nil, err
	}
	if !resolution.Enabled {
		return s.deny(ctx, orgID, feature, item, actor, ReasonFeatureDisabled, 0)
	}

	check, err := s.quotas.Check(ctx, orgID, feature, 1)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return s.deny(ctx, orgID, feature, item, actor, ReasonQuotaExceeded, check.Remaining)
	}

	if item != nil && item.OrgID != orgID {
		granted, err := s.sharing.ApprovedFor(ctx, orgID, feature, item.ID)
		if err != nil {
			return nil, err
		}
		if !granted {
			return s.deny(ctx, orgID, feature, item, actor, ReasonCrossTenant, check.Remaining)
		}
	}

	// The advisory check above can go stale under concurrency; the consume
	// is the authoritative gate.
	var consumed *models.Quota
	var auditID uuid.UUID
	err = s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		q, err := s.quotas.Consume(txCtx, orgID, feature, 1)
		if err != nil {
			return err
		}
		consumed = q

		entry := s.decisionEntry(orgID, feature, item, actor).
			WithDecision(models.DecisionAllow, "").
			WithDetails(map[string]interface{}{
				"feature":   feature,
				"remaining": q.Remaining(),
			})
		id, err := s.recorder.Record(txCtx, entry)
		if err != nil {
			return err
		}
		auditID = id
		return nil
	})
	if err != nil {
		if services.IsQuotaExceededError(err) {
			return s.deny(ctx, orgID, feature, item, actor, ReasonQuotaExceeded, 0)
		}
		return nil, err
	}

	s.logger.Debug("access allowed",
		zap.String("org_id", orgID.String()),
		zap.String("feature", string(feature)),
		zap.Int("remaining", consumed.Remaining()))

	return &Decision{
		Allowed:   true,
		Remaining: consumed.Remaining(),
		AuditID:   auditID,
	}, nil
}

// deny records the denial and returns the decision. Denials never move quota
// usage, but the audit write must still succeed for the decision to stand.
func (s *Service) deny(ctx context.Context, orgID uuid.UUID, feature models.Feature, item *models.ContextItem, actor string, reason DenyReason, remaining int) (*Decision, error) {
	entry := s.decisionEntry(orgID, feature, item, actor).
		WithDecision(models.DecisionDeny, string(reason)).
		WithDetails(map[string]interface{}{
			"feature": feature,
		})

	auditID, err := s.recorder.Record(ctx, entry)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("access denied",
		zap.String("org_id", orgID.String()),
		zap.String("feature", string(feature)),
		zap.String("reason", string(reason)))

	return &Decision{
		Allowed:   false,
		Reason:    reason,
		Remaining: remaining,
		AuditID:   auditID,
	}, nil
}

// decisionEntry builds the access-decision audit entry skeleton
func (s *Service) decisionEntry(orgID uuid.UUID, feature models.Feature, item *models.ContextItem, actor string) *models.AuditEntry {
	resourceType := "feature"
	entry := models.NewAuditEntry(orgID, actor, models.AuditActionAccessDecision, resourceType)
	if item != nil {
		entry.ResourceType = "context_item"
		entry.WithResource(item.ID)
	}
	return entry
}
