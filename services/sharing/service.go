package sharing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
	"github.com/callsight/rag-control-plane/services/audit"
	"github.com/callsight/rag-control-plane/utils"
)

// DefaultListLimit bounds unpaginated request listings
const DefaultListLimit = 100

// RequestInput carries the fields needed to open a sharing request
type RequestInput struct {
	SourceOrgID uuid.UUID      `validate:"required"`
	TargetOrgID uuid.UUID      `validate:"required"`
	Feature     models.Feature `validate:"required"`
	ItemIDs     []uuid.UUID    `validate:"required,min=1"`
	Actor       string         `validate:"required"`
}

// Service runs the cross-tenant sharing workflow. Decisions go through
// status-guarded updates in the store, so two administrators racing on the
// same request cannot both win; the loser gets a stale-transition conflict.
type Service struct {
	sharingRepo repositories.SharingRequestRepository
	itemRepo    repositories.ContextItemRepository
	orgRepo     repositories.OrganizationRepository
	txManager   repositories.TransactionManager
	recorder    *audit.Recorder
	logger      *zap.Logger
}

// NewService creates a new sharing service
func NewService(
	sharingRepo repositories.SharingRequestRepository,
	itemRepo repositories.ContextItemRepository,
	orgRepo repositories.OrganizationRepository,
	txManager repositories.TransactionManager,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		sharingRepo: sharingRepo,
		itemRepo:    itemRepo,
		orgRepo:     orgRepo,
		txManager:   txManager,
		recorder:    recorder,
		logger:      logger,
	}
}

// Request opens a sharing request in the requested state. Every listed item
// must belong to the source organization and the requested feature.
func (s *Service) Request(ctx context.Context, input RequestInput) (*models.SharingRequest, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, err.Error(), services.ErrInvalidInput)
	}
	if !models.IsKnownFeature(input.Feature) {
		return nil, fmt.Errorf("feature %q: %w", input.Feature, services.ErrUnknownFeature)
	}
	if input.SourceOrgID == input.TargetOrgID {
		return nil, services.WrapError(services.ErrorTypeValidation,
			"source and target organization must differ", services.ErrInvalidInput)
	}

	if _, err := s.orgRepo.GetByID(ctx, input.SourceOrgID); err != nil {
		return nil, err
	}
	if _, err := s.orgRepo.GetByID(ctx, input.TargetOrgID); err != nil {
		return nil, err
	}

	for _, itemID := range input.ItemIDs {
		item, err := s.itemRepo.GetByID(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if item.OrgID != input.SourceOrgID {
			return nil, services.WrapError(services.ErrorTypeValidation,
				fmt.Sprintf("context item %s does not belong to the source organization", itemID),
				services.ErrInvalidInput)
		}
		if item.Feature != input.Feature {
			return nil, services.WrapError(services.ErrorTypeValidation,
				fmt.Sprintf("context item %s does not belong to feature %s", itemID, input.Feature),
				services.ErrInvalidInput)
		}
	}

	req := models.NewSharingRequest(input.SourceOrgID, input.TargetOrgID,
		input.Feature, input.ItemIDs, input.Actor)

	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		if err := s.sharingRepo.Create(txCtx, req); err != nil {
			return err
		}

		entry := models.NewAuditEntry(input.SourceOrgID, input.Actor, models.AuditActionSharingRequest, "sharing_request").
			WithResource(req.ID).
			WithDetails(map[string]interface{}{
				"target_org_id": input.TargetOrgID,
				"feature":       input.Feature,
				"item_count":    len(input.ItemIDs),
			})
		_, err := s.recorder.Record(txCtx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sharing request opened",
		zap.String("id", req.ID.String()),
		zap.String("source_org_id", input.SourceOrgID.String()),
		zap.String("target_org_id", input.TargetOrgID.String()),
		zap.String("feature", string(input.Feature)))

	return req, nil
}

// Approve moves a requested sharing request to approved
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID, actor string) (*models.SharingRequest, error) {
	return s.decide(ctx, requestID, models.SharingRequested, models.SharingApproved,
		models.AuditActionSharingApproved, actor)
}

// Reject moves a requested sharing request to rejected. Rejected is terminal.
func (s *Service) Reject(ctx context.Context, requestID uuid.UUID, actor string) (*models.SharingRequest, error) {
	return s.decide(ctx, requestID, models.SharingRequested, models.SharingRejected,
		models.AuditActionSharingRejected, actor)
}

// Revoke withdraws a previously approved grant. Revoked is terminal and
// access checks see the withdrawal immediately.
func (s *Service) Revoke(ctx context.Context, requestID uuid.UUID, actor string) (*models.SharingRequest, error) {
	return s.decide(ctx, requestID, models.SharingApproved, models.SharingRevoked,
		models.AuditActionSharingRevoked, actor)
}

// Get retrieves a sharing request by ID
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*models.SharingRequest, error) {
	return s.sharingRepo.GetByID(ctx, requestID)
}

// ListByOrg lists requests where the organization is source or target
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.SharingRequest, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.sharingRepo.ListByOrg(ctx, orgID, limit, offset)
}

// ApprovedFor reports whether an approved grant gives the target organization
// access to the given item under the feature
func (s *Service) ApprovedFor(ctx context.Context, targetOrgID uuid.UUID, feature models.Feature, itemID uuid.UUID) (bool, error) {
	grants, err := s.sharingRepo.FindApproved(ctx, targetOrgID, feature)
	if err != nil {
		return false, err
	}

	for _, grant := range grants {
		if grant.Covers(itemID) {
			return true, nil
		}
	}
	return false, nil
}

// decide applies one workflow transition with its audit entry in a single
// transaction. The store-level status guard turns lost races into conflicts.
func (s *Service) decide(ctx context.Context, requestID uuid.UUID, from, to models.SharingStatus, action models.AuditAction, actor string) (*models.SharingRequest, error) {
	if actor == "" {
		return nil, services.WrapError(services.ErrorTypeValidation, "actor is required", services.ErrInvalidInput)
	}

	var req *models.SharingRequest
	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		transitioned, err := s.sharingRepo.Transition(txCtx, requestID, from, to, actor)
		if err != nil {
			return err
		}
		req = transitioned

		entry := models.NewAuditEntry(req.SourceOrgID, actor, action, "sharing_request").
			WithResource(req.ID).
			WithDetails(map[string]interface{}{
				"target_org_id": req.TargetOrgID,
				"feature":       req.Feature,
				"from":          from,
				"to":            to,
			})
		_, err = s.recorder.Record(txCtx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sharing request decided",
		zap.String("id", requestID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))

	return req, nil
}
