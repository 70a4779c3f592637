package contextitems

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

// DefaultListLimit bounds unpaginated item listings
const DefaultListLimit = 100

// AddItemInput carries the fields needed to register a context item
type AddItemInput struct {
	OrgID           uuid.UUID      `validate:"required"`
	Feature         models.Feature `validate:"required"`
	Content         string         `validate:"required"`
	Priority        int            `validate:"gte=0"`
	ConfidenceScore float64        `validate:"gte=0,lte=1"`
	Actor           string         `validate:"required"`
}

// Filter narrows item listings
type Filter struct {
	OrgID   uuid.UUID
	Feature *models.Feature
	Status  *models.ItemStatus
}

// Service manages context items and their inclusion lifecycle. Every
// mutation commits together with exactly one audit entry; if the audit write
// fails the mutation rolls back.
type Service struct {
	itemRepo  repositories.ContextItemRepository
	orgRepo   repositories.OrganizationRepository
	txManager repositories.TransactionManager
	recorder  *audit.Recorder
	logger    *zap.Logger
}

// NewService creates a new context item service
func NewService(
	itemRepo repositories.ContextItemRepository,
	orgRepo repositories.OrganizationRepository,
	txManager repositories.TransactionManager,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		itemRepo:  itemRepo,
		orgRepo:   orgRepo,
		txManager: txManager,
		recorder:  recorder,
		logger:    logger,
	}
}

// AddItem registers a new item in the pending state
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (*models.ContextItem, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, err.Error(), services.ErrInvalidInput)
	}
	if !models.IsKnownFeature(input.Feature) {
		return nil, fmt.Errorf("feature %q: %w", input.Feature, services.ErrUnknownFeature)
	}
	if _, err := s.orgRepo.GetByID(ctx, input.OrgID); err != nil {
		return nil, err
	}

	item := models.NewContextItem(input.OrgID, input.Feature, input.Content,
		input.Priority, input.ConfidenceScore, input.Actor)

	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		if err := s.itemRepo.Create(txCtx, item); err != nil {
			return err
		}

		entry := models.NewAuditEntry(input.OrgID, input.Actor, models.AuditActionItemCreated, "context_item").
			WithResource(item.ID).
			WithDetails(map[string]interface{}{
				"feature":  input.Feature,
				"priority": input.Priority,
			})
		_, err := s.recorder.Record(txCtx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("context item added",
		zap.String("id", item.ID.String()),
		zap.String("org_id", input.OrgID.String()),
		zap.String("feature", string(input.Feature)))

	return item, nil
}

// GetItem retrieves a single item by ID
func (s *Service) GetItem(ctx context.Context, itemID uuid.UUID) (*models.ContextItem, error) {
	return s.itemRepo.GetByID(ctx, itemID)
}

// GetItems lists an organization's items, highest priority first.
// Returns an empty slice when nothing matches.
func (s *Service) GetItems(ctx context.Context, filter Filter, limit, offset int) ([]*models.ContextItem, error) {
	if filter.Feature != nil && !models.IsKnownFeature(*filter.Feature) {
		return nil, fmt.Errorf("feature %q: %w", *filter.Feature, services.ErrUnknownFeature)
	}
	if filter.Status != nil && !models.IsValidItemStatus(*filter.Status) {
		return nil, services.WrapError(services.ErrorTypeValidation,
			fmt.Sprintf("unknown item status %q", *filter.Status), services.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	return s.itemRepo.Query(ctx, repositories.ContextItemFilter{
		OrgID:   filter.OrgID,
		Feature: filter.Feature,
		Status:  filter.Status,
	}, limit, offset)
}

// UpdateStatus moves an item to a new inclusion status. Illegal edges
// (anything back to pending, self-transitions, unknown states) are rejected
// before any write.
func (s *Service) UpdateStatus(ctx context.Context, itemID uuid.UUID, target models.ItemStatus, reason, actor string) (*models.ContextItem, error) {
	if !models.IsValidItemStatus(target) {
		return nil, services.WrapError(services.ErrorTypeValidation,
			fmt.Sprintf("unknown item status %q", target), services.ErrInvalidInput)
	}
	if actor == "" {
		return nil, services.WrapError(services.ErrorTypeValidation, "actor is required", services.ErrInvalidInput)
	}

	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if !item.CanTransitionTo(target) {
		return nil, fmt.Errorf("context item %s: %s to %s: %w",
			itemID, item.Status, target, services.ErrInvalidTransition)
	}

	if err := s.transition(ctx, item, target, reason, actor); err != nil {
		return nil, err
	}

	s.logger.Info("context item status updated",
		zap.String("id", itemID.String()),
		zap.String("status", string(target)),
		zap.String("actor", actor))

	return item, nil
}

// BulkUpdateStatus moves a set of items to a new status in one transaction.
// Every transition is validated before any write; one illegal edge fails the
// whole batch and nothing commits.
func (s *Service) BulkUpdateStatus(ctx context.Context, itemIDs []uuid.UUID, target models.ItemStatus, reason, actor string) ([]*models.ContextItem, error) {
	if !models.IsValidItemStatus(target) {
		return nil, services.WrapError(services.ErrorTypeValidation,
			fmt.Sprintf("unknown item status %q", target), services.ErrInvalidInput)
	}
	if actor == "" {
		return nil, services.WrapError(services.ErrorTypeValidation, "actor is required", services.ErrInvalidInput)
	}
	if len(itemIDs) == 0 {
		return nil, services.WrapError(services.ErrorTypeValidation, "item ids are required", services.ErrInvalidInput)
	}

	items := make([]*models.ContextItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := s.itemRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !item.CanTransitionTo(target) {
			return nil, fmt.Errorf("context item %s: %s to %s: %w",
				id, item.Status, target, services.ErrInvalidTransition)
		}
		items = append(items, item)
	}

	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		for _, item := range items {
			if err := s.applyTransition(txCtx, item, target, reason, actor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("context items bulk updated",
		zap.Int("count", len(items)),
		zap.String("status", string(target)),
		zap.String("actor", actor))

	return items, nil
}

// transition applies a single validated status change in its own transaction
func (s *Service) transition(ctx context.Context, item *models.ContextItem, target models.ItemStatus, reason, actor string) error {
	return s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		return s.applyTransition(txCtx, item, target, reason, actor)
	})
}

// applyTransition writes the status change and its audit entry; the caller
// supplies the transaction context
func (s *Service) applyTransition(ctx context.Context, item *models.ContextItem, target models.ItemStatus, reason, actor string) error {
	from := item.Status

	if err := s.itemRepo.UpdateStatus(ctx, item.ID, target); err != nil {
		return err
	}
	item.Status = target

	entry := models.NewAuditEntry(item.OrgID, actor, models.AuditActionItemStatus, "context_item").
		WithResource(item.ID).
		WithReason(reason).
		WithDetails(map[string]interface{}{
			"from": from,
			"to":   target,
		})
	_, err := s.recorder.Record(ctx, entry)
	return err
}
