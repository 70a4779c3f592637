package tenants

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
	"github.com/callsight/rag-control-plane/services/audit"
	"github.com/callsight/rag-control-plane/utils"
)

// DefaultListLimit bounds unpaginated organization listings
const DefaultListLimit = 100

// maxChainDepth bounds the parent walk during creation
const maxChainDepth = 16

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// CreateInput carries the fields needed to onboard an organization
type CreateInput struct {
	Name     string `validate:"required,min=2,max=100"`
	Slug     string `validate:"required,min=2,max=64"`
	ParentID *uuid.UUID
	Actor    string `validate:"required"`
}

// Service onboards and manages organizations. Parent references are walked
// to the root at creation time so the scope chain stays a finite tree.
type Service struct {
	orgRepo   repositories.OrganizationRepository
	txManager repositories.TransactionManager
	recorder  *audit.Recorder
	logger    *zap.Logger
}

// NewService creates a new tenant service
func NewService(
	orgRepo repositories.OrganizationRepository,
	txManager repositories.TransactionManager,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		orgRepo:   orgRepo,
		txManager: txManager,
		recorder:  recorder,
		logger:    logger,
	}
}

// Create onboards a new organization, optionally under a parent scope
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Organization, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, err.Error(), services.ErrInvalidInput)
	}
	if !slugPattern.MatchString(input.Slug) {
		return nil, services.WrapError(services.ErrorTypeValidation,
			"slug must be lowercase alphanumeric with hyphens", services.ErrInvalidInput)
	}

	if input.ParentID != nil {
		if err := s.validateChain(ctx, *input.ParentID); err != nil {
			return nil, err
		}
	}

	org := models.NewOrganization(input.Name, input.Slug, input.ParentID)

	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		if err := s.orgRepo.Create(txCtx, org); err != nil {
			return err
		}

		details := map[string]interface{}{"slug": input.Slug}
		if input.ParentID != nil {
			details["parent_id"] = input.ParentID.String()
		}
		entry := models.NewAuditEntry(org.ID, input.Actor, models.AuditActionOrgCreated, "organization").
			WithResource(org.ID).
			WithDetails(details)
		_, err := s.recorder.Record(txCtx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("organization created",
		zap.String("id", org.ID.String()),
		zap.String("slug", org.Slug),
		zap.String("actor", input.Actor))

	return org, nil
}

// Get retrieves an organization by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return s.orgRepo.GetByID(ctx, id)
}

// GetBySlug retrieves an organization by slug
func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	return s.orgRepo.GetBySlug(ctx, slug)
}

// List retrieves organizations with pagination
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.orgRepo.List(ctx, limit, offset)
}

// Rename updates an organization's display name. Slug and parent are
// immutable after creation.
func (s *Service) Rename(ctx context.Context, id uuid.UUID, name string) (*models.Organization, error) {
	if err := utils.ValidateRequired(name, "name"); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, err.Error(), services.ErrInvalidInput)
	}

	org, err := s.orgRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	org.Name = name
	org.UpdatedAt = time.Now()
	if err := s.orgRepo.Update(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// validateChain walks the prospective parent chain to the root, rejecting
// unknown parents, cycles, and chains deeper than the bound
func (s *Service) validateChain(ctx context.Context, parentID uuid.UUID) error {
	seen := make(map[uuid.UUID]bool)

	id := parentID
	for depth := 0; ; depth++ {
		if depth >= maxChainDepth {
			return fmt.Errorf("parent chain exceeds depth %d: %w", maxChainDepth, services.ErrCyclicScope)
		}
		if seen[id] {
			return fmt.Errorf("parent chain revisits organization %s: %w", id, services.ErrCyclicScope)
		}
		seen[id] = true

		org, err := s.orgRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if org.ParentID == nil {
			return nil
		}
		id = *org.ParentID
	}
}
