package features

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
	"github.com/callsight/rag-control-plane/services/audit"
)

// maxScopeDepth bounds the parent walk. Chains are validated acyclic at
// creation time, so hitting this means corrupted data rather than a deep tree.
const maxScopeDepth = 16

// EntitlementFunc reports whether an organization's plan permits a feature.
// Entitlement data lives outside this system and is injected at wiring time.
type EntitlementFunc func(ctx context.Context, orgID uuid.UUID, feature models.Feature) (bool, error)

// ScopeLevel identifies one level of the inheritance chain
type ScopeLevel string

const (
	ScopeGlobal       ScopeLevel = "global"
	ScopeOrganization ScopeLevel = "organization"
)

// ScopeDecision describes what one scope level contributed to a resolution
type ScopeDecision struct {
	Scope     ScopeLevel `json:"scope"`
	OrgID     *uuid.UUID `json:"org_id,omitempty"`
	HasToggle bool       `json:"has_toggle"`
	Enabled   bool       `json:"enabled"`
	Locked    bool       `json:"locked"`
}

// Resolution is the effective feature state for one organization, with the
// full chain that produced it
type Resolution struct {
	Feature models.Feature      `json:"feature"`
	Enabled bool                `json:"enabled"`
	Source  models.ToggleSource `json:"source"`
	Chain   []ScopeDecision     `json:"chain"`
}

// DenyCode explains why a feature cannot be enabled for an organization
type DenyCode string

const (
	DenyPlanNotEntitled DenyCode = "plan_not_entitled"
	DenyLockedByParent  DenyCode = "locked_by_parent"
)

// Service resolves effective feature states through the scope chain
// (global default, then ancestors root-first, then the organization itself).
// The most specific explicit toggle wins, except that a locked ancestor
// toggle pins every more specific scope.
type Service struct {
	orgRepo    repositories.OrganizationRepository
	toggleRepo repositories.FeatureToggleRepository
	txManager  repositories.TransactionManager
	recorder   *audit.Recorder
	entitled   EntitlementFunc
	cache      *ResolutionCache
	logger     *zap.Logger
}

// NewService creates a new feature resolution service. A nil entitled
// predicate treats every plan as entitled to every catalog feature.
func NewService(
	orgRepo repositories.OrganizationRepository,
	toggleRepo repositories.FeatureToggleRepository,
	txManager repositories.TransactionManager,
	recorder *audit.Recorder,
	entitled EntitlementFunc,
	cache *ResolutionCache,
	logger *zap.Logger,
) *Service {
	return &Service{
		orgRepo:    orgRepo,
		toggleRepo: toggleRepo,
		txManager:  txManager,
		recorder:   recorder,
		entitled:   entitled,
		cache:      cache,
		logger:     logger,
	}
}

// Resolve returns the effective state of a feature for an organization
func (s *Service) Resolve(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*Resolution, error) {
	if !models.IsKnownFeature(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, services.ErrUnknownFeature)
	}

	key := CacheKey{OrgID: orgID, Feature: feature}
	if s.cache != nil {
		if cached := s.cache.Get(key); cached != nil {
			return cached, nil
		}
	}

	resolution, err := s.resolve(ctx, orgID, feature)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(key, resolution)
	}

	return resolution, nil
}

// EffectiveFeatures resolves every catalog feature for an organization.
// Each feature goes through the same resolution path as Resolve, so the
// aggregate view can never disagree with a single-feature check.
func (s *Service) EffectiveFeatures(ctx context.Context, orgID uuid.UUID) (map[models.Feature]*Resolution, error) {
	out := make(map[models.Feature]*Resolution, len(models.FeatureCatalog))
	for _, feature := range models.Features() {
		resolution, err := s.Resolve(ctx, orgID, feature)
		if err != nil {
			return nil, err
		}
		out[feature] = resolution
	}
	return out, nil
}

// InheritanceChain returns the per-scope decisions for a feature without
// consulting the cache, most general scope first
func (s *Service) InheritanceChain(ctx context.Context, orgID uuid.UUID, feature models.Feature) ([]ScopeDecision, error) {
	if !models.IsKnownFeature(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, services.ErrUnknownFeature)
	}

	resolution, err := s.resolve(ctx, orgID, feature)
	if err != nil {
		return nil, err
	}
	return resolution.Chain, nil
}

// CanEnable reports whether an organization may turn a feature on. A false
// result carries a deny code; plan entitlement is checked before parent locks.
func (s *Service) CanEnable(ctx context.Context, orgID uuid.UUID, feature models.Feature) (bool, DenyCode, error) {
	if !models.IsKnownFeature(feature) {
		return false, "", fmt.Errorf("feature %q: %w", feature, services.ErrUnknownFeature)
	}

	chain, err := s.scopeChain(ctx, orgID)
	if err != nil {
		return false, "", err
	}

	if s.entitled != nil {
		ok, err := s.entitled(ctx, orgID, feature)
		if err != nil {
			return false, "", fmt.Errorf("entitlement check: %w", err)
		}
		if !ok {
			return false, DenyPlanNotEntitled, nil
		}
	}

	// Ancestors only; a lock on the organization itself does not bar it
	// from changing its own toggle.
	ancestors := chain[:len(chain)-1]
	if len(ancestors) > 0 {
		toggles, err := s.togglesFor(ctx, ancestors, feature)
		if err != nil {
			return false, "", err
		}
		for _, org := range ancestors {
			if t := toggles[org.ID]; t != nil && t.Locked && !t.Enabled {
				return false, DenyLockedByParent, nil
			}
		}
	}

	return true, "", nil
}

// SetToggle writes an explicit toggle for (org, feature), records the change
// in the audit trail atomically with the write, and invalidates cached
// resolutions of the feature for every organization, since descendants of
// the written scope inherit the new value.
func (s *Service) SetToggle(ctx context.Context, orgID uuid.UUID, feature models.Feature, enabled, locked bool, actor string) (*models.FeatureToggle, error) {
	if !models.IsKnownFeature(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, services.ErrUnknownFeature)
	}
	if actor == "" {
		return nil, services.WrapError(services.ErrorTypeValidation, "actor is required", services.ErrInvalidInput)
	}
	if _, err := s.orgRepo.GetByID(ctx, orgID); err != nil {
		return nil, err
	}

	if enabled {
		ok, code, err := s.CanEnable(ctx, orgID, feature)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, services.WrapError(services.ErrorTypeValidation,
				fmt.Sprintf("cannot enable feature %s: %s", feature, code), services.ErrInvalidInput)
		}
	}

	toggle := models.NewFeatureToggle(orgID, feature, enabled, actor)
	toggle.Locked = locked

	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		if err := s.toggleRepo.Upsert(txCtx, toggle); err != nil {
			return err
		}

		entry := models.NewAuditEntry(orgID, actor, models.AuditActionToggleUpdated, "feature").
			WithDetails(map[string]interface{}{
				"feature": feature,
				"enabled": enabled,
				"locked":  locked,
			})
		_, err := s.recorder.Record(txCtx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.InvalidateFeature(feature)
	}

	// Re-read so an upsert over an existing row returns the stored identity
	stored, err := s.toggleRepo.Get(ctx, orgID, feature)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		toggle = stored
	}

	s.logger.Info("feature toggle updated",
		zap.String("org_id", orgID.String()),
		zap.String("feature", string(feature)),
		zap.Bool("enabled", enabled),
		zap.Bool("locked", locked),
		zap.String("actor", actor))

	return toggle, nil
}

// resolve walks the scope chain and folds the toggles into an effective state
func (s *Service) resolve(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*Resolution, error) {
	orgs, err := s.scopeChain(ctx, orgID)
	if err != nil {
		return nil, err
	}

	toggles, err := s.togglesFor(ctx, orgs, feature)
	if err != nil {
		return nil, err
	}

	resolution := &Resolution{
		Feature: feature,
		Enabled: models.DefaultEnabled(feature),
		Source:  models.SourceDefault,
		Chain: []ScopeDecision{{
			Scope:   ScopeGlobal,
			Enabled: models.DefaultEnabled(feature),
		}},
	}

	locked := false
	for _, org := range orgs {
		id := org.ID
		decision := ScopeDecision{Scope: ScopeOrganization, OrgID: &id}

		if t := toggles[org.ID]; t != nil {
			decision.HasToggle = true
			decision.Enabled = t.Enabled
			decision.Locked = t.Locked

			if !locked {
				resolution.Enabled = t.Enabled
				if org.ID == orgID {
					resolution.Source = models.SourceOverride
				} else {
					resolution.Source = models.SourceInherited
				}
			}
			if t.Locked {
				locked = true
			}
		} else {
			decision.Enabled = resolution.Enabled
		}

		resolution.Chain = append(resolution.Chain, decision)
	}

	return resolution, nil
}

// scopeChain loads the organization and its ancestors, ordered root first
func (s *Service) scopeChain(ctx context.Context, orgID uuid.UUID) ([]*models.Organization, error) {
	chain := make([]*models.Organization, 0, 4)

	id := orgID
	for depth := 0; ; depth++ {
		if depth >= maxScopeDepth {
			return nil, fmt.Errorf("scope chain for organization %s exceeds depth %d: %w",
				orgID, maxScopeDepth, services.ErrCyclicScope)
		}

		org, err := s.orgRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		// Prepend so the root ends up first
		chain = append([]*models.Organization{org}, chain...)

		if org.ParentID == nil {
			break
		}
		id = *org.ParentID
	}

	return chain, nil
}

// togglesFor reads the toggles for a feature across a set of scopes in one call
func (s *Service) togglesFor(ctx context.Context, orgs []*models.Organization, feature models.Feature) (map[uuid.UUID]*models.FeatureToggle, error) {
	ids := make([]uuid.UUID, 0, len(orgs))
	for _, org := range orgs {
		ids = append(ids, org.ID)
	}
	if len(ids) == 0 {
		return map[uuid.UUID]*models.FeatureToggle{}, nil
	}
	return s.toggleRepo.GetForOrgs(ctx, ids, feature)
}
