package isolation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
)

// In-memory fakes implementing the repository interfaces with the same
// concurrency semantics as the store (conditional updates under a lock), so
// the full service stack can be exercised end to end.

type fakeOrgRepo struct {
	mu   sync.RWMutex
	orgs map[uuid.UUID]*models.Organization
}

func newFakeOrgRepo() *fakeOrgRepo {
	return &fakeOrgRepo{orgs: make(map[uuid.UUID]*models.Organization)}
}

func (r *fakeOrgRepo) Create(ctx context.Context, org *models.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs[org.ID] = org
	return nil
}

func (r *fakeOrgRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, services.ErrUnknownOrganization)
	}
	return org, nil
}

func (r *fakeOrgRepo) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, org := range r.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return nil, fmt.Errorf("organization %s: %w", slug, services.ErrUnknownOrganization)
}

func (r *fakeOrgRepo) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Organization, 0, len(r.orgs))
	for _, org := range r.orgs {
		out = append(out, org)
	}
	return out, nil
}

func (r *fakeOrgRepo) Update(ctx context.Context, org *models.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs[org.ID] = org
	return nil
}

type toggleKey struct {
	orgID   uuid.UUID
	feature models.Feature
}

type fakeToggleRepo struct {
	mu      sync.RWMutex
	toggles map[toggleKey]*models.FeatureToggle
}

func newFakeToggleRepo() *fakeToggleRepo {
	return &fakeToggleRepo{toggles: make(map[toggleKey]*models.FeatureToggle)}
}

func (r *fakeToggleRepo) Upsert(ctx context.Context, toggle *models.FeatureToggle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggles[toggleKey{toggle.OrgID, toggle.Feature}] = toggle
	return nil
}

func (r *fakeToggleRepo) Get(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*models.FeatureToggle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toggles[toggleKey{orgID, feature}], nil
}

func (r *fakeToggleRepo) GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.FeatureToggle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.FeatureToggle, 0)
	for key, toggle := range r.toggles {
		if key.orgID == orgID {
			out = append(out, toggle)
		}
	}
	return out, nil
}

func (r *fakeToggleRepo) GetForOrgs(ctx context.Context, orgIDs []uuid.UUID, feature models.Feature) (map[uuid.UUID]*models.FeatureToggle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]*models.FeatureToggle)
	for _, id := range orgIDs {
		if toggle, ok := r.toggles[toggleKey{id, feature}]; ok {
			out[id] = toggle
		}
	}
	return out, nil
}

type fakeQuotaRepo struct {
	mu     sync.Mutex
	quotas map[toggleKey]*models.Quota
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{quotas: make(map[toggleKey]*models.Quota)}
}

func (r *fakeQuotaRepo) Get(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*models.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[toggleKey{orgID, feature}]
	if !ok {
		return nil, fmt.Errorf("quota: %w", services.ErrQuotaNotFound)
	}
	cp := *q
	return &cp, nil
}

func (r *fakeQuotaRepo) CreateIfAbsent(ctx context.Context, quota *models.Quota) (*models.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := toggleKey{quota.OrgID, quota.Feature}
	if existing, ok := r.quotas[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *quota
	r.quotas[key] = &cp
	out := cp
	return &out, nil
}

func (r *fakeQuotaRepo) CreateOrUpdateLimit(ctx context.Context, quota *models.Quota) (*models.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := toggleKey{quota.OrgID, quota.Feature}
	if existing, ok := r.quotas[key]; ok {
		existing.Limit = quota.Limit
		existing.PeriodLength = quota.PeriodLength
		cp := *existing
		return &cp, nil
	}
	cp := *quota
	r.quotas[key] = &cp
	out := cp
	return &out, nil
}

func (r *fakeQuotaRepo) ConsumeAtomic(ctx context.Context, orgID uuid.UUID, feature models.Feature, amount int) (*models.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[toggleKey{orgID, feature}]
	if !ok {
		return nil, fmt.Errorf("quota: %w", services.ErrQuotaNotFound)
	}
	if q.Used+amount > q.Limit {
		cp := *q
		return &cp, fmt.Errorf("consume %d of %s: %w", amount, feature, services.ErrQuotaExceeded)
	}
	q.Used += amount
	q.UpdatedAt = time.Now()
	cp := *q
	return &cp, nil
}

func (r *fakeQuotaRepo) ResetUsage(ctx context.Context, orgID uuid.UUID, feature models.Feature, periodStart time.Time) (*models.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[toggleKey{orgID, feature}]
	if !ok {
		return nil, fmt.Errorf("quota: %w", services.ErrQuotaNotFound)
	}
	q.Used = 0
	q.PeriodStart = periodStart
	cp := *q
	return &cp, nil
}

func (r *fakeQuotaRepo) GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Quota, 0)
	for key, q := range r.quotas {
		if key.orgID == orgID {
			cp := *q
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeItemRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*models.ContextItem
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: make(map[uuid.UUID]*models.ContextItem)}
}

func (r *fakeItemRepo) Create(ctx context.Context, item *models.ContextItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return nil
}

func (r *fakeItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ContextItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("context item %s: %w", id, services.ErrItemNotFound)
	}
	return item, nil
}

func (r *fakeItemRepo) Query(ctx context.Context, filter repositories.ContextItemFilter, limit, offset int) ([]*models.ContextItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ContextItem, 0)
	for _, item := range r.items {
		if item.OrgID != filter.OrgID {
			continue
		}
		if filter.Feature != nil && item.Feature != *filter.Feature {
			continue
		}
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *fakeItemRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ItemStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return fmt.Errorf("context item %s: %w", id, services.ErrItemNotFound)
	}
	item.Status = status
	return nil
}

type fakeSharingRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.SharingRequest
}

func newFakeSharingRepo() *fakeSharingRepo {
	return &fakeSharingRepo{requests: make(map[uuid.UUID]*models.SharingRequest)}
}

func (r *fakeSharingRepo) Create(ctx context.Context, req *models.SharingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

func (r *fakeSharingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SharingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("sharing request %s: %w", id, services.ErrSharingNotFound)
	}
	return req, nil
}

func (r *fakeSharingRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.SharingStatus, decidedBy string) (*models.SharingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("sharing request %s: %w", id, services.ErrSharingNotFound)
	}
	if req.Status != from {
		return nil, fmt.Errorf("sharing request %s not in state %q: %w", id, from, services.ErrStaleTransition)
	}
	req.Status = to
	req.DecidedBy = &decidedBy
	req.UpdatedAt = time.Now()
	return req, nil
}

func (r *fakeSharingRepo) FindApproved(ctx context.Context, targetOrgID uuid.UUID, feature models.Feature) ([]*models.SharingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.SharingRequest, 0)
	for _, req := range r.requests {
		if req.TargetOrgID == targetOrgID && req.Feature == feature && req.Status == models.SharingApproved {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *fakeSharingRepo) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.SharingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.SharingRequest, 0)
	for _, req := range r.requests {
		if req.SourceOrgID == orgID || req.TargetOrgID == orgID {
			out = append(out, req)
		}
	}
	return out, nil
}

var errAuditDown = errors.New("audit store down")

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
	failing bool
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{entries: make([]*models.AuditEntry, 0)}
}

func (r *fakeAuditRepo) setFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = failing
}

func (r *fakeAuditRepo) Insert(ctx context.Context, entry *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errAuditDown
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeAuditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("audit entry %s: %w", id, services.ErrItemNotFound)
}

func (r *fakeAuditRepo) Query(ctx context.Context, filter repositories.AuditFilter, limit, offset int) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AuditEntry, 0)
	for _, entry := range r.entries {
		if filter.OrgID != nil && entry.OrgID != *filter.OrgID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.Decision != "" && entry.Decision != filter.Decision {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *fakeAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]*models.AuditEntry, 0, len(r.entries))
	var purged int64
	for _, entry := range r.entries {
		if entry.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	r.entries = kept
	return purged, nil
}

// entriesByAction counts recorded entries per action
func (r *fakeAuditRepo) entriesByAction(action models.AuditAction) []*models.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AuditEntry, 0)
	for _, entry := range r.entries {
		if entry.Action == action {
			out = append(out, entry)
		}
	}
	return out
}

// fakeTxManager runs the function directly; the fakes apply writes immediately
type fakeTxManager struct{}

func (fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nil, nil
}

func (fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, nil)
}
