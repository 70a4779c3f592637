package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/callsight/rag-control-plane/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Automatically commits if function succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// OrganizationRepository handles organization data operations
type OrganizationRepository interface {
	// Create creates a new organization
	Create(ctx context.Context, org *models.Organization) error

	// GetByID retrieves an organization by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)

	// GetBySlug retrieves an organization by slug
	GetBySlug(ctx context.Context, slug string) (*models.Organization, error)

	// List retrieves all organizations with pagination
	List(ctx context.Context, limit, offset int) ([]*models.Organization, error)

	// Update updates an organization's mutable settings
	Update(ctx context.Context, org *models.Organization) error
}

// FeatureToggleRepository handles feature toggle data operations
type FeatureToggleRepository interface {
	// Upsert writes a toggle for (org, feature), last writer wins
	Upsert(ctx context.Context, toggle *models.FeatureToggle) error

	// Get retrieves the toggle for (org, feature); nil when absent
	Get(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*models.FeatureToggle, error)

	// GetByOrgID retrieves all toggles for an organization
	GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.FeatureToggle, error)

	// GetForOrgs retrieves toggles for the given feature across a set of
	// organizations (one scope-chain read)
	GetForOrgs(ctx context.Context, orgIDs []uuid.UUID, feature models.Feature) (map[uuid.UUID]*models.FeatureToggle, error)
}

// QuotaRepository handles quota data operations
type QuotaRepository interface {
	// Get retrieves the quota for (org, feature)
	Get(ctx context.Context, orgID uuid.UUID, feature models.Feature) (*models.Quota, error)

	// CreateIfAbsent inserts the quota unless one already exists for the
	// (org, feature) pair, then returns the stored row. Safe under
	// concurrent first access.
	CreateIfAbsent(ctx context.Context, quota *models.Quota) (*models.Quota, error)

	// CreateOrUpdateLimit inserts the quota, or replaces the limit and
	// period while keeping accumulated usage when a row already exists
	CreateOrUpdateLimit(ctx context.Context, quota *models.Quota) (*models.Quota, error)

	// ConsumeAtomic increments used by amount only when used+amount stays
	// within the limit, as a single conditional update. Returns the updated
	// quota, or ErrQuotaExceeded when the condition fails.
	ConsumeAtomic(ctx context.Context, orgID uuid.UUID, feature models.Feature, amount int) (*models.Quota, error)

	// ResetUsage zeroes used and advances period_start
	ResetUsage(ctx context.Context, orgID uuid.UUID, feature models.Feature, periodStart time.Time) (*models.Quota, error)

	// GetByOrgID retrieves all quotas for an organization
	GetByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Quota, error)
}

// ContextItemFilter narrows context item queries
type ContextItemFilter struct {
	OrgID   uuid.UUID
	Feature *models.Feature
	Status  *models.ItemStatus
}

// ContextItemRepository handles context item data operations
type ContextItemRepository interface {
	// Create creates a new context item
	Create(ctx context.Context, item *models.ContextItem) error

	// GetByID retrieves a context item by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ContextItem, error)

	// Query retrieves items matching the filter, newest first
	Query(ctx context.Context, filter ContextItemFilter, limit, offset int) ([]*models.ContextItem, error)

	// UpdateStatus sets the item status
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ItemStatus) error
}

// SharingRequestRepository handles sharing request data operations
type SharingRequestRepository interface {
	// Create creates a new sharing request
	Create(ctx context.Context, req *models.SharingRequest) error

	// GetByID retrieves a sharing request by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.SharingRequest, error)

	// Transition moves the request from the expected status to the target
	// status as a single conditional update. Returns ErrStaleTransition
	// when the request is not in the expected status at commit time.
	Transition(ctx context.Context, id uuid.UUID, from, to models.SharingStatus, decidedBy string) (*models.SharingRequest, error)

	// FindApproved retrieves approved requests granting the target
	// organization access for the feature
	FindApproved(ctx context.Context, targetOrgID uuid.UUID, feature models.Feature) ([]*models.SharingRequest, error)

	// ListByOrg retrieves requests where the organization is source or target
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.SharingRequest, error)
}

// AuditFilter narrows audit entry queries
type AuditFilter struct {
	OrgID        *uuid.UUID
	Actor        string
	Action       models.AuditAction
	ResourceType string
	Decision     models.Decision
	Since        *time.Time
	Until        *time.Time
}

// AuditRepository handles audit entry data operations
type AuditRepository interface {
	// Insert appends a new audit entry
	Insert(ctx context.Context, entry *models.AuditEntry) error

	// GetByID retrieves an audit entry by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error)

	// Query retrieves entries matching the filter, timestamp descending
	Query(ctx context.Context, filter AuditFilter, limit, offset int) ([]*models.AuditEntry, error)

	// DeleteOlderThan purges entries older than the cutoff and returns the
	// purged count. This is the sole deletion path and is itself audited by
	// the caller.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Organizations   OrganizationRepository
	FeatureToggles  FeatureToggleRepository
	Quotas          QuotaRepository
	ContextItems    ContextItemRepository
	SharingRequests SharingRequestRepository
	AuditEntries    AuditRepository
}
