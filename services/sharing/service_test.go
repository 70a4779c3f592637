package sharing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
	"github.com/callsight/rag-control-plane/services/audit"
)

// MockSharingRequestRepository is a mock implementation of repositories.SharingRequestRepository
type MockSharingRequestRepository struct {
	mock.Mock
}

func (m *MockSharingRequestRepository) Create(ctx context.Context, req *models.SharingRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockSharingRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SharingRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SharingRequest), args.Error(1)
}

func (m *MockSharingRequestRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.SharingStatus, decidedBy string) (*models.SharingRequest, error) {
	args := m.Called(ctx, id, from, to, decidedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SharingRequest), args.Error(1)
}

func (m *MockSharingRequestRepository) FindApproved(ctx context.Context, targetOrgID uuid.UUID, feature models.Feature) ([]*models.SharingRequest, error) {
	args := m.Called(ctx, targetOrgID, feature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SharingRequest), args.Error(1)
}

func (m *MockSharingRequestRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.SharingRequest, error) {
	args := m.Called(ctx, orgID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SharingRequest), args.Error(1)
}

// MockContextItemRepository is a mock implementation of repositories.ContextItemRepository
type MockContextItemRepository struct {
	mock.Mock
}

func (m *MockContextItemRepository) Create(ctx context.Context, item *models.ContextItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockContextItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContextItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContextItem), args.Error(1)
}

func (m *MockContextItemRepository) Query(ctx context.Context, filter repositories.ContextItemFilter, limit, offset int) ([]*models.ContextItem, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContextItem), args.Error(1)
}

func (m *MockContextItemRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ItemStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// MockOrganizationRepository is a mock implementation of repositories.OrganizationRepository
type MockOrganizationRepository struct {
	mock.Mock
}

func (m *MockOrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *MockOrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

// MockAuditRepository is a mock implementation of repositories.AuditRepository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditEntry), args.Error(1)
}

func (m *MockAuditRepository) Query(ctx context.Context, filter repositories.AuditFilter, limit, offset int) ([]*models.AuditEntry, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEntry), args.Error(1)
}

func (m *MockAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// passthroughTxManager runs the function without a real transaction
type passthroughTxManager struct{}

func (passthroughTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nil, nil
}

func (passthroughTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, nil)
}

type fixture struct {
	sharingRepo *MockSharingRequestRepository
	itemRepo    *MockContextItemRepository
	orgRepo     *MockOrganizationRepository
	auditRepo   *MockAuditRepository
	svc         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	f := &fixture{
		sharingRepo: new(MockSharingRequestRepository),
		itemRepo:    new(MockContextItemRepository),
		orgRepo:     new(MockOrganizationRepository),
		auditRepo:   new(MockAuditRepository),
	}
	recorder := audit.NewRecorder(f.auditRepo, passthroughTxManager{}, logger)
	f.svc = NewService(f.sharingRepo, f.itemRepo, f.orgRepo,
		passthroughTxManager{}, recorder, logger)
	return f
}

func TestRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("opens request with audit entry", func(t *testing.T) {
		f := newFixture(t)
		source := models.NewOrganization("Acme", "acme", nil)
		target := models.NewOrganization("Globex", "globex", nil)
		item := models.NewContextItem(source.ID, models.FeatureCaseStudies, "case study", 1, 0.9, "user")

		f.orgRepo.On("GetByID", ctx, source.ID).Return(source, nil)
		f.orgRepo.On("GetByID", ctx, target.ID).Return(target, nil)
		f.itemRepo.On("GetByID", ctx, item.ID).Return(item, nil)
		f.sharingRepo.On("Create", ctx, mock.MatchedBy(func(r *models.SharingRequest) bool {
			return r.Status == models.SharingRequested && r.SourceOrgID == source.ID
		})).Return(nil)
		f.auditRepo.On("Insert", ctx, mock.MatchedBy(func(e *models.AuditEntry) bool {
			return e.Action == models.AuditActionSharingRequest
		})).Return(nil)

		req, err := f.svc.Request(ctx, RequestInput{
			SourceOrgID: source.ID,
			TargetOrgID: target.ID,
			Feature:     models.FeatureCaseStudies,
			ItemIDs:     []uuid.UUID{item.ID},
			Actor:       "admin@acme.test",
		})
		require.NoError(t, err)
		assert.Equal(t, models.SharingRequested, req.Status)
		f.auditRepo.AssertExpectations(t)
	})

	t.Run("same source and target rejected", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()

		_, err := f.svc.Request(ctx, RequestInput{
			SourceOrgID: orgID,
			TargetOrgID: orgID,
			Feature:     models.FeatureCaseStudies,
			ItemIDs:     []uuid.UUID{uuid.New()},
			Actor:       "admin@acme.test",
		})
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("item owned by another organization rejected", func(t *testing.T) {
		f := newFixture(t)
		source := models.NewOrganization("Acme", "acme", nil)
		target := models.NewOrganization("Globex", "globex", nil)
		foreign := models.NewContextItem(uuid.New(), models.FeatureCaseStudies, "x", 1, 0.9, "user")

		f.orgRepo.On("GetByID", ctx, source.ID).Return(source, nil)
		f.orgRepo.On("GetByID", ctx, target.ID).Return(target, nil)
		f.itemRepo.On("GetByID", ctx, foreign.ID).Return(foreign, nil)

		_, err := f.svc.Request(ctx, RequestInput{
			SourceOrgID: source.ID,
			TargetOrgID: target.ID,
			Feature:     models.FeatureCaseStudies,
			ItemIDs:     []uuid.UUID{foreign.ID},
			Actor:       "admin@acme.test",
		})
		assert.True(t, services.IsValidationError(err))
		f.sharingRepo.AssertNotCalled(t, "Create")
	})

	t.Run("item under a different feature rejected", func(t *testing.T) {
		f := newFixture(t)
		source := models.NewOrganization("Acme", "acme", nil)
		target := models.NewOrganization("Globex", "globex", nil)
		item := models.NewContextItem(source.ID, models.FeatureCallSummaries, "x", 1, 0.9, "user")

		f.orgRepo.On("GetByID", ctx, source.ID).Return(source, nil)
		f.orgRepo.On("GetByID", ctx, target.ID).Return(target, nil)
		f.itemRepo.On("GetByID", ctx, item.ID).Return(item, nil)

		_, err := f.svc.Request(ctx, RequestInput{
			SourceOrgID: source.ID,
			TargetOrgID: target.ID,
			Feature:     models.FeatureCaseStudies,
			ItemIDs:     []uuid.UUID{item.ID},
			Actor:       "admin@acme.test",
		})
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("empty item list rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Request(ctx, RequestInput{
			SourceOrgID: uuid.New(),
			TargetOrgID: uuid.New(),
			Feature:     models.FeatureCaseStudies,
			Actor:       "admin@acme.test",
		})
		assert.True(t, services.IsValidationError(err))
	})
}

func TestDecisions(t *testing.T) {
	ctx := context.Background()

	approvedReq := func() *models.SharingRequest {
		req := models.NewSharingRequest(uuid.New(), uuid.New(), models.FeatureCaseStudies,
			[]uuid.UUID{uuid.New()}, "admin@acme.test")
		req.Status = models.SharingApproved
		return req
	}

	t.Run("approve records audit entry", func(t *testing.T) {
		f := newFixture(t)
		req := approvedReq()

		f.sharingRepo.On("Transition", ctx, req.ID, models.SharingRequested, models.SharingApproved, "admin@globex.test").
			Return(req, nil)
		f.auditRepo.On("Insert", ctx, mock.MatchedBy(func(e *models.AuditEntry) bool {
			return e.Action == models.AuditActionSharingApproved
		})).Return(nil)

		got, err := f.svc.Approve(ctx, req.ID, "admin@globex.test")
		require.NoError(t, err)
		assert.Equal(t, models.SharingApproved, got.Status)
		f.auditRepo.AssertExpectations(t)
	})

	t.Run("losing a decision race surfaces a conflict", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.New()

		f.sharingRepo.On("Transition", ctx, id, models.SharingRequested, models.SharingApproved, "admin@globex.test").
			Return(nil, fmt.Errorf("not in state: %w", services.ErrStaleTransition))

		_, err := f.svc.Approve(ctx, id, "admin@globex.test")
		assert.True(t, services.IsConflictError(err))
		f.auditRepo.AssertNotCalled(t, "Insert")
	})

	t.Run("revoke goes through the approved state guard", func(t *testing.T) {
		f := newFixture(t)
		req := approvedReq()
		req.Status = models.SharingRevoked

		f.sharingRepo.On("Transition", ctx, req.ID, models.SharingApproved, models.SharingRevoked, "admin@acme.test").
			Return(req, nil)
		f.auditRepo.On("Insert", ctx, mock.MatchedBy(func(e *models.AuditEntry) bool {
			return e.Action == models.AuditActionSharingRevoked
		})).Return(nil)

		got, err := f.svc.Revoke(ctx, req.ID, "admin@acme.test")
		require.NoError(t, err)
		assert.Equal(t, models.SharingRevoked, got.Status)
	})

	t.Run("failed audit write fails the decision", func(t *testing.T) {
		f := newFixture(t)
		req := approvedReq()

		f.sharingRepo.On("Transition", ctx, req.ID, models.SharingRequested, models.SharingApproved, "admin@globex.test").
			Return(req, nil)
		f.auditRepo.On("Insert", ctx, mock.Anything).Return(errors.New("disk full"))

		_, err := f.svc.Approve(ctx, req.ID, "admin@globex.test")
		assert.True(t, services.IsAuditWriteError(err))
	})

	t.Run("missing actor rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Approve(ctx, uuid.New(), "")
		assert.True(t, services.IsValidationError(err))
	})
}

func TestApprovedFor(t *testing.T) {
	ctx := context.Background()

	t.Run("grant covering the item", func(t *testing.T) {
		f := newFixture(t)
		target := uuid.New()
		itemID := uuid.New()

		grant := models.NewSharingRequest(uuid.New(), target, models.FeatureCaseStudies,
			[]uuid.UUID{itemID}, "admin@acme.test")
		grant.Status = models.SharingApproved

		f.sharingRepo.On("FindApproved", ctx, target, models.FeatureCaseStudies).
			Return([]*models.SharingRequest{grant}, nil)

		ok, err := f.svc.ApprovedFor(ctx, target, models.FeatureCaseStudies, itemID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("grant not covering the item", func(t *testing.T) {
		f := newFixture(t)
		target := uuid.New()

		grant := models.NewSharingRequest(uuid.New(), target, models.FeatureCaseStudies,
			[]uuid.UUID{uuid.New()}, "admin@acme.test")
		grant.Status = models.SharingApproved

		f.sharingRepo.On("FindApproved", ctx, target, models.FeatureCaseStudies).
			Return([]*models.SharingRequest{grant}, nil)

		ok, err := f.svc.ApprovedFor(ctx, target, models.FeatureCaseStudies, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no grants at all", func(t *testing.T) {
		f := newFixture(t)
		target := uuid.New()

		f.sharingRepo.On("FindApproved", ctx, target, models.FeatureCaseStudies).
			Return([]*models.SharingRequest{}, nil)

		ok, err := f.svc.ApprovedFor(ctx, target, models.FeatureCaseStudies, uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
