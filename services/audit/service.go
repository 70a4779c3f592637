package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/models"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/services"
)

// Recorder appends policy decisions and mutations to the audit trail.
// Record is synchronous on purpose: an unaudited permission decision is a
// correctness violation, so a failed write must fail the originating
// operation instead of being buffered and dropped.
type Recorder struct {
	auditRepo repositories.AuditRepository
	txManager repositories.TransactionManager
	logger    *zap.Logger
}

// NewRecorder creates a new Recorder instance
func NewRecorder(auditRepo repositories.AuditRepository, txManager repositories.TransactionManager, logger *zap.Logger) *Recorder {
	return &Recorder{
		auditRepo: auditRepo,
		txManager: txManager,
		logger:    logger,
	}
}

// Record appends an audit entry and returns its ID. A failed store write
// surfaces as an audit-write failure the caller must propagate.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditEntry) (uuid.UUID, error) {
	if entry == nil {
		return uuid.Nil, services.ErrInvalidInput
	}

	if err := r.auditRepo.Insert(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			zap.Error(err),
			zap.String("action", string(entry.Action)),
			zap.String("org_id", entry.OrgID.String()))
		return uuid.Nil, services.WrapError(services.ErrorTypeAudit, "record audit entry", err)
	}

	r.logger.Debug("audit entry recorded",
		zap.String("id", entry.ID.String()),
		zap.String("action", string(entry.Action)),
		zap.String("org_id", entry.OrgID.String()))

	return entry.ID, nil
}

// DefaultQueryLimit bounds unpaginated compliance queries
const DefaultQueryLimit = 50

// maxQueryLimit caps a single page
const maxQueryLimit = 1000

// Query retrieves audit entries matching the filter, newest first
func (r *Recorder) Query(ctx context.Context, filter repositories.AuditFilter, limit, offset int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if offset < 0 {
		offset = 0
	}

	return r.auditRepo.Query(ctx, filter, limit, offset)
}

// Cleanup purges entries older than the retention window. It is the sole
// exception to audit immutability and records its own entry describing how
// many records were removed; the purge and its entry commit together, so a
// failed entry write rolls the purge back.
func (r *Recorder) Cleanup(ctx context.Context, olderThan time.Duration, actor string) (int64, error) {
	if olderThan <= 0 {
		return 0, services.WrapError(services.ErrorTypeValidation, "retention window must be positive", services.ErrInvalidInput)
	}
	if actor == "" {
		return 0, services.WrapError(services.ErrorTypeValidation, "actor is required", services.ErrInvalidInput)
	}

	cutoff := time.Now().Add(-olderThan)

	var purged int64
	err := r.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		var err error
		purged, err = r.auditRepo.DeleteOlderThan(txCtx, cutoff)
		if err != nil {
			return err
		}

		entry := models.NewAuditEntry(uuid.Nil, actor, models.AuditActionAuditCleanup, "audit_entry").
			WithReason("retention cleanup").
			WithDetails(map[string]interface{}{
				"purged": purged,
				"cutoff": cutoff,
			})

		_, err = r.Record(txCtx, entry)
		return err
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("audit cleanup completed",
		zap.Int64("purged", purged),
		zap.Time("cutoff", cutoff),
		zap.String("actor", actor))

	return purged, nil
}
