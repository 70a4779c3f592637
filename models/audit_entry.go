package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionAccessDecision  AuditAction = "access_decision"
	AuditActionToggleUpdated   AuditAction = "toggle_updated"
	AuditActionQuotaReset      AuditAction = "quota_reset"
	AuditActionItemCreated     AuditAction = "item_created"
	AuditActionItemStatus      AuditAction = "item_status_changed"
	AuditActionSharingRequest  AuditAction = "sharing_requested"
	AuditActionSharingApproved AuditAction = "sharing_approved"
	AuditActionSharingRejected AuditAction = "sharing_rejected"
	AuditActionSharingRevoked  AuditAction = "sharing_revoked"
	AuditActionOrgCreated      AuditAction = "org_created"
	AuditActionAuditCleanup    AuditAction = "audit_cleanup"
)

// Decision is the outcome recorded on access-decision audit entries
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// AuditEntry is an immutable record of a policy decision or mutation.
// Entries are append-only; the retention cleanup operation is the only
// deletion path and itself produces an entry.
type AuditEntry struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrgID        uuid.UUID       `json:"org_id" db:"org_id"`
	Actor        string          `json:"actor" db:"actor"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // feature, quota, context_item, sharing_request, organization
	ResourceID   *uuid.UUID      `json:"resource_id,omitempty" db:"resource_id"`
	Decision     Decision        `json:"decision,omitempty" db:"decision"`
	Reason       string          `json:"reason,omitempty" db:"reason"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditEntry model
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// NewAuditEntry creates a new AuditEntry instance
func NewAuditEntry(orgID uuid.UUID, actor string, action AuditAction, resourceType string) *AuditEntry {
	return &AuditEntry{
		ID:           uuid.New(),
		OrgID:        orgID,
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		Timestamp:    time.Now(),
	}
}

// WithResource sets the resource ID
func (a *AuditEntry) WithResource(resourceID uuid.UUID) *AuditEntry {
	a.ResourceID = &resourceID
	return a
}

// WithDecision sets the decision and its reason
func (a *AuditEntry) WithDecision(decision Decision, reason string) *AuditEntry {
	a.Decision = decision
	a.Reason = reason
	return a
}

// WithReason sets the reason without a decision (for mutations)
func (a *AuditEntry) WithReason(reason string) *AuditEntry {
	a.Reason = reason
	return a
}

// WithDetails marshals and sets the details payload
func (a *AuditEntry) WithDetails(details interface{}) *AuditEntry {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}
