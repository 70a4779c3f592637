package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SharingStatus is the workflow state of a sharing request
type SharingStatus string

const (
	SharingRequested SharingStatus = "requested"
	SharingApproved  SharingStatus = "approved"
	SharingRejected  SharingStatus = "rejected"
	SharingRevoked   SharingStatus = "revoked"
)

// SharingRequest proposes exposing one organization's context items to a
// target organization for a single feature. The workflow is
// requested → approved | rejected, and approved → revoked; rejected and
// revoked are terminal, and there is no direct requested → revoked edge.
type SharingRequest struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	SourceOrgID uuid.UUID     `json:"source_org_id" db:"source_org_id"`
	TargetOrgID uuid.UUID     `json:"target_org_id" db:"target_org_id"`
	Feature     Feature       `json:"feature" db:"feature"`
	ItemIDs     []uuid.UUID   `json:"item_ids" db:"item_ids"`
	Status      SharingStatus `json:"status" db:"status"`
	RequestedBy string        `json:"requested_by" db:"requested_by"`
	DecidedBy   *string       `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the SharingRequest model
func (SharingRequest) TableName() string {
	return "sharing_requests"
}

// NewSharingRequest creates a new SharingRequest in the requested state
func NewSharingRequest(sourceOrgID, targetOrgID uuid.UUID, feature Feature, itemIDs []uuid.UUID, requestedBy string) *SharingRequest {
	now := time.Now()
	return &SharingRequest{
		ID:          uuid.New(),
		SourceOrgID: sourceOrgID,
		TargetOrgID: targetOrgID,
		Feature:     feature,
		ItemIDs:     itemIDs,
		Status:      SharingRequested,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// sharingTransitions is the allowed workflow edge set
var sharingTransitions = map[SharingStatus][]SharingStatus{
	SharingRequested: {SharingApproved, SharingRejected},
	SharingApproved:  {SharingRevoked},
}

// CanTransitionTo reports whether the request may move to the target status
func (r *SharingRequest) CanTransitionTo(target SharingStatus) bool {
	for _, next := range sharingTransitions[r.Status] {
		if next == target {
			return true
		}
	}
	return false
}

// Covers reports whether the request grants access to the given item
func (r *SharingRequest) Covers(itemID uuid.UUID) bool {
	for _, id := range r.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// ItemIDsArray returns the item IDs as a pq-compatible UUID array for storage
func (r *SharingRequest) ItemIDsArray() pq.StringArray {
	out := make(pq.StringArray, 0, len(r.ItemIDs))
	for _, id := range r.ItemIDs {
		out = append(out, id.String())
	}
	return out
}

// SetItemIDsFromArray populates ItemIDs from a stored UUID array
func (r *SharingRequest) SetItemIDsFromArray(arr pq.StringArray) error {
	ids := make([]uuid.UUID, 0, len(arr))
	for _, s := range arr {
		id, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	r.ItemIDs = ids
	return nil
}
