package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the inclusion status of a context item
type ItemStatus string

const (
	StatusPending  ItemStatus = "pending"
	StatusIncluded ItemStatus = "included"
	StatusExcluded ItemStatus = "excluded"
)

// IsValidItemStatus reports whether the status is one of the known states
func IsValidItemStatus(s ItemStatus) bool {
	switch s {
	case StatusPending, StatusIncluded, StatusExcluded:
		return true
	}
	return false
}

// ContextItem is a unit of content associated with one organization and one
// feature. Items leave the pending state exactly once: pending can move to
// included or excluded, included and excluded can flip between each other,
// and nothing returns to pending. Items referenced by an audit entry are
// never hard-deleted; exclusion is the only removal path.
type ContextItem struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	OrgID           uuid.UUID  `json:"org_id" db:"org_id"`
	Feature         Feature    `json:"feature" db:"feature"`
	Status          ItemStatus `json:"status" db:"status"`
	Priority        int        `json:"priority" db:"priority"`
	ConfidenceScore float64    `json:"confidence_score" db:"confidence_score"`
	Content         string     `json:"content" db:"content"`
	CreatedBy       string     `json:"created_by" db:"created_by"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the ContextItem model
func (ContextItem) TableName() string {
	return "context_items"
}

// NewContextItem creates a new ContextItem in the pending state
func NewContextItem(orgID uuid.UUID, feature Feature, content string, priority int, confidence float64, createdBy string) *ContextItem {
	now := time.Now()
	return &ContextItem{
		ID:              uuid.New(),
		OrgID:           orgID,
		Feature:         feature,
		Status:          StatusPending,
		Priority:        priority,
		ConfidenceScore: confidence,
		Content:         content,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CanTransitionTo reports whether the item may move to the target status
func (c *ContextItem) CanTransitionTo(target ItemStatus) bool {
	if !IsValidItemStatus(target) || target == c.Status {
		return false
	}
	switch c.Status {
	case StatusPending:
		return target == StatusIncluded || target == StatusExcluded
	case StatusIncluded:
		return target == StatusExcluded
	case StatusExcluded:
		return target == StatusIncluded
	}
	return false
}
