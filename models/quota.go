package models

import (
	"time"

	"github.com/google/uuid"
)

// Quota bounds feature usage for one organization. Used never goes negative
// and every committed consume keeps Used <= Limit; the conditional update in
// the store enforces this under concurrent writers.
type Quota struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	OrgID        uuid.UUID     `json:"org_id" db:"org_id"`
	Feature      Feature       `json:"feature" db:"feature"`
	Limit        int           `json:"limit" db:"max_limit"`
	Used         int           `json:"used" db:"used"`
	PeriodStart  time.Time     `json:"period_start" db:"period_start"`
	PeriodLength time.Duration `json:"period_length" db:"period_length"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Quota model
func (Quota) TableName() string {
	return "quotas"
}

// NewQuota creates a new Quota instance with zero usage
func NewQuota(orgID uuid.UUID, feature Feature, limit int, periodLength time.Duration) *Quota {
	now := time.Now()
	return &Quota{
		ID:           uuid.New(),
		OrgID:        orgID,
		Feature:      feature,
		Limit:        limit,
		Used:         0,
		PeriodStart:  now,
		PeriodLength: periodLength,
		UpdatedAt:    now,
	}
}

// Remaining returns the unconsumed portion of the quota
func (q *Quota) Remaining() int {
	remaining := q.Limit - q.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PeriodEnd returns the end of the current usage period
func (q *Quota) PeriodEnd() time.Time {
	return q.PeriodStart.Add(q.PeriodLength)
}
