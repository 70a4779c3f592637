package models

import (
	"time"

	"github.com/google/uuid"
)

// ToggleSource indicates which scope produced a resolved feature state
type ToggleSource string

const (
	SourceDefault   ToggleSource = "default"   // global catalog default, no explicit toggle anywhere
	SourceInherited ToggleSource = "inherited" // explicit toggle on an ancestor scope
	SourceOverride  ToggleSource = "override"  // explicit toggle on the organization itself
)

// FeatureToggle is an explicit per-organization feature setting.
// At most one toggle exists per (org, feature) pair; absence means the
// resolver falls through to the next more general scope. A locked toggle
// force-disables the feature for every descendant scope.
type FeatureToggle struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrgID     uuid.UUID `json:"org_id" db:"org_id"`
	Feature   Feature   `json:"feature" db:"feature"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	Locked    bool      `json:"locked" db:"locked"`
	UpdatedBy string    `json:"updated_by" db:"updated_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the FeatureToggle model
func (FeatureToggle) TableName() string {
	return "feature_toggles"
}

// NewFeatureToggle creates a new FeatureToggle instance
func NewFeatureToggle(orgID uuid.UUID, feature Feature, enabled bool, updatedBy string) *FeatureToggle {
	now := time.Now()
	return &FeatureToggle{
		ID:        uuid.New(),
		OrgID:     orgID,
		Feature:   feature,
		Enabled:   enabled,
		UpdatedBy: updatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
