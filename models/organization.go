package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant in the multi-tenant system.
// ParentID links the organization into the scope chain used for feature
// inheritance (global default → parent scope → organization). A plan tier is
// modeled as an ordinary organization record that tenants reference as their
// parent. The chain must be a finite tree; cyclic parent references are
// rejected at creation time.
type Organization struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Slug      string     `json:"slug" db:"slug"` // URL-friendly identifier
	ParentID  *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Organization model
func (Organization) TableName() string {
	return "organizations"
}

// NewOrganization creates a new Organization instance
func NewOrganization(name, slug string, parentID *uuid.UUID) *Organization {
	now := time.Now()
	return &Organization{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
