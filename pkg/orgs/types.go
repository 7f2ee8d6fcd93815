package orgs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Organisation is a directory entry
type Organisation struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	IsActive  bool       `json:"is_active"`
	IsPublic  bool       `json:"is_public"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	// MemberCount is populated on directory reads
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership is one row of the ledger
type Membership struct {
	ID             uuid.UUID `json:"id"`
	OrganisationID uuid.UUID `json:"organisation_id"`
	UserID         uuid.UUID `json:"user_id"`
	IsOrgAdmin     bool      `json:"is_org_admin"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Joined from users for list responses
	Username string `json:"username,omitempty"`
}

// CreateOrgRequest carries the fields for a new organisation
type CreateOrgRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	IsPublic bool   `json:"is_public"`
}

// UpdateOrgRequest carries a partial organisation update. Nil fields are
// left untouched.
type UpdateOrgRequest struct {
	Name     *string `json:"name,omitempty"`
	Slug     *string `json:"slug,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	IsPublic *bool   `json:"is_public,omitempty"`
}

// Service defines organisation directory and membership ledger operations
type Service interface {
	// Directory
	Create(ctx context.Context, req CreateOrgRequest, creatorID uuid.UUID) (*Organisation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Organisation, error)
	GetBySlug(ctx context.Context, slug string) (*Organisation, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateOrgRequest) (*Organisation, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Organisation, error)

	// Ledger
	AddMember(ctx context.Context, orgID, userID uuid.UUID, isAdmin bool) (*Membership, error)
	SetAdminFlag(ctx context.Context, orgID, userID uuid.UUID, isAdmin bool) (*Membership, error)
	RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error
	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Membership, error)
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
	IsOrgAdmin(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	CountAdmins(ctx context.Context, orgID uuid.UUID) (int, error)
}
