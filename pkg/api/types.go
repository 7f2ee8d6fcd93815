package api

import (
	"time"

	"github.com/hexagonlabs/roster/pkg/globalref"
	"github.com/hexagonlabs/roster/pkg/identity"
	"github.com/hexagonlabs/roster/pkg/orgs"
)

// UserResponse is the wire shape of a user. Internal keys never leave
// the service; callers see opaque references.
type UserResponse struct {
	Ref          string    `json:"ref"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`
	IsSuperuser  bool      `json:"is_superuser"`
	IsStaff      bool      `json:"is_staff"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func toUserResponse(u *identity.User) UserResponse {
	return UserResponse{
		Ref:          globalref.Encode(globalref.TypeUser, u.ID),
		Username:     u.Username,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		PhoneNumber:  u.PhoneNumber,
		ProfileImage: u.ProfileImage,
		IsSuperuser:  u.IsSuperuser,
		IsStaff:      u.IsStaff,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
	}
}

// OrganisationResponse is the wire shape of an organisation
type OrganisationResponse struct {
	Ref         string    `json:"ref"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	IsActive    bool      `json:"is_active"`
	IsPublic    bool      `json:"is_public"`
	CreatedBy   string    `json:"created_by,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toOrgResponse(o *orgs.Organisation) OrganisationResponse {
	resp := OrganisationResponse{
		Ref:         globalref.Encode(globalref.TypeOrganisation, o.ID),
		Name:        o.Name,
		Slug:        o.Slug,
		IsActive:    o.IsActive,
		IsPublic:    o.IsPublic,
		MemberCount: o.MemberCount,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if o.CreatedBy != nil {
		resp.CreatedBy = globalref.Encode(globalref.TypeUser, *o.CreatedBy)
	}
	return resp
}

func toOrgResponses(list []*orgs.Organisation) []OrganisationResponse {
	result := make([]OrganisationResponse, 0, len(list))
	for _, o := range list {
		result = append(result, toOrgResponse(o))
	}
	return result
}

// MembershipResponse is the wire shape of a ledger row
type MembershipResponse struct {
	Ref             string    `json:"ref"`
	OrganisationRef string    `json:"organisation_ref"`
	UserRef         string    `json:"user_ref"`
	Username        string    `json:"username,omitempty"`
	IsOrgAdmin      bool      `json:"is_org_admin"`
	CreatedAt       time.Time `json:"created_at"`
}

func toMembershipResponse(m *orgs.Membership) MembershipResponse {
	return MembershipResponse{
		Ref:             globalref.Encode(globalref.TypeMembership, m.ID),
		OrganisationRef: globalref.Encode(globalref.TypeOrganisation, m.OrganisationID),
		UserRef:         globalref.Encode(globalref.TypeUser, m.UserID),
		Username:        m.Username,
		IsOrgAdmin:      m.IsOrgAdmin,
		CreatedAt:       m.CreatedAt,
	}
}

func toMembershipResponses(list []*orgs.Membership) []MembershipResponse {
	result := make([]MembershipResponse, 0, len(list))
	for _, m := range list {
		result = append(result, toMembershipResponse(m))
	}
	return result
}

// AuthResponse carries the issued bearer token with its user
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// loginRequest carries credentials
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// addMemberRequest names a user and their initial admin flag
type addMemberRequest struct {
	Username   string `json:"username"`
	IsOrgAdmin bool   `json:"is_org_admin"`
}

// setAdminFlagRequest carries the new admin flag value
type setAdminFlagRequest struct {
	IsOrgAdmin bool `json:"is_org_admin"`
}
