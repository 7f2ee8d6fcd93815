package api

import (
	"context"

	"github.com/hexagonlabs/roster/pkg/apperrors"
	"github.com/hexagonlabs/roster/pkg/authz"
	"github.com/hexagonlabs/roster/pkg/globalref"
	"github.com/hexagonlabs/roster/pkg/identity"
	"github.com/hexagonlabs/roster/pkg/orgs"
)

// Gateway funnels every operation through one fixed sequence: reject
// anonymous callers, resolve opaque references to records, consult the
// authorization resolver, then run the business operation. Business
// errors pass through with their kind intact.
type Gateway struct {
	identity identity.Service
	orgs     orgs.Service
	resolver *authz.Resolver
}

// NewGateway wires the gateway to its collaborators
func NewGateway(identitySvc identity.Service, orgSvc orgs.Service, resolver *authz.Resolver) *Gateway {
	return &Gateway{
		identity: identitySvc,
		orgs:     orgSvc,
		resolver: resolver,
	}
}

// resolveOrgRef turns an opaque organisation reference into its record.
// A malformed or mistyped reference and an unknown organisation are
// distinct failures.
func (g *Gateway) resolveOrgRef(ctx context.Context, ref string) (*orgs.Organisation, error) {
	id, err := globalref.DecodeTyped(ref, globalref.TypeOrganisation)
	if err != nil {
		return nil, err
	}
	return g.orgs.GetByID(ctx, id)
}

func requireCaller(caller *identity.User) error {
	if caller == nil {
		return apperrors.Unauthenticated("authentication required")
	}
	return nil
}

// CreateOrganisation creates an organisation with the caller as its
// founding admin
func (g *Gateway) CreateOrganisation(ctx context.Context, caller *identity.User, req orgs.CreateOrgRequest) (*orgs.Organisation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionCreateOrg, nil); err != nil {
		return nil, err
	}
	return g.orgs.Create(ctx, req, caller.ID)
}

// ViewOrganisation resolves and authorizes a read of one organisation
func (g *Gateway) ViewOrganisation(ctx context.Context, caller *identity.User, ref string) (*orgs.Organisation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	org, err := g.resolveOrgRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionViewOrg, org); err != nil {
		return nil, err
	}
	return org, nil
}

// ViewOrganisationBySlug is ViewOrganisation addressed by slug
func (g *Gateway) ViewOrganisationBySlug(ctx context.Context, caller *identity.User, slug string) (*orgs.Organisation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	org, err := g.orgs.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionViewOrg, org); err != nil {
		return nil, err
	}
	return org, nil
}

// UpdateOrganisation applies a partial update after authorization
func (g *Gateway) UpdateOrganisation(ctx context.Context, caller *identity.User, ref string, req orgs.UpdateOrgRequest) (*orgs.Organisation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	org, err := g.resolveOrgRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionUpdateOrg, org); err != nil {
		return nil, err
	}
	return g.orgs.Update(ctx, org.ID, req)
}

// ListOrgMembers lists an organisation's memberships, admin only
func (g *Gateway) ListOrgMembers(ctx context.Context, caller *identity.User, ref string) ([]*orgs.Membership, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	org, err := g.resolveOrgRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionListOrgMembers, org); err != nil {
		return nil, err
	}
	return g.orgs.ListMembers(ctx, org.ID)
}

// AddMember adds a user, addressed by username, to an organisation
func (g *Gateway) AddMember(ctx context.Context, caller *identity.User, ref, username string, isAdmin bool) (*orgs.Membership, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	org, err := g.resolveOrgRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionAddMember, org); err != nil {
		return nil, err
	}
	target, err := g.identity.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return g.orgs.AddMember(ctx, org.ID, target.ID, isAdmin)
}

// SetMemberAdminFlag grants or revokes the admin flag on a membership.
// Admins cannot target their own membership through this path; their own
// record is managed through self-service operations only.
func (g *Gateway) SetMemberAdminFlag(ctx context.Context, caller *identity.User, ref, username string, isAdmin bool) (*orgs.Membership, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	org, err := g.resolveOrgRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionSetAdminFlag, org); err != nil {
		return nil, err
	}
	if caller.Username == username {
		return nil, apperrors.PermissionDenied("cannot change your own membership through this path")
	}
	target, err := g.identity.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return g.orgs.SetAdminFlag(ctx, org.ID, target.ID, isAdmin)
}

// RemoveMember removes a membership with the same self-protection as
// SetMemberAdminFlag
func (g *Gateway) RemoveMember(ctx context.Context, caller *identity.User, ref, username string) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	org, err := g.resolveOrgRef(ctx, ref)
	if err != nil {
		return err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionRemoveMember, org); err != nil {
		return err
	}
	if caller.Username == username {
		return apperrors.PermissionDenied("cannot change your own membership through this path")
	}
	target, err := g.identity.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	return g.orgs.RemoveMember(ctx, org.ID, target.ID)
}

// ListMyOrganisations lists the caller's organisations
func (g *Gateway) ListMyOrganisations(ctx context.Context, caller *identity.User) ([]*orgs.Organisation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionListOwnOrgs, nil); err != nil {
		return nil, err
	}
	return g.orgs.ListForUser(ctx, caller.ID)
}

// ListMyMemberships lists the caller's memberships across organisations
func (g *Gateway) ListMyMemberships(ctx context.Context, caller *identity.User) ([]*orgs.Membership, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionListOwnMembers, nil); err != nil {
		return nil, err
	}
	return g.orgs.ListUserMemberships(ctx, caller.ID)
}

// UpdateMyProfile applies a self-service profile edit for the caller
func (g *Gateway) UpdateMyProfile(ctx context.Context, caller *identity.User, req identity.UpdateProfileRequest) (*identity.User, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := g.resolver.Require(ctx, caller, authz.ActionUpdateOwnRecord, nil); err != nil {
		return nil, err
	}
	return g.identity.UpdateProfile(ctx, caller.ID, req)
}
