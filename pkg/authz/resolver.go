// Package authz decides whether a caller may perform an action on an
// organisation. Rules live in a fixed policy table: each action maps to an
// ordered list of predicates, and the first predicate that allows wins.
// The resolver is purely decisional and never mutates state.
package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hexagonlabs/roster/pkg/apperrors"
	"github.com/hexagonlabs/roster/pkg/identity"
	"github.com/hexagonlabs/roster/pkg/observability"
	"github.com/hexagonlabs/roster/pkg/orgs"
)

// Action names an operation subject to authorization
type Action string

const (
	ActionViewOrg         Action = "org.view"
	ActionCreateOrg       Action = "org.create"
	ActionUpdateOrg       Action = "org.update"
	ActionListOrgMembers  Action = "org.list_members"
	ActionAddMember       Action = "member.add"
	ActionSetAdminFlag    Action = "member.set_admin"
	ActionRemoveMember    Action = "member.remove"
	ActionListOwnOrgs     Action = "self.list_orgs"
	ActionListOwnMembers  Action = "self.list_memberships"
	ActionUpdateOwnRecord Action = "self.update_profile"
)

// Decision is the resolver's verdict
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Ledger is the slice of the membership ledger the resolver reads
type Ledger interface {
	IsOrgAdmin(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
}

// predicate inspects one rule. verdict is one of allow, deny, or pass to
// the next predicate in the chain.
type predicate func(ctx context.Context, r *Resolver, caller *identity.User, org *orgs.Organisation) (verdict, error)

type verdict int

const (
	verdictPass verdict = iota
	verdictAllow
	verdictDeny
)

// policyRule is one action's ordered predicate chain with its fallthrough
// denial reason
type policyRule struct {
	predicates []predicate
	denyReason string
}

// Resolver evaluates the policy table against ledger state
type Resolver struct {
	ledger  Ledger
	policy  map[Action]policyRule
	metrics *observability.Metrics
}

// NewResolver creates a resolver backed by the membership ledger
func NewResolver(ledger Ledger) *Resolver {
	r := &Resolver{ledger: ledger}
	r.policy = map[Action]policyRule{
		ActionViewOrg: {
			predicates: []predicate{isSuperuser, isPublicOrg, isMember},
			denyReason: "not a member, organisation is private",
		},
		ActionCreateOrg: {
			predicates: []predicate{anyAuthenticated},
		},
		ActionUpdateOrg: {
			predicates: []predicate{isSuperuser, isOrgAdmin},
			denyReason: "organisation admin privileges required",
		},
		ActionListOrgMembers: {
			predicates: []predicate{isSuperuser, isOrgAdmin},
			denyReason: "organisation admin privileges required",
		},
		ActionAddMember: {
			predicates: []predicate{isSuperuser, isOrgAdmin},
			denyReason: "organisation admin privileges required",
		},
		ActionSetAdminFlag: {
			predicates: []predicate{isSuperuser, isOrgAdmin},
			denyReason: "organisation admin privileges required",
		},
		ActionRemoveMember: {
			predicates: []predicate{isSuperuser, isOrgAdmin},
			denyReason: "organisation admin privileges required",
		},
		ActionListOwnOrgs: {
			predicates: []predicate{anyAuthenticated},
		},
		ActionListOwnMembers: {
			predicates: []predicate{anyAuthenticated},
		},
		ActionUpdateOwnRecord: {
			predicates: []predicate{anyAuthenticated},
		},
	}
	return r
}

// AttachMetrics enables decision counters
func (r *Resolver) AttachMetrics(m *observability.Metrics) {
	r.metrics = m
}

// Authorize evaluates the policy for an action. The target organisation
// must already be resolved by the caller, so an unknown organisation
// surfaces as not-found before any permission check runs here. Actions
// without a target take a nil organisation.
//
// Unauthenticated callers are denied every action before the policy
// table is consulted.
func (r *Resolver) Authorize(ctx context.Context, caller *identity.User, action Action, org *orgs.Organisation) (Decision, error) {
	decision, err := r.evaluate(ctx, caller, action, org)
	if r.metrics != nil {
		outcome := "deny"
		if err != nil {
			outcome = "error"
		} else if decision.Allowed {
			outcome = "allow"
		}
		r.metrics.AuthzDecisionsTotal.WithLabelValues(string(action), outcome).Inc()
	}
	return decision, err
}

// Require is Authorize folded into the error taxonomy: a denial becomes
// an Unauthenticated or PermissionDenied error.
func (r *Resolver) Require(ctx context.Context, caller *identity.User, action Action, org *orgs.Organisation) error {
	decision, err := r.Authorize(ctx, caller, action, org)
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}
	if caller == nil {
		return apperrors.Unauthenticated(decision.Reason)
	}
	return apperrors.PermissionDenied(decision.Reason)
}

func (r *Resolver) evaluate(ctx context.Context, caller *identity.User, action Action, org *orgs.Organisation) (Decision, error) {
	if caller == nil {
		return deny("authentication required"), nil
	}

	rule, ok := r.policy[action]
	if !ok {
		return deny(fmt.Sprintf("unknown action %q", action)), nil
	}

	for _, p := range rule.predicates {
		v, err := p(ctx, r, caller, org)
		if err != nil {
			return Decision{}, err
		}
		switch v {
		case verdictAllow:
			return allow(), nil
		case verdictDeny:
			return deny(rule.denyReason), nil
		}
	}

	return deny(rule.denyReason), nil
}

func anyAuthenticated(_ context.Context, _ *Resolver, _ *identity.User, _ *orgs.Organisation) (verdict, error) {
	// Anonymous callers were rejected before the chain ran
	return verdictAllow, nil
}

func isSuperuser(_ context.Context, _ *Resolver, caller *identity.User, _ *orgs.Organisation) (verdict, error) {
	if caller.IsSuperuser {
		return verdictAllow, nil
	}
	return verdictPass, nil
}

func isPublicOrg(_ context.Context, _ *Resolver, _ *identity.User, org *orgs.Organisation) (verdict, error) {
	if org == nil {
		return verdictPass, nil
	}
	if org.IsPublic {
		return verdictAllow, nil
	}
	return verdictPass, nil
}

func isMember(ctx context.Context, r *Resolver, caller *identity.User, org *orgs.Organisation) (verdict, error) {
	if org == nil {
		return verdictDeny, nil
	}
	member, err := r.ledger.IsMember(ctx, org.ID, caller.ID)
	if err != nil {
		return verdictPass, fmt.Errorf("failed to check membership: %w", err)
	}
	if member {
		return verdictAllow, nil
	}
	return verdictPass, nil
}

func isOrgAdmin(ctx context.Context, r *Resolver, caller *identity.User, org *orgs.Organisation) (verdict, error) {
	if org == nil {
		return verdictDeny, nil
	}
	isAdmin, err := r.ledger.IsOrgAdmin(ctx, org.ID, caller.ID)
	if err != nil {
		return verdictPass, fmt.Errorf("failed to check admin flag: %w", err)
	}
	if isAdmin {
		return verdictAllow, nil
	}
	return verdictPass, nil
}
