// Package api exposes the service over HTTP+JSON.
//
// # Overview
//
// Handlers stay thin: they parse the request and hand off to the
// Gateway, which runs every operation through the same sequence:
// reject anonymous callers, resolve opaque references, consult the
// authorization resolver, then run the business operation. Error kinds
// map onto status codes in one place (pkg/httputil.WriteAppError), so a
// denial, a missing record, and a broken invariant are always
// distinguishable on the wire.
//
// # Routes
//
// Authentication and self-service:
//
//	POST   /auth/register
//	POST   /auth/login
//	POST   /auth/logout
//	GET    /me
//	PATCH  /me
//	PUT    /me/avatar
//	GET    /me/orgs
//	GET    /me/memberships
//	GET    /users
//	GET    /users/{username}
//
// Organisations and memberships:
//
//	POST   /orgs
//	GET    /orgs/{ref}
//	GET    /orgs/slug/{slug}
//	PATCH  /orgs/{ref}
//	GET    /orgs/{ref}/memberships
//	POST   /orgs/{ref}/members
//	PUT    /orgs/{ref}/members/{username}
//	DELETE /orgs/{ref}/members/{username}
//
// Organisations are addressed by opaque typed references, members by
// username.
//
// # Related Packages
//
//   - pkg/authz: the policy table behind every decision
//   - pkg/orgs: the ledger and directory the gateway mutates
package api
