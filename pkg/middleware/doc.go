// Package middleware provides HTTP middleware for authentication and
// rate limiting.
//
// AuthMiddleware resolves the bearer token to an identity and stores it
// in the request context; handlers read it back through GetAuthContext.
// In optional mode anonymous requests pass through with no identity, so
// per-route policy stays with the authorization resolver rather than the
// transport.
//
// RateLimitMiddleware is Redis-backed so limits hold across instances.
// It fails open: a Redis outage degrades rate limiting, it never takes
// the API down with it.
package middleware
