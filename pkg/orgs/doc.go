// Package orgs implements the organisation directory and the membership
// ledger.
//
// # Overview
//
// Organisations are created with their founder as the initial admin, in a
// single transaction so no organisation ever exists without one. The
// membership ledger records who belongs to which organisation and whether
// they hold the admin flag.
//
// # Invariants
//
// Every active organisation keeps at least one admin. Demoting or removing
// a member who currently holds the admin flag is rejected when they are the
// only one; demoting a member who is not an admin is a no-op and passes.
// The checks run inside a transaction that locks the organisation's admin
// rows, so two concurrent demotions cannot both slip through.
//
// # Related Packages
//
//   - pkg/authz: policy decisions over membership state
//   - pkg/api: the HTTP surface that drives mutations
package orgs
