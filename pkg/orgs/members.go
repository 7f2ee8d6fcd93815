package orgs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hexagonlabs/roster/pkg/apperrors"
)

const membershipSelectColumns = `
	SELECT m.id, m.organisation_id, m.user_id, m.is_org_admin, m.created_at, m.updated_at, u.username
	FROM memberships m
	JOIN users u ON u.id = m.user_id`

// AddMember records a new membership. Adding a user who is already a
// member is a conflict.
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID uuid.UUID, isAdmin bool) (*Membership, error) {
	membership := &Membership{
		ID:             uuid.New(),
		OrganisationID: orgID,
		UserID:         userID,
		IsOrgAdmin:     isAdmin,
	}

	err := s.withTx(ctx, "add_member", func(tx *sql.Tx) error {
		var orgActive bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_active FROM organisations WHERE id = $1`, orgID).Scan(&orgActive)
		if err == sql.ErrNoRows {
			return apperrors.NotFound("organisation not found")
		}
		if err != nil {
			return fmt.Errorf("failed to get organisation: %w", err)
		}
		if !orgActive {
			return apperrors.Conflict("organisation is inactive")
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM memberships WHERE organisation_id = $1 AND user_id = $2)`,
			orgID, userID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if exists {
			return apperrors.Conflict("user is already a member of this organisation")
		}

		query := `
			INSERT INTO memberships (id, organisation_id, user_id, is_org_admin)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at
		`
		if err := tx.QueryRowContext(ctx, query, membership.ID, orgID, userID, isAdmin).
			Scan(&membership.CreatedAt, &membership.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return apperrors.Conflict("user is already a member of this organisation")
			}
			return fmt.Errorf("failed to add member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return membership, nil
}

// SetAdminFlag grants or revokes the admin flag on a membership. Revoking
// is refused when the target is the organisation's only admin; revoking
// from a member who is not an admin passes untouched.
func (s *PostgresService) SetAdminFlag(ctx context.Context, orgID, userID uuid.UUID, isAdmin bool) (*Membership, error) {
	var membership *Membership

	err := s.withTx(ctx, "set_admin_flag", func(tx *sql.Tx) error {
		current, adminCount, err := lockMembership(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}

		if current.IsOrgAdmin && !isAdmin && adminCount <= 1 {
			return apperrors.InvariantViolation("organisation must retain at least one admin")
		}

		query := `
			UPDATE memberships SET is_org_admin = $1, updated_at = NOW()
			WHERE organisation_id = $2 AND user_id = $3
			RETURNING updated_at
		`
		if err := tx.QueryRowContext(ctx, query, isAdmin, orgID, userID).Scan(&current.UpdatedAt); err != nil {
			return fmt.Errorf("failed to update admin flag: %w", err)
		}
		current.IsOrgAdmin = isAdmin
		membership = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return membership, nil
}

// RemoveMember deletes a membership. Removing the organisation's only
// admin is refused; removing a non-admin never trips the guard.
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error {
	return s.withTx(ctx, "remove_member", func(tx *sql.Tx) error {
		current, adminCount, err := lockMembership(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}

		if current.IsOrgAdmin && adminCount <= 1 {
			return apperrors.InvariantViolation("organisation must retain at least one admin")
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memberships WHERE organisation_id = $1 AND user_id = $2`, orgID, userID); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		return nil
	})
}

// lockMembership loads the target membership and locks every admin row of
// the organisation, then counts them. The locks force concurrent
// demotions of the same organisation to serialize.
func lockMembership(ctx context.Context, tx *sql.Tx, orgID, userID uuid.UUID) (*Membership, int, error) {
	m := &Membership{OrganisationID: orgID, UserID: userID}
	query := `
		SELECT id, is_org_admin, created_at, updated_at
		FROM memberships
		WHERE organisation_id = $1 AND user_id = $2
		FOR UPDATE
	`
	err := tx.QueryRowContext(ctx, query, orgID, userID).
		Scan(&m.ID, &m.IsOrgAdmin, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, 0, apperrors.NotFound("membership not found")
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get membership: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM memberships
		WHERE organisation_id = $1 AND is_org_admin = TRUE
		FOR UPDATE
	`, orgID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to lock admin rows: %w", err)
	}
	defer rows.Close()

	adminCount := 0
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("failed to scan admin row: %w", err)
		}
		adminCount++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return m, adminCount, nil
}

// GetMembership retrieves one membership with its username joined in
func (s *PostgresService) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	query := membershipSelectColumns + ` WHERE m.organisation_id = $1 AND m.user_id = $2`
	row := s.db.QueryRowContext(ctx, query, orgID, userID)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("membership not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMembers lists the memberships of an organisation, oldest first
func (s *PostgresService) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Membership, error) {
	query := membershipSelectColumns + `
		WHERE m.organisation_id = $1
		ORDER BY m.created_at ASC`
	return s.listMemberships(ctx, query, orgID)
}

// ListUserMemberships lists a user's memberships across organisations
func (s *PostgresService) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	query := membershipSelectColumns + `
		WHERE m.user_id = $1
		ORDER BY m.created_at ASC`
	return s.listMemberships(ctx, query, userID)
}

func (s *PostgresService) listMemberships(ctx context.Context, query string, arg interface{}) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var result []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		result = append(result, m)
	}

	return result, rows.Err()
}

// IsOrgAdmin reports whether the user holds the admin flag in the
// organisation. Unknown memberships report false, not an error.
func (s *PostgresService) IsOrgAdmin(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	var isAdmin bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_org_admin FROM memberships
		WHERE organisation_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&isAdmin)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check admin flag: %w", err)
	}
	return isAdmin, nil
}

// IsMember reports whether the user belongs to the organisation
func (s *PostgresService) IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memberships WHERE organisation_id = $1 AND user_id = $2)`,
		orgID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// CountAdmins counts the organisation's admin memberships
func (s *PostgresService) CountAdmins(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE organisation_id = $1 AND is_org_admin = TRUE`,
		orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return count, nil
}

func scanMembership(scanner interface {
	Scan(dest ...interface{}) error
}) (*Membership, error) {
	m := &Membership{}
	err := scanner.Scan(
		&m.ID, &m.OrganisationID, &m.UserID, &m.IsOrgAdmin, &m.CreatedAt, &m.UpdatedAt, &m.Username,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
