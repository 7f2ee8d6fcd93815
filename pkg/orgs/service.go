package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hexagonlabs/roster/pkg/apperrors"
	"github.com/hexagonlabs/roster/pkg/observability"
	"github.com/hexagonlabs/roster/pkg/validation"
)

// maxTxRetries bounds retries on serialization failures and deadlocks
const maxTxRetries = 3

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db       *sql.DB
	validate *validation.Validator
	metrics  *observability.Metrics
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{
		db:       db,
		validate: validation.NewValidator(nil),
	}
}

// AttachMetrics enables transaction retry counters
func (s *PostgresService) AttachMetrics(m *observability.Metrics) {
	s.metrics = m
}

const orgSelectColumns = `
	SELECT o.id, o.name, o.slug, o.is_active, o.is_public, o.created_by,
	       (SELECT COUNT(*) FROM memberships m WHERE m.organisation_id = o.id) AS member_count,
	       o.created_at, o.updated_at`

// Create inserts an organisation together with its founding admin
// membership. Both rows land in one transaction so the organisation is
// never visible without an admin.
func (s *PostgresService) Create(ctx context.Context, req CreateOrgRequest, creatorID uuid.UUID) (*Organisation, error) {
	if err := s.validate.OrgName(req.Name); err != nil {
		return nil, err
	}
	if req.Slug == "" {
		req.Slug = generateSlug(req.Name)
	}
	if err := s.validate.Slug(req.Slug); err != nil {
		return nil, err
	}

	org := &Organisation{
		ID:          uuid.New(),
		Name:        req.Name,
		Slug:        req.Slug,
		IsActive:    true,
		IsPublic:    req.IsPublic,
		CreatedBy:   &creatorID,
		MemberCount: 1,
	}

	err := s.withTx(ctx, "create_organisation", func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM organisations WHERE name = $1)`, org.Name).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check name: %w", err)
		}
		if exists {
			return apperrors.Conflict("organisation with this name already exists")
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM organisations WHERE slug = $1)`, org.Slug).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check slug: %w", err)
		}
		if exists {
			return apperrors.Conflict("organisation with this slug already exists")
		}

		query := `
			INSERT INTO organisations (id, name, slug, is_active, is_public, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at, updated_at
		`
		if err := tx.QueryRowContext(ctx, query, org.ID, org.Name, org.Slug, org.IsActive, org.IsPublic, creatorID).
			Scan(&org.CreatedAt, &org.UpdatedAt); err != nil {
			if conflict := uniqueConflict(err); conflict != nil {
				return conflict
			}
			return fmt.Errorf("failed to create organisation: %w", err)
		}

		memberQuery := `
			INSERT INTO memberships (id, organisation_id, user_id, is_org_admin)
			VALUES ($1, $2, $3, TRUE)
		`
		if _, err := tx.ExecContext(ctx, memberQuery, uuid.New(), org.ID, creatorID); err != nil {
			return fmt.Errorf("failed to create founding membership: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return org, nil
}

// GetByID retrieves an organisation by internal key
func (s *PostgresService) GetByID(ctx context.Context, id uuid.UUID) (*Organisation, error) {
	return s.getOrg(ctx, `WHERE o.id = $1`, id)
}

// GetBySlug retrieves an organisation by slug
func (s *PostgresService) GetBySlug(ctx context.Context, slug string) (*Organisation, error) {
	return s.getOrg(ctx, `WHERE o.slug = $1`, slug)
}

// Update applies a partial edit. A slug change is rejected when another
// organisation already holds the new slug.
func (s *PostgresService) Update(ctx context.Context, id uuid.UUID, req UpdateOrgRequest) (*Organisation, error) {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if req.Name != nil {
		if err := s.validate.OrgName(*req.Name); err != nil {
			return nil, err
		}

		var taken bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM organisations WHERE name = $1 AND id <> $2)`,
			*req.Name, id).Scan(&taken); err != nil {
			return nil, fmt.Errorf("failed to check name: %w", err)
		}
		if taken {
			return nil, apperrors.Conflict("organisation with this name already exists")
		}

		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *req.Name)
		argPos++
	}
	if req.Slug != nil {
		if err := s.validate.Slug(*req.Slug); err != nil {
			return nil, err
		}

		var taken bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM organisations WHERE slug = $1 AND id <> $2)`,
			*req.Slug, id).Scan(&taken); err != nil {
			return nil, fmt.Errorf("failed to check slug: %w", err)
		}
		if taken {
			return nil, apperrors.Conflict("organisation with this slug already exists")
		}

		setClauses = append(setClauses, fmt.Sprintf("slug = $%d", argPos))
		args = append(args, *req.Slug)
		argPos++
	}
	if req.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *req.IsActive)
		argPos++
	}
	if req.IsPublic != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_public = $%d", argPos))
		args = append(args, *req.IsPublic)
		argPos++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE organisations SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("failed to update organisation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apperrors.NotFound("organisation not found")
	}

	return s.GetByID(ctx, id)
}

// ListForUser lists the organisations a user belongs to, newest first
func (s *PostgresService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Organisation, error) {
	query := orgSelectColumns + `
		FROM organisations o
		JOIN memberships m ON m.organisation_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organisations: %w", err)
	}
	defer rows.Close()

	var result []*Organisation
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organisation: %w", err)
		}
		result = append(result, org)
	}

	return result, rows.Err()
}

func (s *PostgresService) getOrg(ctx context.Context, where string, arg interface{}) (*Organisation, error) {
	row := s.db.QueryRowContext(ctx, orgSelectColumns+` FROM organisations o `+where, arg)
	org, err := scanOrg(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("organisation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organisation: %w", err)
	}
	return org, nil
}

func scanOrg(scanner interface {
	Scan(dest ...interface{}) error
}) (*Organisation, error) {
	org := &Organisation{}
	err := scanner.Scan(
		&org.ID, &org.Name, &org.Slug, &org.IsActive, &org.IsPublic, &org.CreatedBy,
		&org.MemberCount, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// withTx runs fn in a transaction, retrying on serialization failures
// and deadlocks. Retries exhausted surface as a conflict.
func (s *PostgresService) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.TxRetriesTotal.WithLabelValues(operation).Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			}
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return apperrors.Wrap(apperrors.KindConflict, "transaction kept conflicting, try again", lastErr)
}

func (s *PostgresService) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// uniqueConflict maps a unique violation on the organisations table to the
// field the caller collided on. Concurrent creates can slip past the
// app-level existence checks, so the constraint name decides the reason.
func uniqueConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "name") {
			return apperrors.Conflict("organisation with this name already exists")
		}
		return apperrors.Conflict("organisation with this slug already exists")
	}
	return nil
}

// generateSlug derives a slug from an organisation name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}
