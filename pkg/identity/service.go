package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"

	"github.com/hexagonlabs/roster/pkg/apperrors"
	"github.com/hexagonlabs/roster/pkg/observability"
	"github.com/hexagonlabs/roster/pkg/validation"
)

const (
	defaultTokenTTL  = 30 * 24 * time.Hour
	defaultCacheSize = 1024
	defaultCacheTTL  = time.Minute
	bcryptCost       = bcrypt.DefaultCost
)

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db       *sql.DB
	tokens   *TokenGenerator
	validate *validation.Validator
	tokenTTL time.Duration

	// Verified-token cache. Revocations and flag changes may take up to
	// the cache TTL to propagate to in-flight callers.
	cache   *lru.LRU[string, *AuthContext]
	metrics *observability.Metrics
}

// NewPostgresService creates a new identity service
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{
		db:       db,
		tokens:   NewTokenGenerator(),
		validate: validation.NewValidator(nil),
		tokenTTL: defaultTokenTTL,
		cache:    lru.NewLRU[string, *AuthContext](defaultCacheSize, nil, defaultCacheTTL),
	}
}

// AttachMetrics enables cache hit/miss counters
func (s *PostgresService) AttachMetrics(m *observability.Metrics) {
	s.metrics = m
}

// SetTokenTTL overrides the lifetime of newly issued tokens
func (s *PostgresService) SetTokenTTL(ttl time.Duration) {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
}

// Register creates an account and issues an initial bearer token
func (s *PostgresService) Register(ctx context.Context, req RegisterRequest) (*User, string, error) {
	if err := s.validate.Username(req.Username); err != nil {
		return nil, "", err
	}
	if err := s.validate.Email(req.Email); err != nil {
		return nil, "", err
	}
	if err := s.validate.Password(req.Password); err != nil {
		return nil, "", err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, req.Username).Scan(&exists); err != nil {
		return nil, "", fmt.Errorf("failed to check username: %w", err)
	}
	if exists {
		return nil, "", apperrors.Conflict("username already exists")
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, req.Email).Scan(&exists); err != nil {
		return nil, "", fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, "", apperrors.Conflict("email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:       uuid.New(),
		Username: req.Username,
		Email:    req.Email,
		IsActive: true,
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, is_superuser, is_staff, is_active)
		VALUES ($1, $2, $3, $4, FALSE, FALSE, TRUE)
		RETURNING created_at, updated_at
	`
	if err := s.db.QueryRowContext(ctx, query, user.ID, user.Username, user.Email, string(hash)).
		Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, "", apperrors.Wrap(apperrors.KindConflict, "username or email already exists", err)
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// Authenticate validates credentials and issues a bearer token
func (s *PostgresService) Authenticate(ctx context.Context, username, password string) (*User, string, error) {
	user, passwordHash, err := s.getByUsernameWithHash(ctx, username)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			// Same denial as a wrong password so usernames cannot be probed
			return nil, "", apperrors.Unauthenticated("invalid credentials")
		}
		return nil, "", err
	}

	if !user.IsActive {
		return nil, "", apperrors.Unauthenticated("account is disabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, "", apperrors.Unauthenticated("invalid credentials")
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// VerifyToken resolves a bearer token to its user
func (s *PostgresService) VerifyToken(ctx context.Context, token string) (*AuthContext, error) {
	if err := s.tokens.ValidateFormat(token); err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnauthenticated, "invalid token format", err)
	}

	tokenHash := s.tokens.Hash(token)

	if cached, ok := s.cache.Get(tokenHash); ok {
		// Expiry is absolute; a cached entry must not outlive its token
		if cached.Token.ExpiresAt != nil && time.Now().After(*cached.Token.ExpiresAt) {
			s.cache.Remove(tokenHash)
			return nil, apperrors.Unauthenticated("token has expired")
		}
		if s.metrics != nil {
			s.metrics.TokenCacheHitsTotal.Inc()
		}
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.TokenCacheMissesTotal.Inc()
	}

	query := `
		SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.phone_number,
		       u.profile_image, u.is_superuser, u.is_staff, u.is_active, u.created_at, u.updated_at,
		       t.id, t.token_prefix, t.expires_at, t.revoked_at, t.created_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`
	user := &User{}
	apiToken := &APIToken{TokenHash: tokenHash}
	var firstName, lastName, phoneNumber, profileImage sql.NullString
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&user.ID, &user.Username, &user.Email, &firstName, &lastName, &phoneNumber,
		&profileImage, &user.IsSuperuser, &user.IsStaff, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
		&apiToken.ID, &apiToken.TokenPrefix, &apiToken.ExpiresAt, &apiToken.RevokedAt, &apiToken.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.Unauthenticated("invalid or unknown token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	applyNullStrings(user, firstName, lastName, phoneNumber, profileImage)
	apiToken.UserID = user.ID

	if apiToken.RevokedAt != nil {
		return nil, apperrors.Unauthenticated("token has been revoked")
	}
	if apiToken.ExpiresAt != nil && time.Now().After(*apiToken.ExpiresAt) {
		return nil, apperrors.Unauthenticated("token has expired")
	}
	if !user.IsActive {
		return nil, apperrors.Unauthenticated("account is disabled")
	}

	// Best effort; a failed touch never blocks the request
	_, _ = s.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, apiToken.ID)

	authCtx := &AuthContext{User: user, Token: apiToken}
	s.cache.Add(tokenHash, authCtx)

	return authCtx, nil
}

// RevokeToken revokes a token by its plaintext value
func (s *PostgresService) RevokeToken(ctx context.Context, token string) error {
	if err := s.tokens.ValidateFormat(token); err != nil {
		return apperrors.Wrap(apperrors.KindUnauthenticated, "invalid token format", err)
	}
	return s.RevokeTokenByHash(ctx, s.tokens.Hash(token))
}

// RevokeTokenByHash revokes an already-verified token by its stored hash
func (s *PostgresService) RevokeTokenByHash(ctx context.Context, tokenHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NotFound("token not found or already revoked")
	}

	s.cache.Remove(tokenHash)
	return nil
}

// GetByID retrieves a user by internal key
func (s *PostgresService) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetByUsername retrieves a user by username
func (s *PostgresService) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

// ListUsers lists all users ordered by registration time
func (s *PostgresService) ListUsers(ctx context.Context) ([]*User, error) {
	query := userSelectColumns + ` FROM users ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// UpdateProfile applies a self-service profile edit. Only the allow-listed
// fields can be touched through this path.
func (s *PostgresService) UpdateProfile(ctx context.Context, userID uuid.UUID, req UpdateProfileRequest) (*User, error) {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if req.FirstName != nil {
		setClauses = append(setClauses, fmt.Sprintf("first_name = $%d", argPos))
		args = append(args, *req.FirstName)
		argPos++
	}
	if req.LastName != nil {
		setClauses = append(setClauses, fmt.Sprintf("last_name = $%d", argPos))
		args = append(args, *req.LastName)
		argPos++
	}
	if req.PhoneNumber != nil {
		if err := s.validate.PhoneNumber(*req.PhoneNumber); err != nil {
			return nil, err
		}

		var taken bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE phone_number = $1 AND id <> $2)`,
			*req.PhoneNumber, userID).Scan(&taken); err != nil {
			return nil, fmt.Errorf("failed to check phone number: %w", err)
		}
		if taken {
			return nil, apperrors.Conflict("phone number already registered to another user")
		}

		setClauses = append(setClauses, fmt.Sprintf("phone_number = $%d", argPos))
		args = append(args, *req.PhoneNumber)
		argPos++
	}
	if req.ProfileImage != nil {
		setClauses = append(setClauses, fmt.Sprintf("profile_image = $%d", argPos))
		args = append(args, *req.ProfileImage)
		argPos++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, userID)
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apperrors.NotFound("user not found")
	}

	return s.GetByID(ctx, userID)
}

// PurgeExpiredTokens deletes expired and revoked tokens
func (s *PostgresService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE (expires_at IS NOT NULL AND expires_at < NOW()) OR revoked_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	return result.RowsAffected()
}

// issueToken mints and stores a bearer token for a user
func (s *PostgresService) issueToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, tokenHash, tokenPrefix, err := s.tokens.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	expiresAt := time.Now().Add(s.tokenTTL)
	query := `
		INSERT INTO api_tokens (id, user_id, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, uuid.New(), userID, tokenHash, tokenPrefix, expiresAt); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	return token, nil
}

const userSelectColumns = `
	SELECT id, username, email, first_name, last_name, phone_number,
	       profile_image, is_superuser, is_staff, is_active, created_at, updated_at`

func (s *PostgresService) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	row := s.db.QueryRowContext(ctx, userSelectColumns+` FROM users `+where, arg)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *PostgresService) getByUsernameWithHash(ctx context.Context, username string) (*User, string, error) {
	query := `
		SELECT id, username, email, first_name, last_name, phone_number,
		       profile_image, is_superuser, is_staff, is_active, created_at, updated_at, password_hash
		FROM users
		WHERE username = $1
	`
	user := &User{}
	var firstName, lastName, phoneNumber, profileImage sql.NullString
	var passwordHash string
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.Email, &firstName, &lastName, &phoneNumber,
		&profileImage, &user.IsSuperuser, &user.IsStaff, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt, &passwordHash,
	)
	if err == sql.ErrNoRows {
		return nil, "", apperrors.NotFound("user not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}
	applyNullStrings(user, firstName, lastName, phoneNumber, profileImage)
	return user, passwordHash, nil
}

func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*User, error) {
	user := &User{}
	var firstName, lastName, phoneNumber, profileImage sql.NullString
	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &firstName, &lastName, &phoneNumber,
		&profileImage, &user.IsSuperuser, &user.IsStaff, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	applyNullStrings(user, firstName, lastName, phoneNumber, profileImage)
	return user, nil
}

func applyNullStrings(user *User, firstName, lastName, phoneNumber, profileImage sql.NullString) {
	if firstName.Valid {
		user.FirstName = firstName.String
	}
	if lastName.Valid {
		user.LastName = lastName.String
	}
	if phoneNumber.Valid {
		user.PhoneNumber = phoneNumber.String
	}
	if profileImage.Valid {
		user.ProfileImage = profileImage.String
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
