// Package identity implements the identity store: user records, credential
// verification, and opaque bearer tokens. Membership and organisation state
// live in pkg/orgs; this package only answers "who is calling".
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User represents a registered account
type User struct {
	ID           uuid.UUID `json:"id"`
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
	UpdatedAt    time.Time `json:"updated_at"`
}

// APIToken represents a stored bearer token. Only the SHA-256 hash is kept;
// the plaintext is returned once at issuance and never again.
type APIToken struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AuthContext holds the authenticated caller for a request
type AuthContext struct {
	User  *User
	Token *APIToken
}

// RegisterRequest carries a new account registration
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfileRequest carries a self-service profile edit. Nil fields are
// left untouched; this path is deliberately restricted to the allow-listed
// fields below and never touches membership or role state.
type UpdateProfileRequest struct {
	FirstName    *string `json:"first_name,omitempty"`
	LastName     *string `json:"last_name,omitempty"`
	PhoneNumber  *string `json:"phone_number,omitempty"`
	ProfileImage *string `json:"profile_image,omitempty"`
}

// Service defines the identity store contract
type Service interface {
	// Register creates an account and issues an initial bearer token
	Register(ctx context.Context, req RegisterRequest) (*User, string, error)

	// Authenticate validates credentials and issues a bearer token
	Authenticate(ctx context.Context, username, password string) (*User, string, error)

	// VerifyToken resolves a bearer token to its user
	VerifyToken(ctx context.Context, token string) (*AuthContext, error)

	// RevokeToken revokes a token by its plaintext value
	RevokeToken(ctx context.Context, token string) error

	// RevokeTokenByHash revokes an already-verified token by its stored hash
	RevokeTokenByHash(ctx context.Context, tokenHash string) error

	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// UpdateProfile applies a self-service profile edit
	UpdateProfile(ctx context.Context, userID uuid.UUID, req UpdateProfileRequest) (*User, error)

	// PurgeExpiredTokens deletes expired and revoked tokens, returning the count
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}
