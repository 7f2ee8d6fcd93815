package identity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hexagonlabs/roster/pkg/apperrors"
)

// Test helper to create a new mock service
func newMockService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	service := NewPostgresService(db)
	return service, mock, db
}

var userColumns = []string{
	"id", "username", "email", "first_name", "last_name", "phone_number",
	"profile_image", "is_superuser", "is_staff", "is_active", "created_at", "updated_at",
}

func userRow(id uuid.UUID, username string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns).
		AddRow(id, username, username+"@example.com", nil, nil, nil, nil, false, false, true, now, now)
}

func TestRegister(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("success issues a token", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE username = \$1\)`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE email = \$1\)`).
			WithArgs("alice@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`INSERT INTO api_tokens`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		user, token, err := service.Register(ctx, RegisterRequest{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "sup3rsecret",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.True(t, user.IsActive)
		assert.NotEqual(t, uuid.Nil, user.ID)
		assert.True(t, len(token) > len(TokenPrefix))
		assert.Contains(t, token, TokenPrefix)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate username", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE username = \$1\)`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, _, err := service.Register(ctx, RegisterRequest{
			Username: "alice",
			Email:    "other@example.com",
			Password: "sup3rsecret",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
		assert.Contains(t, err.Error(), "username already exists")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE username = \$1\)`).
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE email = \$1\)`).
			WithArgs("alice@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, _, err := service.Register(ctx, RegisterRequest{
			Username: "bob",
			Email:    "alice@example.com",
			Password: "sup3rsecret",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
		assert.Contains(t, err.Error(), "email already exists")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects weak password before touching the database", func(t *testing.T) {
		_, _, err := service.Register(ctx, RegisterRequest{
			Username: "carol",
			Email:    "carol@example.com",
			Password: "short",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthenticate(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()

	userID := uuid.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("sup3rsecret"), bcrypt.MinCost)
	require.NoError(t, err)

	userWithHashColumns := append(append([]string{}, userColumns...), "password_hash")

	t.Run("success", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(userWithHashColumns).
			AddRow(userID, "alice", "alice@example.com", nil, nil, nil, nil, false, false, true, now, now, string(hash))
		mock.ExpectQuery(`FROM users\s+WHERE username = \$1`).
			WithArgs("alice").
			WillReturnRows(rows)
		mock.ExpectExec(`INSERT INTO api_tokens`).
			WithArgs(sqlmock.AnyArg(), userID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		user, token, err := service.Authenticate(ctx, "alice", "sup3rsecret")
		require.NoError(t, err)
		assert.Equal(t, userID, user.ID)
		assert.NotEmpty(t, token)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(userWithHashColumns).
			AddRow(userID, "alice", "alice@example.com", nil, nil, nil, nil, false, false, true, now, now, string(hash))
		mock.ExpectQuery(`FROM users\s+WHERE username = \$1`).
			WithArgs("alice").
			WillReturnRows(rows)

		_, _, err := service.Authenticate(ctx, "alice", "wrong")
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user gets the same denial", func(t *testing.T) {
		mock.ExpectQuery(`FROM users\s+WHERE username = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, _, err := service.Authenticate(ctx, "ghost", "whatever")
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))
		assert.Contains(t, err.Error(), "invalid credentials")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disabled account", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(userWithHashColumns).
			AddRow(userID, "alice", "alice@example.com", nil, nil, nil, nil, false, false, false, now, now, string(hash))
		mock.ExpectQuery(`FROM users\s+WHERE username = \$1`).
			WithArgs("alice").
			WillReturnRows(rows)

		_, _, err := service.Authenticate(ctx, "alice", "sup3rsecret")
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))
		assert.Contains(t, err.Error(), "disabled")

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

var tokenJoinColumns = []string{
	"id", "username", "email", "first_name", "last_name", "phone_number",
	"profile_image", "is_superuser", "is_staff", "is_active", "created_at", "updated_at",
	"token_id", "token_prefix", "expires_at", "revoked_at", "token_created_at",
}

func TestVerifyToken(t *testing.T) {
	ctx := context.Background()

	mintToken := func(t *testing.T, service *PostgresService) (token, tokenHash string) {
		token, tokenHash, _, err := service.tokens.Generate()
		require.NoError(t, err)
		return token, tokenHash
	}

	t.Run("success and cache hit", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		token, tokenHash := mintToken(t, service)
		userID := uuid.New()
		tokenID := uuid.New()
		now := time.Now()
		expires := now.Add(time.Hour)

		rows := sqlmock.NewRows(tokenJoinColumns).
			AddRow(userID, "alice", "alice@example.com", "Alice", nil, nil, nil, false, false, true, now, now,
				tokenID, token[:len(TokenPrefix)+8], expires, nil, now)
		mock.ExpectQuery(`FROM api_tokens t\s+JOIN users u ON u.id = t.user_id`).
			WithArgs(tokenHash).
			WillReturnRows(rows)
		mock.ExpectExec(`UPDATE api_tokens SET last_used_at = NOW\(\)`).
			WithArgs(tokenID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		authCtx, err := service.VerifyToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, userID, authCtx.User.ID)
		assert.Equal(t, "Alice", authCtx.User.FirstName)
		assert.Equal(t, tokenID, authCtx.Token.ID)

		// Second call must be served from the cache, no further queries
		authCtx2, err := service.VerifyToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, authCtx.User.ID, authCtx2.User.ID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cached entry does not outlive the token", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		token, tokenHash := mintToken(t, service)
		userID := uuid.New()
		tokenID := uuid.New()
		now := time.Now()
		expires := now.Add(30 * time.Millisecond)

		rows := sqlmock.NewRows(tokenJoinColumns).
			AddRow(userID, "alice", "alice@example.com", nil, nil, nil, nil, false, false, true, now, now,
				tokenID, token[:len(TokenPrefix)+8], expires, nil, now)
		mock.ExpectQuery(`FROM api_tokens t\s+JOIN users u ON u.id = t.user_id`).
			WithArgs(tokenHash).
			WillReturnRows(rows)
		mock.ExpectExec(`UPDATE api_tokens SET last_used_at = NOW\(\)`).
			WithArgs(tokenID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := service.VerifyToken(ctx, token)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)

		// The entry is still cached, but the token has expired; no DB
		// query is expected and the hit must be rejected
		_, err = service.VerifyToken(ctx, token)
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))
		assert.Contains(t, err.Error(), "expired")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		token, tokenHash := mintToken(t, service)
		mock.ExpectQuery(`FROM api_tokens t\s+JOIN users u ON u.id = t.user_id`).
			WithArgs(tokenHash).
			WillReturnError(sql.ErrNoRows)

		_, err := service.VerifyToken(ctx, token)
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoked token", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		token, tokenHash := mintToken(t, service)
		now := time.Now()
		revoked := now.Add(-time.Minute)

		rows := sqlmock.NewRows(tokenJoinColumns).
			AddRow(uuid.New(), "alice", "alice@example.com", nil, nil, nil, nil, false, false, true, now, now,
				uuid.New(), token[:len(TokenPrefix)+8], nil, revoked, now)
		mock.ExpectQuery(`FROM api_tokens t\s+JOIN users u ON u.id = t.user_id`).
			WithArgs(tokenHash).
			WillReturnRows(rows)

		_, err := service.VerifyToken(ctx, token)
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))
		assert.Contains(t, err.Error(), "revoked")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired token", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		token, tokenHash := mintToken(t, service)
		now := time.Now()
		expired := now.Add(-time.Hour)

		rows := sqlmock.NewRows(tokenJoinColumns).
			AddRow(uuid.New(), "alice", "alice@example.com", nil, nil, nil, nil, false, false, true, now, now,
				uuid.New(), token[:len(TokenPrefix)+8], expired, nil, now)
		mock.ExpectQuery(`FROM api_tokens t\s+JOIN users u ON u.id = t.user_id`).
			WithArgs(tokenHash).
			WillReturnRows(rows)

		_, err := service.VerifyToken(ctx, token)
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))
		assert.Contains(t, err.Error(), "expired")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed token skips the database", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		_, err := service.VerifyToken(ctx, "Bearer whatever")
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRevokeToken(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()

	token, tokenHash, _, err := service.tokens.Generate()
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE api_tokens SET revoked_at = NOW\(\)`).
			WithArgs(tokenHash).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, service.RevokeToken(ctx, token))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already revoked", func(t *testing.T) {
		mock.ExpectExec(`UPDATE api_tokens SET revoked_at = NOW\(\)`).
			WithArgs(tokenHash).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.RevokeToken(ctx, token)
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateProfile(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()
	userID := uuid.New()

	strPtr := func(s string) *string { return &s }

	t.Run("updates allowed fields", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET first_name = \$1, last_name = \$2, updated_at = NOW\(\) WHERE id = \$3`).
			WithArgs("Alice", "Smith", userID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(userRow(userID, "alice"))

		user, err := service.UpdateProfile(ctx, userID, UpdateProfileRequest{
			FirstName: strPtr("Alice"),
			LastName:  strPtr("Smith"),
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("phone number taken by another user", func(t *testing.T) {
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE phone_number = \$1 AND id <> \$2\)`).
			WithArgs("+15551234567", userID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := service.UpdateProfile(ctx, userID, UpdateProfileRequest{
			PhoneNumber: strPtr("+15551234567"),
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty update returns the current record", func(t *testing.T) {
		mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).
			WithArgs(userID).
			WillReturnRows(userRow(userID, "alice"))

		user, err := service.UpdateProfile(ctx, userID, UpdateProfileRequest{})
		require.NoError(t, err)
		assert.Equal(t, userID, user.ID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET first_name = \$1, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs("Alice", userID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := service.UpdateProfile(ctx, userID, UpdateProfileRequest{FirstName: strPtr("Alice")})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPurgeExpiredTokens(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM api_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := service.PurgeExpiredTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.NoError(t, mock.ExpectationsWereMet())
}
