package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sendme/internal/domain"
)

func registerAndVerify(t *testing.T, env *testEnv, username string) *domain.User {
	t.Helper()
	ctx := context.Background()
	user, err := env.auth.Register(ctx, username, "password123")
	require.NoError(t, err)
	require.NoError(t, env.auth.Verify(ctx, username, env.notifier.code(username)))
	return user
}

func TestAuthService_RegisterVerifyLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.auth.Register(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
	assert.Equal(t, domain.DefaultMaxQuotaBytes, user.MaxQuotaBytes)

	_, err = env.auth.Login(ctx, "alice", "password123")
	assert.ErrorIs(t, err, domain.ErrUserNotVerified)

	code := env.notifier.code("alice")
	require.Len(t, code, otpDigits)
	require.NoError(t, env.auth.Verify(ctx, "alice", code))

	pair, err := env.auth.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)

	userID, err := env.auth.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = env.auth.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = env.auth.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthService_Register_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Register(ctx, "al", "password123")
	assert.ErrorIs(t, err, domain.ErrUsernameLength)
	_, err = env.auth.Register(ctx, "bad name!", "password123")
	assert.ErrorIs(t, err, domain.ErrUsernameFormat)
	_, err = env.auth.Register(ctx, "alice", "short")
	assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
}

func TestAuthService_Register_Existing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.auth.Register(ctx, "alice", "password123")
	require.NoError(t, err)

	again, err := env.auth.Register(ctx, "alice", "newpassword1")
	require.NoError(t, err, "unverified users may register again")
	assert.Equal(t, first.ID, again.ID)
	assert.NotEmpty(t, env.notifier.code("alice"))

	require.NoError(t, env.auth.Verify(ctx, "alice", env.notifier.code("alice")))
	_, err = env.auth.Login(ctx, "alice", "newpassword1")
	require.NoError(t, err)

	_, err = env.auth.Register(ctx, "alice", "password123")
	assert.ErrorIs(t, err, domain.ErrUserAlreadyExists)
}

func TestAuthService_Verify_Attempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Register(ctx, "alice", "password123")
	require.NoError(t, err)

	for i := 0; i < maxOTPAttempts; i++ {
		assert.ErrorIs(t, env.auth.Verify(ctx, "alice", "not-a-code"), domain.ErrInvalidOTP)
	}
	assert.ErrorIs(t, env.auth.Verify(ctx, "alice", env.notifier.code("alice")), ErrTooManyAttempts)

	assert.ErrorIs(t, env.auth.Verify(ctx, "nobody", "123456"), domain.ErrInvalidOTP)
}

func TestAuthService_RefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerAndVerify(t, env, "alice")

	pair, err := env.auth.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	rotated, err := env.auth.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	t.Run("reusing an exchanged token revokes every session", func(t *testing.T) {
		_, err := env.auth.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)

		_, err = env.auth.Refresh(ctx, rotated.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	})

	t.Run("access tokens are not refresh tokens", func(t *testing.T) {
		_, err := env.auth.Refresh(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	})
}

func TestAuthService_Logout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := registerAndVerify(t, env, "alice")

	pair, err := env.auth.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, user.ID))
	_, err = env.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestTokenManager(t *testing.T) {
	m := NewTokenManager("test-secret-test-secret-test-secret", time.Minute, time.Hour)

	access, exp, err := m.IssueAccess(7)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, time.Second)

	id, err := m.ParseAccess(access)
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)

	refresh, err := m.IssueRefresh(7, "jti-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	id, jti, err := m.ParseRefresh(refresh)
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)
	assert.Equal(t, "jti-1", jti)

	_, err = m.ParseAccess(refresh)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	other := NewTokenManager("another-secret-another-secret-1234", time.Minute, time.Hour)
	_, err = other.ParseAccess(access)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.ParseAccess(access)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}
