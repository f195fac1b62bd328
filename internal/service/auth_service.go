package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

const (
	minPasswordLength  = 8
	otpDigits          = 6
	maxOTPAttempts     = 5
	defaultOTPLifetime = 10 * time.Minute
)

// Notifier delivers one-time registration codes to users.
type Notifier interface {
	SendOTP(ctx context.Context, username, code string) error
}

// LogNotifier writes codes to the log. It stands in for a real delivery
// channel in development.
type LogNotifier struct {
	Logger zerolog.Logger
}

// SendOTP implements Notifier.
func (n LogNotifier) SendOTP(_ context.Context, username, code string) error {
	n.Logger.Info().Str("username", username).Str("code", code).Msg("verification code issued")
	return nil
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	OTPTTL          time.Duration
	BcryptCost      int
	DefaultMaxQuota int64
}

// AuthService handles registration, login and token rotation.
type AuthService struct {
	users    repository.UserRepository
	tokens   repository.RefreshTokenRepository
	tx       repository.TxManager
	cache    repository.Cache
	jwt      *TokenManager
	notifier Notifier
	logger   zerolog.Logger
	config   AuthConfig
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	tx repository.TxManager,
	cache repository.Cache,
	jwt *TokenManager,
	notifier Notifier,
	logger zerolog.Logger,
	config AuthConfig,
) *AuthService {
	if config.OTPTTL <= 0 {
		config.OTPTTL = defaultOTPLifetime
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:    users,
		tokens:   tokens,
		tx:       tx,
		cache:    cache,
		jwt:      jwt,
		notifier: notifier,
		logger:   logger.With().Str("service", "auth").Logger(),
		config:   config,
	}
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Register creates an unverified user and sends a verification code.
// Registering an existing but unverified username re-issues the code.
func (s *AuthService) Register(ctx context.Context, username, password string) (*domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, domain.ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	user := domain.NewUser(username, string(hash), s.config.DefaultMaxQuota)
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrUserAlreadyExists) {
			s.logger.Error().Err(err).Str("username", username).Msg("failed to create user")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		existing, getErr := s.users.GetByUsername(ctx, username)
		if getErr != nil || existing.IsVerified {
			return nil, err
		}
		existing.PasswordHash = string(hash)
		if err := s.users.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		user = existing
	}

	if err := s.issueOTP(ctx, username); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("user_id", user.ID).Str("username", username).Msg("user registered")
	return user, nil
}

// Verify checks the registration code and marks the user verified.
func (s *AuthService) Verify(ctx context.Context, username, code string) error {
	attempts, err := s.cache.Increment(ctx, repository.CacheKeys.OTPAttempts(username), 1, s.config.OTPTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if attempts > maxOTPAttempts {
		return ErrTooManyAttempts
	}

	saved, err := s.cache.Get(ctx, repository.CacheKeys.OTP(username))
	if err != nil {
		if errors.Is(err, repository.ErrCacheMiss) {
			return domain.ErrInvalidOTP
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if subtle.ConstantTimeCompare(saved, []byte(code)) != 1 {
		return domain.ErrInvalidOTP
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.users.SetVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	_ = s.cache.Delete(ctx, repository.CacheKeys.OTP(username))
	_ = s.cache.Delete(ctx, repository.CacheKeys.OTPAttempts(username))

	s.logger.Info().Int64("user_id", user.ID).Msg("user verified")
	return nil
}

// Login checks credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		s.logger.Debug().Str("username", username).Msg("user not found during authentication")
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug().Str("username", username).Msg("invalid password during authentication")
		return nil, domain.ErrInvalidCredentials
	}
	if !user.CanAuthenticate() {
		return nil, domain.ErrUserNotVerified
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("user_id", user.ID).Msg("user logged in")
	return pair, nil
}

// Refresh exchanges an unused refresh token for a new pair. Presenting a
// token that was already exchanged revokes every session of its user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, jti, err := s.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	var pair *TokenPair
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.tokens.GetUnused(ctx, jti, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.tokens.MarkUsed(ctx, jti); err != nil {
			return err
		}
		pair, err = s.issuePair(ctx, userID)
		return err
	})
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, domain.ErrTokenNotFound) {
		return nil, err
	}

	if stored, getErr := s.tokens.Get(ctx, jti); getErr == nil && stored.IsUsed {
		n, _ := s.tokens.DeleteAllForUser(ctx, stored.UserID)
		s.logger.Warn().
			Int64("user_id", stored.UserID).
			Str("jti", jti).
			Int64("revoked", n).
			Msg("refresh token reuse detected, sessions revoked")
	}
	return nil, domain.ErrTokenNotFound
}

// Logout revokes every refresh token of the user.
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	n, err := s.tokens.DeleteAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	s.logger.Info().Int64("user_id", userID).Int64("revoked", n).Msg("user logged out")
	return nil
}

// ParseAccessToken returns the user ID of a valid access token.
func (s *AuthService) ParseAccessToken(token string) (int64, error) {
	return s.jwt.ParseAccess(token)
}

func (s *AuthService) issuePair(ctx context.Context, userID int64) (*TokenPair, error) {
	record := domain.NewRefreshToken(userID, s.jwt.RefreshTTL())
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	access, accessExp, err := s.jwt.IssueAccess(userID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwt.IssueRefresh(userID, record.JTI, record.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *AuthService) issueOTP(ctx context.Context, username string) error {
	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if err := s.cache.Set(ctx, repository.CacheKeys.OTP(username), []byte(code), s.config.OTPTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	_ = s.cache.Delete(ctx, repository.CacheKeys.OTPAttempts(username))

	if s.notifier != nil {
		if err := s.notifier.SendOTP(ctx, username, code); err != nil {
			s.logger.Error().Err(err).Str("username", username).Msg("failed to send verification code")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
	}
	return nil
}

func generateOTP() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
