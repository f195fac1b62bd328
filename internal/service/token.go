package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/prn-tf/sendme/internal/domain"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	tokenIssuer      = "sendme"
)

// Claims are the JWT claims of access and refresh tokens.
// Subject holds the user ID; refresh tokens carry their jti in ID.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// RefreshTTL returns the lifetime of refresh tokens.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// IssueAccess signs an access token for userID.
func (m *TokenManager) IssueAccess(userID int64) (string, time.Time, error) {
	expiresAt := m.now().Add(m.accessTTL)
	token, err := m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(m.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type: tokenTypeAccess,
	})
	return token, expiresAt, err
}

// IssueRefresh signs a refresh token bound to a persisted jti.
func (m *TokenManager) IssueRefresh(userID int64, jti string, expiresAt time.Time) (string, error) {
	return m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(m.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type: tokenTypeRefresh,
	})
}

// ParseAccess verifies an access token and returns its user ID.
func (m *TokenManager) ParseAccess(token string) (int64, error) {
	claims, err := m.parse(token, tokenTypeAccess)
	if err != nil {
		return 0, err
	}
	return subject(claims)
}

// ParseRefresh verifies a refresh token and returns its user ID and jti.
func (m *TokenManager) ParseRefresh(token string) (int64, string, error) {
	claims, err := m.parse(token, tokenTypeRefresh)
	if err != nil {
		return 0, "", err
	}
	if claims.ID == "" {
		return 0, "", domain.ErrTokenInvalid
	}
	userID, err := subject(claims)
	if err != nil {
		return 0, "", err
	}
	return userID, claims.ID, nil
}

func (m *TokenManager) sign(claims Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign token: %v", ErrInternalError, err)
	}
	return token, nil
}

func (m *TokenManager) parse(token, wantType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Type != wantType {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}

func subject(claims *Claims) (int64, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrTokenInvalid
	}
	return id, nil
}
