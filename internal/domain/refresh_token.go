package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is a single-use session record identified by the JWT "jti" claim.
type RefreshToken struct {
	// JTI is the token identifier (UUID) embedded in the signed token.
	JTI string `json:"jti"`

	// UserID is the session owner.
	UserID int64 `json:"user_id"`

	// ExpiresAt is when the token stops being exchangeable.
	ExpiresAt time.Time `json:"expires_at"`

	// IsUsed is set once the token has been exchanged for a new pair.
	IsUsed bool `json:"is_used"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRefreshToken creates an unused token valid for ttl.
func NewRefreshToken(userID int64, ttl time.Duration) *RefreshToken {
	now := time.Now().UTC()
	return &RefreshToken{
		JTI:       uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// IsValid returns true if the token is unused and not expired at now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsUsed && now.Before(t.ExpiresAt)
}
