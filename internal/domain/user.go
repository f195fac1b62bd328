// Package domain contains the core business entities for SendMe.
// These are pure Go structs with no external dependencies, representing
// users, their quota counters and the messages they send between devices.
package domain

import (
	"regexp"
	"time"
)

// DefaultMaxQuotaBytes is the quota assigned to new users unless configured otherwise.
const DefaultMaxQuotaBytes int64 = 100 * 1024 * 1024

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// User represents a registered user in the system.
// Users own messages and carry the quota counters charged by file uploads.
type User struct {
	// ID is the unique identifier for the user (auto-generated).
	ID int64 `json:"id"`

	// Username is the unique username for login and display.
	// Constraints: 3-20 characters, letters, digits and underscores.
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// MaxQuotaBytes is the ceiling for UsedQuotaBytes.
	MaxQuotaBytes int64 `json:"max_quota_bytes"`

	// UsedQuotaBytes is the running total of bytes held by the user's
	// messages that have not been hard-deleted.
	UsedQuotaBytes int64 `json:"used_quota_bytes"`

	// IsVerified indicates whether the user confirmed registration.
	// Unverified users cannot log in.
	IsVerified bool `json:"is_verified"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser creates a new unverified User with the given quota.
// A non-positive maxQuota falls back to DefaultMaxQuotaBytes.
func NewUser(username, passwordHash string, maxQuota int64) *User {
	if maxQuota <= 0 {
		maxQuota = DefaultMaxQuotaBytes
	}
	now := time.Now().UTC()
	return &User{
		Username:      username,
		PasswordHash:  passwordHash,
		MaxQuotaBytes: maxQuota,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CanAuthenticate returns true if the user is allowed to log in.
func (u *User) CanAuthenticate() bool {
	return u.IsVerified
}

// AvailableBytes returns the remaining quota, never negative.
func (u *User) AvailableBytes() int64 {
	if u.UsedQuotaBytes >= u.MaxQuotaBytes {
		return 0
	}
	return u.MaxQuotaBytes - u.UsedQuotaBytes
}

// Fits reports whether additional bytes can be charged without exceeding the quota.
func (u *User) Fits(bytes int64) bool {
	return bytes >= 0 && bytes <= u.MaxQuotaBytes-u.UsedQuotaBytes
}

// ValidateUsername checks the username against length and character rules.
func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 20 {
		return ErrUsernameLength
	}
	if !usernamePattern.MatchString(username) {
		return ErrUsernameFormat
	}
	return nil
}
