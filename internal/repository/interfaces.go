// Package repository defines data access interfaces for SendMe.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/sendme/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access,
// including the quota counters the capacity ledger builds on.
type UserRepository interface {
	// Create creates a new user.
	// Returns domain.ErrUserAlreadyExists if the username is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByUsername retrieves a user by username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Update updates the password hash and verification flag of an existing user.
	Update(ctx context.Context, user *domain.User) error

	// SetVerified marks the user as verified.
	SetVerified(ctx context.Context, id int64) error

	// SetMaxCapacity changes the quota ceiling.
	SetMaxCapacity(ctx context.Context, id int64, maxBytes int64) error

	// Delete deletes a user by ID.
	Delete(ctx context.Context, id int64) error

	// List returns all users with pagination.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// ExistsByUsername checks if a user with the given username exists.
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// GetUserWithCapacityLock retrieves the user while holding an exclusive
	// lock on its quota fields until the transaction carried by ctx ends.
	// Must be called inside TxManager.WithTx.
	GetUserWithCapacityLock(ctx context.Context, id int64) (*domain.User, error)

	// GetUsedCapacity returns the used quota bytes, 0 for an unknown user.
	GetUsedCapacity(ctx context.Context, id int64) (int64, error)

	// GetMaxCapacity returns the quota ceiling, nil for an unknown user.
	GetMaxCapacity(ctx context.Context, id int64) (*int64, error)

	// UpdateUsedCapacity applies used += delta under the capacity lock and
	// returns the new total. A result below zero is clamped to 0 and the
	// returned error wraps ErrCapacityUnderflow alongside the clamped total.
	UpdateUsedCapacity(ctx context.Context, id int64, delta int64) (int64, error)

	// SetUsedCapacity overwrites the used quota bytes (reconciliation only).
	SetUsedCapacity(ctx context.Context, id int64, used int64) error
}

// =============================================================================
// Message Repository
// =============================================================================

// MessageRepository defines the interface for message data access.
type MessageRepository interface {
	// Create inserts a new message.
	Create(ctx context.Context, msg *domain.Message) error

	// GetByID retrieves a live message.
	// Returns domain.ErrMessageNotFound if absent or soft-deleted.
	GetByID(ctx context.Context, id string) (*domain.Message, error)

	// GetByIDIncludingDeleted retrieves a message regardless of its soft-delete flag.
	GetByIDIncludingDeleted(ctx context.Context, id string) (*domain.Message, error)

	// ListByUser returns a user's messages, newest first.
	ListByUser(ctx context.Context, userID int64, opts MessageListOptions) (*ListResult[domain.Message], error)

	// UpdateStatus sets the status marker.
	UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) error

	// SoftDelete sets is_deleted. Idempotent.
	SoftDelete(ctx context.Context, id string) error

	// UpdateContent replaces the content of a live text message.
	// Returns domain.ErrMessageNotFound if no such live text message exists.
	UpdateContent(ctx context.Context, id, content string) error

	// Restore clears is_deleted. Idempotent.
	// Returns domain.ErrMessagePurging once ClaimForPurge has taken the row.
	Restore(ctx context.Context, id string) error

	// ClaimForPurge marks a soft-deleted message with the deleted status so
	// that it can no longer be restored while its blob is removed.
	// Returns domain.ErrMessageNotDeleted for a live message and
	// domain.ErrMessageNotFound if it does not exist.
	ClaimForPurge(ctx context.Context, id string) error

	// HardDelete removes a soft-deleted message row.
	//
	// Returns:
	//   - nil: the message does not exist
	//   - 0: the message is live and was left untouched
	//   - n: the row was removed; n is its file_size_bytes
	HardDelete(ctx context.Context, id string) (*int64, error)

	// ListSoftDeletedBefore returns soft-deleted messages deleted before cutoff.
	ListSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Message, error)

	// ListExpired returns live messages whose expires_at is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error)

	// SumLiveSizes totals file_size_bytes of all rows the user still holds,
	// soft-deleted ones included.
	SumLiveSizes(ctx context.Context, userID int64) (int64, error)
}

// MessageListOptions filters ListByUser.
type MessageListOptions struct {
	ListOptions

	// IncludeDeleted includes soft-deleted messages.
	IncludeDeleted bool

	// Type restricts results to one message type when non-empty.
	Type domain.MessageType
}

// =============================================================================
// Refresh Token Repository
// =============================================================================

// RefreshTokenRepository defines the interface for refresh token data access.
type RefreshTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *domain.RefreshToken) error

	// GetUnused returns a token that is neither used nor expired at now.
	// Returns domain.ErrTokenNotFound otherwise.
	GetUnused(ctx context.Context, jti string, now time.Time) (*domain.RefreshToken, error)

	// Get returns a token regardless of state.
	Get(ctx context.Context, jti string) (*domain.RefreshToken, error)

	// MarkUsed flags the token as exchanged. Returns domain.ErrTokenNotFound
	// if the token does not exist or was already used.
	MarkUsed(ctx context.Context, jti string) error

	// Delete removes a token.
	Delete(ctx context.Context, jti string) error

	// DeleteAllForUser removes every token of a user.
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpired removes tokens expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common pagination options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// Normalize clamps Limit into [1, 1000], defaulting to 50.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}

// =============================================================================
// Transaction Support
// =============================================================================

// TxManager defines the interface for transaction management.
type TxManager interface {
	// WithTx executes the given function within a transaction.
	// The transaction travels in the context passed to fn; repository calls
	// made with that context participate in it. Nested calls join the outer
	// transaction. If the function returns an error, the transaction is
	// rolled back. If the function succeeds, the transaction is committed.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
