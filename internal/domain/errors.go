// Package domain contains the core business entities for SendMe.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, storage, network).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same username exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUserNotVerified indicates the user has not confirmed registration yet.
	ErrUserNotVerified = errors.New("user is not verified")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUsernameLength indicates the username length is invalid (3-20 chars).
	ErrUsernameLength = errors.New("username must be between 3 and 20 characters")

	// ErrUsernameFormat indicates the username contains forbidden characters.
	ErrUsernameFormat = errors.New("username must contain only letters, digits and underscores")

	// ErrPasswordTooShort indicates the password is below the minimum length.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")

	// ===========================================
	// Quota Errors
	// ===========================================

	// ErrCapacityExceeded indicates the operation would exceed the user's quota.
	ErrCapacityExceeded = errors.New("storage capacity exceeded")

	// ErrInvalidQuota indicates a quota value is negative or below the bytes in use.
	ErrInvalidQuota = errors.New("invalid quota")

	// ===========================================
	// Message Errors
	// ===========================================

	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyContent indicates a text message has no content after trimming.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrInvalidFileSize indicates a file message was declared with a non-positive size.
	ErrInvalidFileSize = errors.New("file size must be positive")

	// ErrFileTooLarge indicates a file exceeds the configured upload limit.
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")

	// ErrSizeMismatch indicates the streamed bytes differ from the declared size.
	ErrSizeMismatch = errors.New("uploaded size does not match declared size")

	// ErrInvalidMessageType indicates an unknown message type.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrInvalidMessageStatus indicates an unknown message status.
	ErrInvalidMessageStatus = errors.New("invalid message status")

	// ErrMessageNotDeleted indicates an operation that requires a soft-deleted message.
	ErrMessageNotDeleted = errors.New("message is not deleted")

	// ErrMessagePurging indicates the message is being permanently deleted
	// and can no longer be restored.
	ErrMessagePurging = errors.New("message is being permanently deleted")

	// ===========================================
	// Authentication/Authorization Errors
	// ===========================================

	// ErrAccessDenied indicates the user does not own the resource.
	ErrAccessDenied = errors.New("access denied")

	// ErrTokenNotFound indicates the refresh token does not exist or was already used.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenInvalid indicates the token failed signature or claim validation.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("token has expired")

	// ErrInvalidOTP indicates the one-time code is wrong or expired.
	ErrInvalidOTP = errors.New("invalid or expired verification code")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., username, message ID).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrUsernameLength, ErrUsernameFormat, ErrPasswordTooShort,
		ErrEmptyContent, ErrInvalidFileSize, ErrSizeMismatch,
		ErrInvalidMessageType, ErrInvalidMessageStatus, ErrInvalidQuota,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
