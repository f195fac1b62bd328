// Package service provides business logic services for SendMe.
package service

import "errors"

// Common service errors.
var (
	// ErrInternalError wraps repository failures that are not domain errors.
	ErrInternalError = errors.New("internal server error")

	// ErrUploadTimeout indicates a file upload exceeded the configured deadline.
	ErrUploadTimeout = errors.New("upload timed out")

	// ErrTooManyAttempts indicates too many failed verification attempts.
	ErrTooManyAttempts = errors.New("too many verification attempts")
)
