package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrBlobNotFound indicates no blob exists under the requested key.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidKey indicates a storage key that is empty or escapes the store root.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Error is a typed blob store failure.
// Every backend wraps I/O errors in Error so callers can tell storage faults
// apart from metadata faults.
type Error struct {
	// Op is the backend operation that failed (save, load, delete, move, size).
	Op string

	// Key is the storage key involved.
	Key string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a storage Error. A nil err returns nil.
func NewError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// IsNotFound reports whether err means the blob is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBlobNotFound)
}

// IsStorageError reports whether err originated in a blob store.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
