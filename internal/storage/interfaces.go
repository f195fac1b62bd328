// Package storage defines interfaces for blob storage backends.
// The storage layer is responsible for persisting and retrieving raw file
// content under opaque keys. Quota accounting and metadata live elsewhere.
package storage

import (
	"context"
	"io"
)

// DefaultChunkSize is the buffer size used when streaming uploads.
const DefaultChunkSize = 64 * 1024

// Backend defines the interface for storage backends.
// Implementations include the local filesystem, S3-compatible object
// storage and an in-memory store for tests.
type Backend interface {
	// Save streams content from a reader into the blob stored under key.
	// Content is copied in chunks and never buffered whole in memory.
	// An existing blob under key is replaced.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - key: Storage key of the blob
	//   - reader: Source of the content to store
	//
	// Returns:
	//   - written: Number of bytes stored
	//   - err: *Error if storage fails; no partial blob is left behind
	Save(ctx context.Context, key string, reader io.Reader) (written int64, err error)

	// Load opens the blob stored under key.
	// Returns a ReadCloser that must be closed after use.
	//
	// Returns:
	//   - io.ReadCloser: Stream of the content (caller must close)
	//   - err: ErrBlobNotFound if the key is absent, or other error
	Load(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob stored under key.
	// Deleting an absent key is a satisfied deletion and returns true.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetSize returns the size of the blob stored under key.
	// The boolean is false when the key is absent.
	GetSize(ctx context.Context, key string) (int64, bool, error)

	// Move renames the blob under tempKey to finalKey atomically.
	// Returns ErrBlobNotFound if tempKey is absent.
	Move(ctx context.Context, tempKey, finalKey string) (bool, error)
}

// StorageStats contains storage backend statistics.
type StorageStats struct {
	// TotalBlobs is the number of blobs stored.
	TotalBlobs int64 `json:"total_blobs"`

	// TotalSize is the total size of all blobs in bytes.
	TotalSize int64 `json:"total_size"`
}

// StatsProvider is implemented by backends that can enumerate their content.
type StatsProvider interface {
	Stats(ctx context.Context) (*StorageStats, error)
}
