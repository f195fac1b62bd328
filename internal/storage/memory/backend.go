// Package memory implements an in-process storage.Backend for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/prn-tf/sendme/internal/storage"
)

// Backend keeps blobs in a map guarded by a RWMutex.
type Backend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{blobs: make(map[string][]byte)}
}

// Save implements storage.Backend.
func (b *Backend) Save(ctx context.Context, key string, reader io.Reader) (int64, error) {
	if err := storage.ValidateKey(key); err != nil {
		return 0, storage.NewError("save", key, err)
	}

	var buf bytes.Buffer
	chunk := make([]byte, storage.DefaultChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return 0, storage.NewError("save", key, err)
		}
		n, err := reader.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, storage.NewError("save", key, err)
		}
	}

	b.mu.Lock()
	b.blobs[key] = buf.Bytes()
	b.mu.Unlock()
	return int64(buf.Len()), nil
}

// Load implements storage.Backend.
func (b *Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	data, ok := b.blobs[key]
	b.mu.RUnlock()
	if !ok {
		return nil, storage.NewError("load", key, storage.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	delete(b.blobs, key)
	b.mu.Unlock()
	return true, nil
}

// Exists implements storage.Backend.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	_, ok := b.blobs[key]
	b.mu.RUnlock()
	return ok, nil
}

// GetSize implements storage.Backend.
func (b *Backend) GetSize(ctx context.Context, key string) (int64, bool, error) {
	b.mu.RLock()
	data, ok := b.blobs[key]
	b.mu.RUnlock()
	return int64(len(data)), ok, nil
}

// Move implements storage.Backend.
func (b *Backend) Move(ctx context.Context, tempKey, finalKey string) (bool, error) {
	if err := storage.ValidateKey(finalKey); err != nil {
		return false, storage.NewError("move", finalKey, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[tempKey]
	if !ok {
		return false, storage.NewError("move", tempKey, storage.ErrBlobNotFound)
	}
	b.blobs[finalKey] = data
	delete(b.blobs, tempKey)
	return true, nil
}

// Keys returns the stored keys. Order is unspecified.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.blobs))
	for k := range b.blobs {
		keys = append(keys, k)
	}
	return keys
}

// Stats implements storage.StatsProvider.
func (b *Backend) Stats(ctx context.Context) (*storage.StorageStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := &storage.StorageStats{TotalBlobs: int64(len(b.blobs))}
	for _, v := range b.blobs {
		stats.TotalSize += int64(len(v))
	}
	return stats, nil
}

var (
	_ storage.Backend       = (*Backend)(nil)
	_ storage.StatsProvider = (*Backend)(nil)
)
