// Package filesystem implements storage.Backend on a local directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/storage"
)

// Config configures the filesystem backend.
type Config struct {
	// DataDir is the root directory for committed and staged blobs.
	DataDir string

	// ChunkSize is the copy buffer size for Save. Zero uses storage.DefaultChunkSize.
	ChunkSize int
}

// Backend stores blobs as files under a sharded directory layout.
// Writes land in a sibling temp file and are renamed into place, so readers
// see either the complete blob or ErrBlobNotFound.
type Backend struct {
	paths     storage.PathConfig
	chunkSize int
	logger    zerolog.Logger
}

// New creates the data directory if needed and returns a Backend.
func New(cfg Config, logger zerolog.Logger) (*Backend, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("filesystem backend: data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = storage.DefaultChunkSize
	}

	logger.Info().Str("data_dir", cfg.DataDir).Msg("filesystem storage ready")

	return &Backend{
		paths:     storage.DefaultPathConfig(cfg.DataDir),
		chunkSize: chunk,
		logger:    logger.With().Str("component", "fs_storage").Logger(),
	}, nil
}

func (b *Backend) path(key string) (string, error) {
	if err := b.paths.CheckKey(key); err != nil {
		return "", err
	}
	return storage.ComputePath(b.paths, key), nil
}

// Save implements storage.Backend.
func (b *Backend) Save(ctx context.Context, key string, reader io.Reader) (int64, error) {
	p, err := b.path(key)
	if err != nil {
		return 0, storage.NewError("save", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return 0, storage.NewError("save", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*.tmp")
	if err != nil {
		return 0, storage.NewError("save", key, err)
	}
	tmpPath := tmp.Name()

	written, err := copyChunked(ctx, tmp, reader, b.chunkSize)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, storage.NewError("save", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, storage.NewError("save", key, err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		_ = os.Remove(tmpPath)
		return 0, storage.NewError("save", key, err)
	}

	b.logger.Debug().Str("key", key).Int64("bytes", written).Msg("blob saved")
	return written, nil
}

// Load implements storage.Backend.
func (b *Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, storage.NewError("load", key, err)
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.NewError("load", key, storage.ErrBlobNotFound)
	}
	if err != nil {
		return nil, storage.NewError("load", key, err)
	}
	return f, nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, storage.NewError("delete", key, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, storage.NewError("delete", key, err)
	}
	return true, nil
}

// Exists implements storage.Backend.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.GetSize(ctx, key)
	return ok, err
}

// GetSize implements storage.Backend.
func (b *Backend) GetSize(ctx context.Context, key string) (int64, bool, error) {
	p, err := b.path(key)
	if err != nil {
		return 0, false, storage.NewError("size", key, err)
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storage.NewError("size", key, err)
	}
	return info.Size(), true, nil
}

// Move implements storage.Backend.
func (b *Backend) Move(ctx context.Context, tempKey, finalKey string) (bool, error) {
	src, err := b.path(tempKey)
	if err != nil {
		return false, storage.NewError("move", tempKey, err)
	}
	dst, err := b.path(finalKey)
	if err != nil {
		return false, storage.NewError("move", finalKey, err)
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return false, storage.NewError("move", tempKey, storage.ErrBlobNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return false, storage.NewError("move", finalKey, err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, storage.NewError("move", tempKey, storage.ErrBlobNotFound)
		}
		return false, storage.NewError("move", finalKey, err)
	}
	return true, nil
}

// Stats walks the data directory and totals committed blobs.
func (b *Backend) Stats(ctx context.Context) (*storage.StorageStats, error) {
	stats := &storage.StorageStats{}
	err := filepath.WalkDir(b.paths.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || filepath.Ext(path) == ".tmp" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.TotalBlobs++
		stats.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk data dir: %w", err)
	}
	return stats, nil
}

// copyChunked copies src to dst one buffer at a time, checking ctx between chunks.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

var (
	_ storage.Backend       = (*Backend)(nil)
	_ storage.StatsProvider = (*Backend)(nil)
)
