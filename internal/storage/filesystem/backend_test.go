package filesystem

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sendme/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{DataDir: t.TempDir(), ChunkSize: 16}, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	payload := bytes.Repeat([]byte("sendme-"), 100)
	n, err := b.Save(ctx, "users/1/abcdef", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	rc, err := b.Load(ctx, "users/1/abcdef")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	size, ok, err := b.GetSize(ctx, "users/1/abcdef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(len(payload)), size)
}

func TestBackend_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.Save(ctx, "file0001", strings.NewReader("hello"))
	require.NoError(t, err)

	ok, err := b.Delete(ctx, "file0001")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = b.Load(ctx, "file0001")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	ok, err = b.Delete(ctx, "file0001")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackend_GetSizeAbsent(t *testing.T) {
	b := newTestBackend(t)

	size, ok, err := b.GetSize(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, size)
}

func TestBackend_Move(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.Save(ctx, storage.TempKey("upload01"), strings.NewReader("content"))
	require.NoError(t, err)

	ok, err := b.Move(ctx, storage.TempKey("upload01"), storage.BlobKey("9", "up1final"))
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := b.Exists(ctx, storage.TempKey("upload01"))
	require.NoError(t, err)
	assert.False(t, exists)

	rc, err := b.Load(ctx, storage.BlobKey("9", "up1final"))
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestBackend_MoveMissingSource(t *testing.T) {
	b := newTestBackend(t)

	ok, err := b.Move(context.Background(), storage.TempKey("nope"), "final")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, storage.IsNotFound(err))
}

func TestBackend_SaveCancelledLeavesNoBlob(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Save(ctx, "file0002", strings.NewReader("data"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	exists, err := b.Exists(context.Background(), "file0002")
	require.NoError(t, err)
	assert.False(t, exists)

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalBlobs)
}

func TestBackend_RejectsInvalidKeys(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.Save(context.Background(), "../escape", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestBackend_RejectsNamesShorterThanShards(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.Save(ctx, "users/1/abcdef", strings.NewReader("sharded"))
	require.NoError(t, err)

	_, err = b.Save(ctx, "users/1/ab", strings.NewReader("short"))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	rc, err := b.Load(ctx, "users/1/abcdef")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "sharded", string(got))
}
