package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sendme/internal/storage"
)

func TestBackend_Lifecycle(t *testing.T) {
	ctx := context.Background()
	b := New()

	n, err := b.Save(ctx, storage.TempKey("a"), strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = b.Move(ctx, storage.TempKey("a"), "final/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"final/a"}, b.Keys())

	rc, err := b.Load(ctx, "final/a")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	ok, err := b.Delete(ctx, "final/a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = b.Load(ctx, "final/a")
	assert.True(t, storage.IsNotFound(err))

	_, err = b.Move(ctx, "missing", "x")
	assert.True(t, storage.IsNotFound(err))
}
