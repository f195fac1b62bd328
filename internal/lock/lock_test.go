package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	ok, err := l.Acquire(ctx, Keys.MessagePurge(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, Keys.MessagePurge(), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := l.IsHeld(ctx, Keys.MessagePurge())
	require.NoError(t, err)
	assert.True(t, held)

	released, err := l.Release(ctx, Keys.MessagePurge())
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = l.Acquire(ctx, Keys.MessagePurge(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_ExpiredLockIsReacquirable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	ok, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Stop()

	called := false
	err := Run(ctx, l, "job", time.Minute, func(ctx context.Context) error {
		called = true
		held, err := l.IsHeld(ctx, "job")
		require.NoError(t, err)
		assert.True(t, held)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	held, err := l.IsHeld(ctx, "job")
	require.NoError(t, err)
	assert.False(t, held, "lock must be released after Run")

	_, err = l.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	err = Run(ctx, l, "job", time.Minute, func(context.Context) error {
		t.Fatal("fn must not run while the lock is held")
		return nil
	})
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:quota:reconcile:42", Keys.QuotaReconcile(42))
	assert.NotEqual(t, Keys.MessagePurge(), Keys.TokenCleanup())
}
