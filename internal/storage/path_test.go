package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePath(t *testing.T) {
	cfg := DefaultPathConfig("/data")

	tests := []struct {
		name string
		key  string
		want string
	}{
		{
			name: "sharded user blob",
			key:  "users/42/abcdef1234",
			want: filepath.Join("/data", "users", "42", "ab", "cd", "abcdef1234"),
		},
		{
			name: "short name is not sharded",
			key:  "tmp/abc",
			want: filepath.Join("/data", "tmp", "abc"),
		},
		{
			name: "flat key",
			key:  "f1",
			want: filepath.Join("/data", "f1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputePath(cfg, tt.key))
		})
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"f1", "users/1/abc", TempKey("x"), BlobKey("7", "id")}
	for _, k := range valid {
		assert.NoError(t, ValidateKey(k), k)
	}

	invalid := []string{"", "/abs", "a/../b", "..", "a//b", "a/", `a\b`}
	for _, k := range invalid {
		assert.ErrorIs(t, ValidateKey(k), ErrInvalidKey, k)
	}
}

func TestPathConfig_CheckKey(t *testing.T) {
	cfg := DefaultPathConfig("/data")

	assert.NoError(t, cfg.CheckKey("users/1/abcdef"))
	assert.NoError(t, cfg.CheckKey(TempKey("abcd")))

	for _, k := range []string{"users/1/ab", "users/1/abc", "f1", TempKey("x")} {
		assert.ErrorIs(t, cfg.CheckKey(k), ErrInvalidKey, k)
	}
	assert.ErrorIs(t, cfg.CheckKey("a/../abcdef"), ErrInvalidKey)

	flat := PathConfig{BasePath: "/data"}
	assert.NoError(t, flat.CheckKey("ab"), "unsharded layouts accept any name")
}

func TestNewError(t *testing.T) {
	require.NoError(t, NewError("save", "k", nil))

	err := NewError("load", "k", ErrBlobNotFound)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsStorageError(err))
	assert.Contains(t, err.Error(), "load")

	// Already-typed errors are not double wrapped.
	again := NewError("move", "k2", err)
	var se *Error
	require.True(t, errors.As(again, &se))
	assert.Equal(t, "load", se.Op)
}
