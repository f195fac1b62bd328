package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sendme/internal/config"
)

func TestOpenDatabase_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDatabase(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir() + "/app.db"}, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrator.Migrate(ctx))
	require.NoError(t, db.Database.Health(ctx))
}

func TestOpenDatabase_UnknownDriver(t *testing.T) {
	_, err := OpenDatabase(context.Background(), config.DatabaseConfig{Driver: "mysql"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()

	fs, err := OpenStorage(ctx, config.StorageConfig{Backend: "filesystem", DataDir: t.TempDir()}, 0, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, fs)

	mem, err := OpenStorage(ctx, config.StorageConfig{Backend: "memory"}, 0, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, mem)

	_, err = OpenStorage(ctx, config.StorageConfig{Backend: "tape"}, 0, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenCoordination_InMemory(t *testing.T) {
	ctx := context.Background()
	coord, err := OpenCoordination(ctx, config.RedisConfig{Enabled: false}, zerolog.Nop())
	require.NoError(t, err)
	defer coord.Close()

	require.NoError(t, coord.Cache.Set(ctx, "k", []byte("v"), 0))
	ok, err := coord.Locker.Acquire(ctx, "job", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger = NewLogger(config.LoggingConfig{Level: "nonsense"})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
