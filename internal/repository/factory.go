package repository

import (
	"context"
)

// Repositories holds all repository instances for one database.
type Repositories struct {
	User         UserRepository
	Message      MessageRepository
	RefreshToken RefreshTokenRepository
	Tx           TxManager
	Database     DatabaseHealth
}

// Close releases the underlying database.
func (r *Repositories) Close() error {
	if r.Database == nil {
		return nil
	}
	return r.Database.Close()
}

// DatabaseHealth is an interface for database health checks.
// This interface satisfies handler.HealthChecker for health endpoints.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Migrator applies schema migrations.
type Migrator interface {
	Migrate(ctx context.Context) error
	Version(ctx context.Context) (int, error)
}
