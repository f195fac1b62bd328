package sqlite

import (
	"github.com/prn-tf/sendme/internal/repository"
)

// NewRepositories bundles the SQLite repositories around db.
func NewRepositories(db *DB) *repository.Repositories {
	return &repository.Repositories{
		User:         NewUserRepository(db),
		Message:      NewMessageRepository(db),
		RefreshToken: NewRefreshTokenRepository(db),
		Tx:           db,
		Database:     db,
	}
}

var (
	_ repository.TxManager      = (*DB)(nil)
	_ repository.DatabaseHealth = (*DB)(nil)
	_ repository.Migrator       = (*DB)(nil)
)

