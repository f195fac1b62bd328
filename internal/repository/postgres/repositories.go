package postgres

import "github.com/prn-tf/sendme/internal/repository"

// NewRepositories wires every PostgreSQL repository over db.
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
