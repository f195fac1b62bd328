package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

// refreshTokenRepository implements repository.RefreshTokenRepository for PostgreSQL.
type refreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new PostgreSQL refresh token repository.
func NewRefreshTokenRepository(db *DB) repository.RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

const tokenColumns = `jti, user_id, expires_at, is_used, created_at`

func scanToken(row rowScanner) (*domain.RefreshToken, error) {
	t := &domain.RefreshToken{}
	if err := row.Scan(&t.JTI, &t.UserID, &t.ExpiresAt, &t.IsUsed, &t.CreatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *refreshTokenRepository) get(ctx context.Context, query string, args ...any) (*domain.RefreshToken, error) {
	t, err := scanToken(r.db.conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return t, nil
}

// Create stores a new token.
func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO refresh_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, token.JTI, token.UserID, token.ExpiresAt, token.IsUsed, token.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetUnused returns a token that is neither used nor expired.
func (r *refreshTokenRepository) GetUnused(ctx context.Context, jti string, now time.Time) (*domain.RefreshToken, error) {
	return r.get(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE jti = $1 AND NOT is_used AND expires_at > $2`, jti, now)
}

// Get returns a token regardless of state.
func (r *refreshTokenRepository) Get(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	return r.get(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE jti = $1`, jti)
}

// MarkUsed flags an unused token as exchanged.
func (r *refreshTokenRepository) MarkUsed(ctx context.Context, jti string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `UPDATE refresh_tokens SET is_used = TRUE WHERE jti = $1 AND NOT is_used`, jti)
	if err != nil {
		return fmt.Errorf("failed to mark refresh token used: %w", err)
	}
	return requireAffected(tag, domain.ErrTokenNotFound)
}

// Delete removes a token.
func (r *refreshTokenRepository) Delete(ctx context.Context, jti string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM refresh_tokens WHERE jti = $1`, jti)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return requireAffected(tag, domain.ErrTokenNotFound)
}

// DeleteAllForUser removes every token of a user.
func (r *refreshTokenRepository) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes tokens expired before now.
func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ repository.RefreshTokenRepository = (*refreshTokenRepository)(nil)
