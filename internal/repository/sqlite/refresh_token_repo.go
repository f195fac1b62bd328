package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

// refreshTokenRepository implements repository.RefreshTokenRepository for SQLite.
type refreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new SQLite refresh token repository.
func NewRefreshTokenRepository(db *DB) repository.RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func scanToken(row rowScanner) (*domain.RefreshToken, error) {
	t := &domain.RefreshToken{}
	var isUsed int
	var expiresAt, createdAt string
	if err := row.Scan(&t.JTI, &t.UserID, &expiresAt, &isUsed, &createdAt); err != nil {
		return nil, err
	}
	t.IsUsed = isUsed != 0
	t.ExpiresAt = parseTime(expiresAt)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// Create stores a new token.
func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, user_id, expires_at, is_used, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, token.JTI, token.UserID, formatTime(token.ExpiresAt), boolToInt(token.IsUsed), formatTime(token.CreatedAt))
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
	t, err := scanToken(r.db.conn(ctx).QueryRowContext(ctx, `
		SELECT jti, user_id, expires_at, is_used, created_at
		FROM refresh_tokens
		WHERE jti = ? AND is_used = 0 AND expires_at > ?
	`, jti, formatTime(now)))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return t, nil
}

// Get returns a token regardless of state.
func (r *refreshTokenRepository) Get(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	t, err := scanToken(r.db.conn(ctx).QueryRowContext(ctx, `
		SELECT jti, user_id, expires_at, is_used, created_at
		FROM refresh_tokens
		WHERE jti = ?
	`, jti))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return t, nil
}

// MarkUsed flags an unused token as exchanged.
func (r *refreshTokenRepository) MarkUsed(ctx context.Context, jti string) error {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE refresh_tokens SET is_used = 1 WHERE jti = ? AND is_used = 0`, jti)
	if err != nil {
		return fmt.Errorf("failed to mark refresh token used: %w", err)
	}
	return requireAffected(result, domain.ErrTokenNotFound)
}

// Delete removes a token.
func (r *refreshTokenRepository) Delete(ctx context.Context, jti string) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM refresh_tokens WHERE jti = ?`, jti)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return requireAffected(result, domain.ErrTokenNotFound)
}

// DeleteAllForUser removes every token of a user.
func (r *refreshTokenRepository) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user refresh tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteExpired removes tokens expired before now.
func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Ensure refreshTokenRepository implements repository.RefreshTokenRepository.
var _ repository.RefreshTokenRepository = (*refreshTokenRepository)(nil)
