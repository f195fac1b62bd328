package postgres

import (
	"context"
	"fmt"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

// userRepository implements repository.UserRepository for PostgreSQL.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, password_hash, max_quota_bytes, used_quota_bytes, is_verified, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.MaxQuotaBytes,
		&user.UsedQuotaBytes,
		&user.IsVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (username, password_hash, max_quota_bytes, used_quota_bytes, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.conn(ctx).QueryRow(ctx, query,
		user.Username,
		user.PasswordHash,
		user.MaxQuotaBytes,
		user.UsedQuotaBytes,
		user.IsVerified,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrUserAlreadyExists, "username is taken", user.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *userRepository) get(ctx context.Context, query string, arg any) (*domain.User, error) {
	user, err := scanUser(r.db.conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Update updates the password hash and verification flag.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	err := r.db.conn(ctx).QueryRow(ctx, `
		UPDATE users
		SET password_hash = $2, is_verified = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, user.ID, user.PasswordHash, user.IsVerified).Scan(&user.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// SetVerified marks the user as verified.
func (r *userRepository) SetVerified(ctx context.Context, id int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to verify user: %w", err)
	}
	return requireAffected(tag, domain.ErrUserNotFound)
}

// SetMaxCapacity changes the quota ceiling. A ceiling below the bytes
// already used is rejected with ErrInvalidQuota.
func (r *userRepository) SetMaxCapacity(ctx context.Context, id int64, maxBytes int64) error {
	if maxBytes < 0 {
		return domain.ErrInvalidQuota
	}
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		user, err := r.GetUserWithCapacityLock(ctx, id)
		if err != nil {
			return err
		}
		if maxBytes < user.UsedQuotaBytes {
			return domain.NewDomainError(domain.ErrInvalidQuota,
				fmt.Sprintf("quota %d is below the %d bytes in use", maxBytes, user.UsedQuotaBytes), "")
		}

		_, err = r.db.conn(ctx).Exec(ctx,
			`UPDATE users SET max_quota_bytes = $2, updated_at = NOW() WHERE id = $1`, id, maxBytes)
		if err != nil {
			return fmt.Errorf("failed to set max capacity: %w", err)
		}
		return nil
	})
}

// Delete deletes a user by ID.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(tag, domain.ErrUserNotFound)
}

// List returns all users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()
	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return &repository.ListResult[domain.User]{
		Items:  users,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return exists, nil
}

// GetUserWithCapacityLock reads the user with SELECT ... FOR UPDATE.
func (r *userRepository) GetUserWithCapacityLock(ctx context.Context, id int64) (*domain.User, error) {
	if !inTx(ctx) {
		return nil, repository.ErrNoTransaction
	}
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

// GetUsedCapacity returns the used quota bytes, 0 for an unknown user.
func (r *userRepository) GetUsedCapacity(ctx context.Context, id int64) (int64, error) {
	var used int64
	err := r.db.conn(ctx).QueryRow(ctx, `SELECT used_quota_bytes FROM users WHERE id = $1`, id).Scan(&used)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get used capacity: %w", err)
	}
	return used, nil
}

// GetMaxCapacity returns the quota ceiling, nil for an unknown user.
func (r *userRepository) GetMaxCapacity(ctx context.Context, id int64) (*int64, error) {
	var max int64
	err := r.db.conn(ctx).QueryRow(ctx, `SELECT max_quota_bytes FROM users WHERE id = $1`, id).Scan(&max)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get max capacity: %w", err)
	}
	return &max, nil
}

// UpdateUsedCapacity applies used += delta, clamping at zero.
func (r *userRepository) UpdateUsedCapacity(ctx context.Context, id int64, delta int64) (int64, error) {
	var (
		total   int64
		clamped bool
	)
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		user, err := r.GetUserWithCapacityLock(ctx, id)
		if err != nil {
			return err
		}
		clamped = user.UsedQuotaBytes+delta < 0

		err = r.db.conn(ctx).QueryRow(ctx, `
			UPDATE users
			SET used_quota_bytes = GREATEST(used_quota_bytes + $2, 0), updated_at = NOW()
			WHERE id = $1
			RETURNING used_quota_bytes
		`, id, delta).Scan(&total)
		if err != nil {
			return fmt.Errorf("failed to update used capacity: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if clamped {
		return total, fmt.Errorf("%w: user %d delta %d", repository.ErrCapacityUnderflow, id, delta)
	}
	return total, nil
}

// SetUsedCapacity overwrites the used quota bytes.
func (r *userRepository) SetUsedCapacity(ctx context.Context, id int64, used int64) error {
	if used < 0 {
		return domain.ErrInvalidQuota
	}
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE users SET used_quota_bytes = $2, updated_at = NOW() WHERE id = $1`, id, used)
	if err != nil {
		return fmt.Errorf("failed to set used capacity: %w", err)
	}
	return requireAffected(tag, domain.ErrUserNotFound)
}

var _ repository.UserRepository = (*userRepository)(nil)
