package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, password_hash, max_quota_bytes, used_quota_bytes, is_verified, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var isVerified int
	var createdAt, updatedAt string

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.MaxQuotaBytes,
		&user.UsedQuotaBytes,
		&isVerified,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.IsVerified = isVerified != 0
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)
	return user, nil
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (username, password_hash, max_quota_bytes, used_quota_bytes, is_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		user.Username,
		user.PasswordHash,
		user.MaxQuotaBytes,
		user.UsedQuotaBytes,
		boolToInt(user.IsVerified),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrUserAlreadyExists, "username is taken", user.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	user.ID = id

	return nil
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := scanUser(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`

	user, err := scanUser(r.db.conn(ctx).QueryRowContext(ctx, query, username))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// Update updates the password hash and verification flag.
// Quota counters are only changed through the capacity methods.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET password_hash = ?, is_verified = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		user.PasswordHash,
		boolToInt(user.IsVerified),
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return requireAffected(result, domain.ErrUserNotFound)
}

// SetVerified marks the user as verified.
func (r *userRepository) SetVerified(ctx context.Context, id int64) error {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE users SET is_verified = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to verify user: %w", err)
	}
	return requireAffected(result, domain.ErrUserNotFound)
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

		_, err = r.db.conn(ctx).ExecContext(ctx,
			`UPDATE users SET max_quota_bytes = ?, updated_at = ? WHERE id = ?`,
			maxBytes, formatTime(time.Now()), id,
		)
		if err != nil {
			return fmt.Errorf("failed to set max capacity: %w", err)
		}
		return nil
	})
}

// Delete deletes a user by ID.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result, domain.ErrUserNotFound)
}

// List returns all users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()
	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT ? OFFSET ?`
	rows, err := q.QueryContext(ctx, query, opts.Limit, opts.Offset)
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
	var count int
	err := r.db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return count > 0, nil
}

// GetUserWithCapacityLock takes the database write lock with a no-op update
// of the quota row, then reads the user. SQLite has no row locks; the write
// lock serializes every writer until the transaction ends.
func (r *userRepository) GetUserWithCapacityLock(ctx context.Context, id int64) (*domain.User, error) {
	if !inTx(ctx) {
		return nil, repository.ErrNoTransaction
	}

	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE users SET used_quota_bytes = used_quota_bytes WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock user capacity: %w", err)
	}
	if err := requireAffected(result, domain.ErrUserNotFound); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, id)
}

// GetUsedCapacity returns the used quota bytes, 0 for an unknown user.
func (r *userRepository) GetUsedCapacity(ctx context.Context, id int64) (int64, error) {
	var used int64
	err := r.db.conn(ctx).QueryRowContext(ctx, `SELECT used_quota_bytes FROM users WHERE id = ?`, id).Scan(&used)
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
	err := r.db.conn(ctx).QueryRowContext(ctx, `SELECT max_quota_bytes FROM users WHERE id = ?`, id).Scan(&max)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get max capacity: %w", err)
	}
	return &max, nil
}

// UpdateUsedCapacity applies used += delta under the capacity lock.
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

		total = user.UsedQuotaBytes + delta
		if total < 0 {
			total = 0
			clamped = true
		}

		_, err = r.db.conn(ctx).ExecContext(ctx,
			`UPDATE users SET used_quota_bytes = ?, updated_at = ? WHERE id = ?`,
			total, formatTime(time.Now()), id,
		)
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
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE users SET used_quota_bytes = ?, updated_at = ? WHERE id = ?`,
		used, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set used capacity: %w", err)
	}
	return requireAffected(result, domain.ErrUserNotFound)
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
