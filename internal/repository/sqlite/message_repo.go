package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

// messageRepository implements repository.MessageRepository for SQLite.
type messageRepository struct {
	db *DB
}

// NewMessageRepository creates a new SQLite message repository.
func NewMessageRepository(db *DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, user_id, type, status, is_deleted, content, file_path, file_size_bytes,
	mime_type, original_filename, device, expires_at, deleted_at, created_at, updated_at`

func scanMessage(row rowScanner) (*domain.Message, error) {
	msg := &domain.Message{}
	var (
		msgType, status      string
		isDeleted            int
		content, filePath    sql.NullString
		mimeType, filename   sql.NullString
		device               sql.NullString
		expiresAt, deletedAt sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msgType,
		&status,
		&isDeleted,
		&content,
		&filePath,
		&msg.FileSizeBytes,
		&mimeType,
		&filename,
		&device,
		&expiresAt,
		&deletedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Type = domain.MessageType(msgType)
	msg.Status = domain.MessageStatus(status)
	msg.IsDeleted = isDeleted != 0
	msg.Content = content.String
	msg.FilePath = filePath.String
	msg.MimeType = mimeType.String
	msg.OriginalFilename = filename.String
	msg.Device = domain.DeviceType(device.String)
	msg.ExpiresAt = parseNullTime(expiresAt)
	msg.DeletedAt = parseNullTime(deletedAt)
	msg.CreatedAt = parseTime(createdAt)
	msg.UpdatedAt = parseTime(updatedAt)
	return msg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new message.
func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		msg.ID,
		msg.UserID,
		string(msg.Type),
		string(msg.Status),
		boolToInt(msg.IsDeleted),
		nullString(msg.Content),
		nullString(msg.FilePath),
		msg.FileSizeBytes,
		nullString(msg.MimeType),
		nullString(msg.OriginalFilename),
		nullString(string(msg.Device)),
		formatNullTime(msg.ExpiresAt),
		formatNullTime(msg.DeletedAt),
		formatTime(msg.CreatedAt),
		formatTime(msg.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID retrieves a live message.
func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return r.get(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ? AND is_deleted = 0`, id)
}

// GetByIDIncludingDeleted retrieves a message regardless of its soft-delete flag.
func (r *messageRepository) GetByIDIncludingDeleted(ctx context.Context, id string) (*domain.Message, error) {
	return r.get(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

func (r *messageRepository) get(ctx context.Context, query, id string) (*domain.Message, error) {
	msg, err := scanMessage(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListByUser returns a user's messages, newest first.
func (r *messageRepository) ListByUser(ctx context.Context, userID int64, opts repository.MessageListOptions) (*repository.ListResult[domain.Message], error) {
	page := opts.ListOptions.Normalize()

	where := []string{"user_id = ?"}
	args := []any{userID}
	if !opts.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	cond := strings.Join(where, " AND ")
	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + cond + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := q.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	items, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	return &repository.ListResult[domain.Message]{
		Items:  items,
		Total:  total,
		Offset: page.Offset,
		Limit:  page.Limit,
	}, nil
}

// UpdateStatus sets the status marker.
func (r *messageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) error {
	if !status.IsValid() {
		return domain.ErrInvalidMessageStatus
	}
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return requireAffected(result, domain.ErrMessageNotFound)
}

// SoftDelete sets is_deleted. Re-deleting keeps the original deleted_at.
func (r *messageRepository) SoftDelete(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE messages
		SET is_deleted = 1, deleted_at = COALESCE(deleted_at, ?), updated_at = ?
		WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete message: %w", err)
	}
	return requireAffected(result, domain.ErrMessageNotFound)
}

// UpdateContent replaces the content of a live text message.
func (r *messageRepository) UpdateContent(ctx context.Context, id, content string) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE messages
		SET content = ?, updated_at = ?
		WHERE id = ? AND type = ? AND is_deleted = 0
	`, content, formatTime(time.Now()), id, string(domain.MessageTypeText))
	if err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	return requireAffected(result, domain.ErrMessageNotFound)
}

// Restore clears is_deleted unless the row has been claimed for purge.
func (r *messageRepository) Restore(ctx context.Context, id string) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE messages
		SET is_deleted = 0, deleted_at = NULL, updated_at = ?
		WHERE id = ? AND status <> ?
	`, formatTime(time.Now()), id, string(domain.MessageStatusDeleted))
	if err != nil {
		return fmt.Errorf("failed to restore message: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n > 0 {
		return err
	}
	msg, err := r.GetByIDIncludingDeleted(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status == domain.MessageStatusDeleted {
		return domain.ErrMessagePurging
	}
	return nil
}

// ClaimForPurge sets status deleted on a soft-deleted row.
func (r *messageRepository) ClaimForPurge(ctx context.Context, id string) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE messages
		SET status = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 1
	`, string(domain.MessageStatusDeleted), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to claim message for purge: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n > 0 {
		return err
	}
	if _, err := r.GetByIDIncludingDeleted(ctx, id); err != nil {
		return err
	}
	return domain.ErrMessageNotDeleted
}

// HardDelete removes a soft-deleted message row.
func (r *messageRepository) HardDelete(ctx context.Context, id string) (*int64, error) {
	var released *int64
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		var isDeleted int
		var size int64
		err := r.db.conn(ctx).QueryRowContext(ctx,
			`SELECT is_deleted, file_size_bytes FROM messages WHERE id = ?`, id,
		).Scan(&isDeleted, &size)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return fmt.Errorf("failed to load message for hard delete: %w", err)
		}

		if isDeleted == 0 {
			zero := int64(0)
			released = &zero
			return nil
		}

		if _, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to hard delete message: %w", err)
		}
		released = &size
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// ListSoftDeletedBefore returns soft-deleted messages deleted before cutoff, oldest first.
func (r *messageRepository) ListSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Message, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE is_deleted = 1 AND deleted_at IS NOT NULL AND deleted_at < ?
		ORDER BY deleted_at
		LIMIT ?
	`, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list purgeable messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListExpired returns live messages whose expires_at has passed.
func (r *messageRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE is_deleted = 0 AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?
	`, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SumLiveSizes totals file_size_bytes of every row the user still holds.
func (r *messageRepository) SumLiveSizes(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size_bytes), 0) FROM messages WHERE user_id = ?`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum message sizes: %w", err)
	}
	return total, nil
}

func collectMessages(rows *sql.Rows) ([]*domain.Message, error) {
	var out []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}

// Ensure messageRepository implements repository.MessageRepository.
var _ repository.MessageRepository = (*messageRepository)(nil)
