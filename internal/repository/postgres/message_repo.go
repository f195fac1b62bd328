package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

// messageRepository implements repository.MessageRepository for PostgreSQL.
type messageRepository struct {
	db *DB
}

// NewMessageRepository creates a new PostgreSQL message repository.
func NewMessageRepository(db *DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, user_id, type, status, is_deleted, content, file_path, file_size_bytes,
	mime_type, original_filename, device, expires_at, deleted_at, created_at, updated_at`

func scanMessage(row rowScanner) (*domain.Message, error) {
	msg := &domain.Message{}
	var (
		msgType, status    string
		content, filePath  *string
		mimeType, filename *string
		device             *string
	)

	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msgType,
		&status,
		&msg.IsDeleted,
		&content,
		&filePath,
		&msg.FileSizeBytes,
		&mimeType,
		&filename,
		&device,
		&msg.ExpiresAt,
		&msg.DeletedAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Type = domain.MessageType(msgType)
	msg.Status = domain.MessageStatus(status)
	msg.Content = deref(content)
	msg.FilePath = deref(filePath)
	msg.MimeType = deref(mimeType)
	msg.OriginalFilename = deref(filename)
	msg.Device = domain.DeviceType(deref(device))
	return msg, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a new message.
func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.conn(ctx).Exec(ctx, query,
		msg.ID,
		msg.UserID,
		string(msg.Type),
		string(msg.Status),
		msg.IsDeleted,
		nullable(msg.Content),
		nullable(msg.FilePath),
		msg.FileSizeBytes,
		nullable(msg.MimeType),
		nullable(msg.OriginalFilename),
		nullable(string(msg.Device)),
		msg.ExpiresAt,
		msg.DeletedAt,
		msg.CreatedAt,
		msg.UpdatedAt,
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
	return r.get(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 AND NOT is_deleted`, id)
}

// GetByIDIncludingDeleted retrieves a message regardless of its soft-delete flag.
func (r *messageRepository) GetByIDIncludingDeleted(ctx context.Context, id string) (*domain.Message, error) {
	return r.get(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
}

func (r *messageRepository) get(ctx context.Context, query, id string) (*domain.Message, error) {
	msg, err := scanMessage(r.db.conn(ctx).QueryRow(ctx, query, id))
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

	where := []string{"user_id = $1"}
	args := []any{userID}
	if !opts.IncludeDeleted {
		where = append(where, "NOT is_deleted")
	}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		where = append(where, "type = $"+strconv.Itoa(len(args)))
	}
	cond := strings.Join(where, " AND ")
	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		messageColumns, cond, len(args)+1, len(args)+2)
	rows, err := q.Query(ctx, query, append(args, page.Limit, page.Offset)...)
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
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE messages SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return requireAffected(tag, domain.ErrMessageNotFound)
}

// SoftDelete sets is_deleted. Re-deleting keeps the original deleted_at.
func (r *messageRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE messages
		SET is_deleted = TRUE, deleted_at = COALESCE(deleted_at, NOW()), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete message: %w", err)
	}
	return requireAffected(tag, domain.ErrMessageNotFound)
}

// UpdateContent replaces the content of a live text message.
func (r *messageRepository) UpdateContent(ctx context.Context, id, content string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE messages
		SET content = $2, updated_at = NOW()
		WHERE id = $1 AND type = $3 AND NOT is_deleted
	`, id, content, string(domain.MessageTypeText))
	if err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	return requireAffected(tag, domain.ErrMessageNotFound)
}

// Restore clears is_deleted unless the row has been claimed for purge.
func (r *messageRepository) Restore(ctx context.Context, id string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE messages
		SET is_deleted = FALSE, deleted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`, id, string(domain.MessageStatusDeleted))
	if err != nil {
		return fmt.Errorf("failed to restore message: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
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
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE messages
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND is_deleted
	`, id, string(domain.MessageStatusDeleted))
	if err != nil {
		return fmt.Errorf("failed to claim message for purge: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
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
		var isDeleted bool
		var size int64
		err := r.db.conn(ctx).QueryRow(ctx,
			`SELECT is_deleted, file_size_bytes FROM messages WHERE id = $1 FOR UPDATE`, id,
		).Scan(&isDeleted, &size)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return fmt.Errorf("failed to load message for hard delete: %w", err)
		}

		if !isDeleted {
			zero := int64(0)
			released = &zero
			return nil
		}

		if _, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
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
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE is_deleted AND deleted_at IS NOT NULL AND deleted_at < $1
		ORDER BY deleted_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list purgeable messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListExpired returns live messages whose expires_at has passed.
func (r *messageRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE NOT is_deleted AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SumLiveSizes totals file_size_bytes of every row the user still holds.
func (r *messageRepository) SumLiveSizes(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(file_size_bytes), 0)::BIGINT FROM messages WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum message sizes: %w", err)
	}
	return total, nil
}

func collectMessages(rows pgx.Rows) ([]*domain.Message, error) {
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

var _ repository.MessageRepository = (*messageRepository)(nil)
