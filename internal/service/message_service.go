package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/metrics"
	"github.com/prn-tf/sendme/internal/repository"
	"github.com/prn-tf/sendme/internal/storage"
)

// MessageEventType names a change pushed to connected devices.
type MessageEventType string

const (
	EventMessageCreated  MessageEventType = "message.created"
	EventMessageDeleted  MessageEventType = "message.deleted"
	EventMessageRestored MessageEventType = "message.restored"
	EventMessagePurged   MessageEventType = "message.purged"
	EventMessageStatus   MessageEventType = "message.status"
	EventMessageUpdated  MessageEventType = "message.updated"
)

// MessageEvent is published after a message change has been committed.
type MessageEvent struct {
	Type      MessageEventType `json:"type"`
	MessageID string           `json:"message_id"`
	Message   *domain.Message  `json:"message,omitempty"`
}

// EventPublisher delivers message events to a user's connected devices.
type EventPublisher interface {
	Publish(ctx context.Context, userID int64, event MessageEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, int64, MessageEvent) {}

// MessageConfig contains upload limits.
type MessageConfig struct {
	// UploadTimeout bounds the blob write of a single upload.
	UploadTimeout time.Duration

	// MaxUploadSize rejects larger files before any I/O. Zero disables the check.
	MaxUploadSize int64
}

// MessageService manages the message lifecycle: upload, soft delete,
// restore, hard delete and download.
type MessageService struct {
	messages repository.MessageRepository
	tx       repository.TxManager
	ledger   *CapacityLedger
	storage  storage.Backend
	events   EventPublisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   MessageConfig
}

// NewMessageService creates a new MessageService. A nil events publisher
// discards events.
func NewMessageService(
	messages repository.MessageRepository,
	tx repository.TxManager,
	ledger *CapacityLedger,
	backend storage.Backend,
	events EventPublisher,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config MessageConfig,
) *MessageService {
	if events == nil {
		events = nopPublisher{}
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = 5 * time.Minute
	}
	return &MessageService{
		messages: messages,
		tx:       tx,
		ledger:   ledger,
		storage:  backend,
		events:   events,
		metrics:  m,
		logger:   logger.With().Str("service", "message").Logger(),
		config:   config,
	}
}

// SendTextInput contains the data needed to send a text message.
type SendTextInput struct {
	UserID  int64
	Content string
	Device  string

	// TTL sets an optional expiry after which the purger expires the message.
	TTL time.Duration
}

// SendText stores a text message. Text messages never touch the quota.
func (s *MessageService) SendText(ctx context.Context, input SendTextInput) (*domain.Message, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}

	msg := domain.NewTextMessage(input.UserID, content, domain.ParseDevice(input.Device))
	setExpiry(msg, input.TTL)

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, s.repoErr(err, "failed to create text message")
	}

	s.created(ctx, msg)
	return msg, nil
}

// SendFileInput contains the data needed to upload a file message.
type SendFileInput struct {
	UserID int64

	// Reader streams the file content; Size is the declared byte count.
	Reader io.Reader
	Size   int64

	Filename string
	MimeType string
	Device   string
	TTL      time.Duration
}

// SendFile reserves quota, streams the content to the blob store, then
// records the message and charges the quota in one transaction.
// Any failure after the blob write removes the blob again.
func (s *MessageService) SendFile(ctx context.Context, input SendFileInput) (*domain.Message, error) {
	if input.Size <= 0 {
		return nil, domain.ErrInvalidFileSize
	}
	if s.config.MaxUploadSize > 0 && input.Size > s.config.MaxUploadSize {
		return nil, domain.NewDomainError(domain.ErrFileTooLarge,
			fmt.Sprintf("limit is %d bytes", s.config.MaxUploadSize), input.Filename)
	}
	if input.Reader == nil {
		return nil, domain.ErrInvalidFileSize
	}

	if err := s.ledger.Reserve(ctx, input.UserID, input.Size); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	tempKey := storage.TempKey(id)
	finalKey := storage.BlobKey(strconv.FormatInt(input.UserID, 10), id)

	uploadCtx, cancel := context.WithTimeout(ctx, s.config.UploadTimeout)
	defer cancel()

	// Read one byte past the declared size so oversized streams are detected.
	written, err := s.storage.Save(uploadCtx, tempKey, io.LimitReader(input.Reader, input.Size+1))
	if err == nil {
		err = uploadCtx.Err()
	}
	if err != nil {
		s.discard(ctx, tempKey)
		if errors.Is(uploadCtx.Err(), context.DeadlineExceeded) {
			s.logger.Warn().
				Int64("user_id", input.UserID).
				Dur("timeout", s.config.UploadTimeout).
				Msg("upload timed out")
			return nil, fmt.Errorf("%w after %s", ErrUploadTimeout, s.config.UploadTimeout)
		}
		return nil, err
	}

	if written != input.Size {
		s.discard(ctx, tempKey)
		return nil, domain.NewDomainError(domain.ErrSizeMismatch,
			fmt.Sprintf("declared %d bytes, received %d", input.Size, written), input.Filename)
	}

	if _, err := s.storage.Move(ctx, tempKey, finalKey); err != nil {
		s.discard(ctx, tempKey)
		return nil, err
	}

	mimeType := input.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	msg := domain.NewFileMessage(id, input.UserID, finalKey, written, mimeType,
		cleanFilename(input.Filename), domain.ParseDevice(input.Device))
	setExpiry(msg, input.TTL)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.messages.Create(ctx, msg); err != nil {
			return s.repoErr(err, "failed to create file message")
		}
		_, err := s.ledger.Charge(ctx, input.UserID, written)
		return err
	})
	if err != nil {
		s.discard(ctx, finalKey)
		return nil, err
	}

	s.logger.Info().
		Int64("user_id", input.UserID).
		Str("message_id", msg.ID).
		Int64("size", written).
		Str("type", string(msg.Type)).
		Msg("file message stored")

	s.created(ctx, msg)
	return msg, nil
}

// Get returns a live message owned by userID.
func (s *MessageService) Get(ctx context.Context, userID int64, id string) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, s.repoErr(err, "failed to get message")
	}
	if !msg.IsOwnedBy(userID) {
		return nil, domain.ErrAccessDenied
	}
	return msg, nil
}

// ListMessagesInput contains filters for listing messages.
type ListMessagesInput struct {
	UserID         int64
	Limit          int
	Offset         int
	IncludeDeleted bool
	Type           domain.MessageType
}

// ListMessagesOutput contains a page of messages.
type ListMessagesOutput struct {
	Messages   []*domain.Message `json:"messages"`
	TotalCount int64             `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// List returns the user's messages, newest first.
func (s *MessageService) List(ctx context.Context, input ListMessagesInput) (*ListMessagesOutput, error) {
	if input.Type != "" && !input.Type.IsValid() {
		return nil, domain.ErrInvalidMessageType
	}

	result, err := s.messages.ListByUser(ctx, input.UserID, repository.MessageListOptions{
		ListOptions:    repository.ListOptions{Limit: input.Limit, Offset: input.Offset},
		IncludeDeleted: input.IncludeDeleted,
		Type:           input.Type,
	})
	if err != nil {
		return nil, s.repoErr(err, "failed to list messages")
	}

	messages := result.Items
	if messages == nil {
		messages = []*domain.Message{}
	}
	return &ListMessagesOutput{
		Messages:   messages,
		TotalCount: result.Total,
		Limit:      result.Limit,
		Offset:     result.Offset,
	}, nil
}

// DownloadOutput carries the message metadata and its content stream.
// The caller must close Body.
type DownloadOutput struct {
	Message *domain.Message
	Body    io.ReadCloser
}

// Download opens the blob of a live file message owned by userID.
func (s *MessageService) Download(ctx context.Context, userID int64, id string) (*DownloadOutput, error) {
	msg, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !msg.Type.HasBlob() {
		return nil, domain.NewDomainError(domain.ErrInvalidMessageType, "text messages have no file", id)
	}

	body, err := s.storage.Load(ctx, msg.FilePath)
	if err != nil {
		if storage.IsNotFound(err) {
			s.logger.Error().Str("message_id", id).Str("key", msg.FilePath).Msg("blob missing for message")
		}
		return nil, err
	}
	return &DownloadOutput{Message: msg, Body: body}, nil
}

// SoftDelete hides a message. Its blob and quota charge stay in place.
func (s *MessageService) SoftDelete(ctx context.Context, userID int64, id string) (*domain.Message, error) {
	msg, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return msg, nil
	}

	if err := s.messages.SoftDelete(ctx, id); err != nil {
		return nil, s.repoErr(err, "failed to soft delete message")
	}
	now := time.Now().UTC()
	msg.IsDeleted = true
	msg.DeletedAt = &now

	s.logger.Debug().Int64("user_id", userID).Str("message_id", id).Msg("message soft deleted")
	s.events.Publish(ctx, userID, MessageEvent{Type: EventMessageDeleted, MessageID: id, Message: msg})
	return msg, nil
}

// Restore clears the soft-delete flag. Restoring a live message is a no-op.
func (s *MessageService) Restore(ctx context.Context, userID int64, id string) (*domain.Message, error) {
	msg, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !msg.IsDeleted {
		return msg, nil
	}
	if msg.Status == domain.MessageStatusDeleted {
		return nil, domain.NewDomainError(domain.ErrMessagePurging, "restore refused", id)
	}

	if err := s.messages.Restore(ctx, id); err != nil {
		return nil, s.repoErr(err, "failed to restore message")
	}
	msg.IsDeleted = false
	msg.DeletedAt = nil

	s.logger.Debug().Int64("user_id", userID).Str("message_id", id).Msg("message restored")
	s.events.Publish(ctx, userID, MessageEvent{Type: EventMessageRestored, MessageID: id, Message: msg})
	return msg, nil
}

// EditTextInput contains the data needed to replace a text message body.
type EditTextInput struct {
	UserID  int64
	ID      string
	Content string
}

// EditText replaces the body of a live text message. Quota is unaffected.
func (s *MessageService) EditText(ctx context.Context, input EditTextInput) (*domain.Message, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}

	msg, err := s.owned(ctx, input.UserID, input.ID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, domain.ErrMessageNotFound
	}
	if msg.Type != domain.MessageTypeText {
		return nil, domain.NewDomainError(domain.ErrInvalidMessageType, "only text messages can be edited", input.ID)
	}

	if err := s.messages.UpdateContent(ctx, input.ID, content); err != nil {
		return nil, s.repoErr(err, "failed to update message content")
	}
	msg.Content = content
	msg.UpdatedAt = time.Now().UTC()

	s.logger.Debug().Int64("user_id", input.UserID).Str("message_id", input.ID).Msg("message edited")
	s.events.Publish(ctx, input.UserID, MessageEvent{Type: EventMessageUpdated, MessageID: input.ID, Message: msg})
	return msg, nil
}

// HardDelete permanently removes a soft-deleted message and returns the
// released byte count. A live message is left untouched and 0 is returned.
//
// The row is first claimed with the deleted status, which makes Restore
// refuse it. The blob is deleted next. Only then are the row removal and
// the quota release committed together, so a failed blob delete leaves the
// message soft-deleted and retryable.
func (s *MessageService) HardDelete(ctx context.Context, userID int64, id string) (int64, error) {
	msg, err := s.owned(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	return s.hardDelete(ctx, msg)
}

func (s *MessageService) hardDelete(ctx context.Context, msg *domain.Message) (int64, error) {
	if !msg.IsDeleted {
		return 0, nil
	}

	if err := s.messages.ClaimForPurge(ctx, msg.ID); err != nil {
		if errors.Is(err, domain.ErrMessageNotDeleted) {
			// Restored after it was loaded; nothing has been touched.
			return 0, nil
		}
		return 0, s.repoErr(err, "failed to claim message for purge")
	}

	if msg.Type.HasBlob() && msg.FilePath != "" {
		if _, err := s.storage.Delete(ctx, msg.FilePath); err != nil {
			s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to delete blob, message kept")
			return 0, err
		}
	}

	var released int64
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.messages.GetByIDIncludingDeleted(ctx, msg.ID)
		if err != nil {
			return s.repoErr(err, "failed to reload message for hard delete")
		}
		if !current.IsDeleted {
			s.logger.Error().Str("message_id", msg.ID).Msg("claimed message became live before row delete")
			return domain.NewDomainError(domain.ErrMessageNotDeleted, "blob already removed", msg.ID)
		}

		n, err := s.messages.HardDelete(ctx, msg.ID)
		if err != nil {
			return s.repoErr(err, "failed to hard delete message")
		}
		if n == nil {
			return domain.ErrMessageNotFound
		}
		released = *n
		if released == 0 {
			return nil
		}
		_, err = s.ledger.Release(ctx, msg.UserID, released)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Int64("user_id", msg.UserID).
		Str("message_id", msg.ID).
		Int64("released", released).
		Msg("message hard deleted")

	s.events.Publish(ctx, msg.UserID, MessageEvent{Type: EventMessagePurged, MessageID: msg.ID})
	return released, nil
}

// MarkFailed sets the failed status marker without touching is_deleted.
func (s *MessageService) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.MessageStatusFailed)
}

// MarkExpired sets the expired status marker without touching is_deleted.
func (s *MessageService) MarkExpired(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.MessageStatusExpired)
}

func (s *MessageService) setStatus(ctx context.Context, id string, status domain.MessageStatus) error {
	msg, err := s.messages.GetByIDIncludingDeleted(ctx, id)
	if err != nil {
		return s.repoErr(err, "failed to get message")
	}
	if err := s.messages.UpdateStatus(ctx, id, status); err != nil {
		return s.repoErr(err, "failed to update message status")
	}
	msg.Status = status
	s.events.Publish(ctx, msg.UserID, MessageEvent{Type: EventMessageStatus, MessageID: id, Message: msg})
	return nil
}

// owned loads a message including soft-deleted ones and checks ownership.
func (s *MessageService) owned(ctx context.Context, userID int64, id string) (*domain.Message, error) {
	msg, err := s.messages.GetByIDIncludingDeleted(ctx, id)
	if err != nil {
		return nil, s.repoErr(err, "failed to get message")
	}
	if !msg.IsOwnedBy(userID) {
		return nil, domain.ErrAccessDenied
	}
	return msg, nil
}

func (s *MessageService) created(ctx context.Context, msg *domain.Message) {
	if s.metrics != nil {
		s.metrics.MessagesCreated.WithLabelValues(string(msg.Type)).Inc()
	}
	s.events.Publish(ctx, msg.UserID, MessageEvent{Type: EventMessageCreated, MessageID: msg.ID, Message: msg})
}

// discard removes a blob after a failed upload step. The delete runs even
// when ctx has been cancelled.
func (s *MessageService) discard(ctx context.Context, key string) {
	if _, err := s.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to remove blob after failed upload")
	}
}

func (s *MessageService) repoErr(err error, msg string) error {
	var domainErr *domain.DomainError
	switch {
	case errors.As(err, &domainErr),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrMessagePurging),
		errors.Is(err, domain.ErrMessageNotDeleted),
		errors.Is(err, ErrInternalError),
		domain.IsValidation(err):
		return err
	}
	s.logger.Error().Err(err).Msg(msg)
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

// cleanFilename strips any client-supplied directory components.
func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func setExpiry(msg *domain.Message, ttl time.Duration) {
	if ttl > 0 {
		at := msg.CreatedAt.Add(ttl)
		msg.ExpiresAt = &at
	}
}
