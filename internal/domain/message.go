package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// IsValid returns true if the type is known.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// HasBlob returns true for types whose payload lives in the blob store.
func (t MessageType) HasBlob() bool {
	return t == MessageTypeImage || t == MessageTypeFile
}

// MessageTypeForMIME picks image for image/* content types and file otherwise.
func MessageTypeForMIME(mimeType string) MessageType {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return MessageTypeImage
	}
	return MessageTypeFile
}

// MessageStatus is a delivery marker. It is orthogonal to Message.IsDeleted.
type MessageStatus string

const (
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusDeleted    MessageStatus = "deleted"
	MessageStatusFailed     MessageStatus = "failed"
	MessageStatusExpired    MessageStatus = "expired"
)

// IsValid returns true if the status is known.
func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusSent, MessageStatusProcessing, MessageStatusDeleted,
		MessageStatusFailed, MessageStatusExpired:
		return true
	}
	return false
}

// DeviceType identifies the device a message was sent from.
type DeviceType string

const (
	DevicePhone   DeviceType = "phone"
	DeviceDesktop DeviceType = "desktop"
)

// ParseDevice maps free-form input to a DeviceType, returning "" when unknown.
func ParseDevice(s string) DeviceType {
	switch DeviceType(strings.ToLower(strings.TrimSpace(s))) {
	case DevicePhone:
		return DevicePhone
	case DeviceDesktop:
		return DeviceDesktop
	}
	return ""
}

// Message is a text or file entry owned by a user.
type Message struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// UserID is the owning user.
	UserID int64 `json:"user_id"`

	// Type is text, image or file.
	Type MessageType `json:"type"`

	// Status is the delivery marker.
	Status MessageStatus `json:"status"`

	// IsDeleted is the soft-delete flag. Soft-deleted messages still hold quota.
	IsDeleted bool `json:"is_deleted"`

	// Content is the text body, set only for text messages.
	Content string `json:"content,omitempty"`

	// FilePath is the opaque blob storage key, set only for image and file messages.
	FilePath string `json:"-"`

	// FileSizeBytes is the byte count charged against the owner's quota.
	FileSizeBytes int64 `json:"file_size_bytes"`

	MimeType         string     `json:"mime_type,omitempty"`
	OriginalFilename string     `json:"original_filename,omitempty"`
	Device           DeviceType `json:"device,omitempty"`

	// ExpiresAt is an optional deadline after which the purger expires the message.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// DeletedAt is set when the message is soft-deleted and cleared on restore.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTextMessage creates a text message with a fresh ID.
func NewTextMessage(userID int64, content string, device DeviceType) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      MessageTypeText,
		Status:    MessageStatusSent,
		Content:   content,
		Device:    device,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewFileMessage creates an image or file message pointing at a stored blob.
func NewFileMessage(id string, userID int64, key string, size int64, mimeType, filename string, device DeviceType) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:               id,
		UserID:           userID,
		Type:             MessageTypeForMIME(mimeType),
		Status:           MessageStatusSent,
		FilePath:         key,
		FileSizeBytes:    size,
		MimeType:         mimeType,
		OriginalFilename: filename,
		Device:           device,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate enforces the payload shape of each message type.
func (m *Message) Validate() error {
	if !m.Type.IsValid() {
		return ErrInvalidMessageType
	}
	if !m.Status.IsValid() {
		return ErrInvalidMessageStatus
	}
	if m.Type == MessageTypeText {
		if strings.TrimSpace(m.Content) == "" {
			return ErrEmptyContent
		}
		if m.FilePath != "" || m.FileSizeBytes != 0 {
			return NewDomainError(ErrInvalidMessageType, "text message cannot reference a blob", m.ID)
		}
		return nil
	}
	if m.FilePath == "" || m.Content != "" {
		return NewDomainError(ErrInvalidMessageType, "file message must reference a blob only", m.ID)
	}
	if m.FileSizeBytes <= 0 {
		return ErrInvalidFileSize
	}
	return nil
}

// IsOwnedBy returns true if userID owns the message.
func (m *Message) IsOwnedBy(userID int64) bool {
	return m.UserID == userID
}

// IsExpired returns true if the message has a deadline in the past.
func (m *Message) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}
