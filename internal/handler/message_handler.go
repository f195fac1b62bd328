package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/service"
)

// multipartOverhead is the slack allowed on top of the file size for
// multipart boundaries and form fields.
const multipartOverhead = 1 << 20

// maxTTL caps client-supplied ttl_seconds values.
const maxTTL = 365 * 24 * time.Hour

// MessageHandler serves the message endpoints.
type MessageHandler struct {
	messages      *service.MessageService
	maxUploadSize int64
	logger        zerolog.Logger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messages *service.MessageService, maxUploadSize int64, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:      messages,
		maxUploadSize: maxUploadSize,
		logger:        logger.With().Str("handler", "message").Logger(),
	}
}

type sendTextRequest struct {
	Content    string `json:"content"`
	Device     string `json:"device"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// SendText handles POST /api/v1/messages/text.
func (h *MessageHandler) SendText(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req sendTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ttl, ok := parseTTL(req.TTLSeconds)
	if !ok {
		writeErrorCode(w, errValidation, "invalid value for field ttl_seconds")
		return
	}

	msg, err := h.messages.SendText(r.Context(), service.SendTextInput{
		UserID:  userID,
		Content: req.Content,
		Device:  req.Device,
		TTL:     ttl,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// SendFile handles POST /api/v1/messages/file.
//
// The body is multipart/form-data. Text fields (size, device, ttl_seconds)
// must precede the "file" part, which is streamed to storage without being
// buffered. The declared size may instead come from the X-File-Size header.
func (h *MessageHandler) SendFile(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeErrorCode(w, errValidation, "expected multipart/form-data body")
		return
	}

	input := service.SendFileInput{UserID: userID}
	if v := r.Header.Get("X-File-Size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeErrorCode(w, errValidation, "invalid value for header X-File-Size")
			return
		}
		input.Size = n
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			writeErrorCode(w, errValidation, "missing file part")
			return
		}
		if err != nil {
			writeErrorCode(w, errValidation, "malformed multipart body")
			return
		}

		if part.FormName() != "file" {
			value, err := io.ReadAll(io.LimitReader(part, 1024))
			part.Close()
			if err != nil {
				writeErrorCode(w, errValidation, "malformed multipart field")
				return
			}
			if !applyField(&input, part.FormName(), strings.TrimSpace(string(value))) {
				writeErrorCode(w, errValidation, "invalid value for field "+part.FormName())
				return
			}
			continue
		}

		input.Reader = part
		input.Filename = part.FileName()
		input.MimeType = part.Header.Get("Content-Type")
		msg, err := h.messages.SendFile(r.Context(), input)
		part.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeErrorCode(w, errCapacityExceeded, "request body too large")
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
		return
	}
}

func applyField(input *service.SendFileInput, name, value string) bool {
	switch name {
	case "size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		input.Size = n
	case "device":
		input.Device = value
	case "ttl_seconds":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		ttl, ok := parseTTL(n)
		if !ok {
			return false
		}
		input.TTL = ttl
	}
	return true
}

// parseTTL converts ttl_seconds to a duration. Zero means no expiry.
func parseTTL(seconds int64) (time.Duration, bool) {
	if seconds < 0 || seconds > int64(maxTTL/time.Second) {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// List handles GET /api/v1/messages.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	includeDeleted, _ := strconv.ParseBool(q.Get("include_deleted"))

	out, err := h.messages.List(r.Context(), service.ListMessagesInput{
		UserID:         userID,
		Limit:          limit,
		Offset:         offset,
		IncludeDeleted: includeDeleted,
		Type:           domain.MessageType(q.Get("type")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/v1/messages/{id}.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	msg, err := h.messages.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Download handles GET /api/v1/messages/{id}/download.
func (h *MessageHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	out, err := h.messages.Download(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer out.Body.Close()

	msg := out.Message
	w.Header().Set("Content-Type", msg.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(msg.FileSizeBytes, 10))
	if msg.OriginalFilename != "" {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": msg.OriginalFilename}))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, out.Body); err != nil {
		h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("download interrupted")
	}
}

type editTextRequest struct {
	Content string `json:"content"`
}

// EditText handles PUT /api/v1/messages/{id}.
func (h *MessageHandler) EditText(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req editTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.messages.EditText(r.Context(), service.EditTextInput{
		UserID:  userID,
		ID:      chi.URLParam(r, "id"),
		Content: req.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// SoftDelete handles DELETE /api/v1/messages/{id}.
func (h *MessageHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	msg, err := h.messages.SoftDelete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Restore handles POST /api/v1/messages/{id}/restore.
func (h *MessageHandler) Restore(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	msg, err := h.messages.Restore(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// HardDelete handles DELETE /api/v1/messages/{id}/purge.
func (h *MessageHandler) HardDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	released, err := h.messages.HardDelete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"released_bytes": released})
}
