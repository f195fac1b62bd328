package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/service"
	"github.com/prn-tf/sendme/internal/storage"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError pairs an error code with its HTTP status.
type APIError struct {
	Code           string
	HTTPStatusCode int
}

var (
	errNotFound            = APIError{"NotFound", http.StatusNotFound}
	errConstraintViolation = APIError{"ConstraintViolation", http.StatusConflict}
	errCapacityExceeded    = APIError{"CapacityExceeded", http.StatusRequestEntityTooLarge}
	errValidation          = APIError{"ValidationError", http.StatusBadRequest}
	errAccessDenied        = APIError{"AccessDenied", http.StatusForbidden}
	errUnauthorized        = APIError{"Unauthorized", http.StatusUnauthorized}
	errTooManyRequests     = APIError{"TooManyRequests", http.StatusTooManyRequests}
	errTimeout             = APIError{"RequestTimeout", http.StatusRequestTimeout}
	errStorage             = APIError{"StorageError", http.StatusInternalServerError}
	errInternal            = APIError{"InternalError", http.StatusInternalServerError}
)

// classify maps service, domain and storage errors to API errors.
func classify(err error) APIError {
	switch {
	case errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, storage.ErrBlobNotFound):
		return errNotFound
	case errors.Is(err, domain.ErrUserAlreadyExists),
		errors.Is(err, domain.ErrMessagePurging),
		errors.Is(err, domain.ErrMessageNotDeleted):
		return errConstraintViolation
	case errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrFileTooLarge):
		return errCapacityExceeded
	case domain.IsValidation(err),
		errors.Is(err, domain.ErrInvalidOTP):
		return errValidation
	case errors.Is(err, domain.ErrAccessDenied),
		errors.Is(err, domain.ErrUserNotVerified):
		return errAccessDenied
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrTokenInvalid),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenNotFound):
		return errUnauthorized
	case errors.Is(err, service.ErrTooManyAttempts):
		return errTooManyRequests
	case errors.Is(err, service.ErrUploadTimeout):
		return errTimeout
	case storage.IsStorageError(err):
		return errStorage
	default:
		return errInternal
	}
}

// writeError writes err as a JSON error response.
// Internal failures are reported without their details.
func writeError(w http.ResponseWriter, err error) {
	apiErr := classify(err)
	msg := err.Error()
	if apiErr.HTTPStatusCode >= http.StatusInternalServerError {
		msg = http.StatusText(apiErr.HTTPStatusCode)
	}
	writeErrorCode(w, apiErr, msg)
}

func writeErrorCode(w http.ResponseWriter, apiErr APIError, msg string) {
	writeJSON(w, apiErr.HTTPStatusCode, ErrorResponse{Error: apiErr.Code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body of at most 1MB into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorCode(w, errValidation, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
