package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/service"
	"github.com/prn-tf/sendme/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrMessageNotFound, http.StatusNotFound},
		{storage.NewError("load", "k", storage.ErrBlobNotFound), http.StatusNotFound},
		{domain.NewDomainError(domain.ErrCapacityExceeded, "full", ""), http.StatusRequestEntityTooLarge},
		{domain.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{domain.ErrEmptyContent, http.StatusBadRequest},
		{domain.ErrAccessDenied, http.StatusForbidden},
		{fmt.Errorf("%w: bad signature", domain.ErrTokenInvalid), http.StatusUnauthorized},
		{domain.NewDomainError(domain.ErrUserAlreadyExists, "taken", "alice"), http.StatusConflict},
		{service.ErrTooManyAttempts, http.StatusTooManyRequests},
		{service.ErrUploadTimeout, http.StatusRequestTimeout},
		{storage.NewError("save", "k", errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err).HTTPStatusCode, tt.err.Error())
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "limits are per user")

	assert.Zero(t, rl.Sweep(time.Hour))
	assert.Equal(t, 2, rl.Sweep(0))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUserID(req.Context(), 7))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal(t, "abc.def", bearerToken(req))

	req.Header.Set("Authorization", "Basic Zm9v")
	assert.Empty(t, bearerToken(req))
}
