package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_Fits(t *testing.T) {
	tests := []struct {
		name  string
		used  int64
		max   int64
		bytes int64
		want  bool
	}{
		{name: "exact fit", used: 900, max: 1000, bytes: 100, want: true},
		{name: "one over", used: 900, max: 1000, bytes: 101, want: false},
		{name: "zero bytes", used: 1000, max: 1000, bytes: 0, want: true},
		{name: "huge request does not wrap", used: 900, max: 1000, bytes: math.MaxInt64 - 100, want: false},
		{name: "max int64 request", used: 1, max: 1000, bytes: math.MaxInt64, want: false},
		{name: "max int64 quota", used: math.MaxInt64 - 10, max: math.MaxInt64, bytes: 10, want: true},
		{name: "used above max", used: 1200, max: 1000, bytes: 0, want: false},
		{name: "negative bytes", used: 0, max: 1000, bytes: -1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{UsedQuotaBytes: tt.used, MaxQuotaBytes: tt.max}
			assert.Equal(t, tt.want, u.Fits(tt.bytes))
		})
	}
}

func TestUser_AvailableBytes(t *testing.T) {
	assert.EqualValues(t, 100, (&User{UsedQuotaBytes: 900, MaxQuotaBytes: 1000}).AvailableBytes())
	assert.Zero(t, (&User{UsedQuotaBytes: 1200, MaxQuotaBytes: 1000}).AvailableBytes())
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("alice_01"))
	assert.ErrorIs(t, ValidateUsername("ab"), ErrUsernameLength)
	assert.ErrorIs(t, ValidateUsername("abcdefghijklmnopqrstu"), ErrUsernameLength)
	assert.ErrorIs(t, ValidateUsername("bad name"), ErrUsernameFormat)
}
