package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not connected", NotConnected(), true},
		{"timeout", Timeout(errors.New("deadline exceeded")), true},
		{"server error", ServerError(503, nil), true},
		{"rate limited", RateLimited(time.Second), true},
		{"client error", ClientError(401, nil), false},
		{"plain error", errors.New("validation failed"), false},
		{"nil", nil, false},
		{"wrapped net error", fmt.Errorf("send: %w", ServerError(500, nil)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestSuggestedRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, SuggestedRetryDelay(RateLimited(30*time.Second)))
	assert.Zero(t, SuggestedRetryDelay(ServerError(502, nil)))
	assert.Zero(t, SuggestedRetryDelay(errors.New("nope")))
}

func TestNetError_Error(t *testing.T) {
	assert.Equal(t, "not_connected", NotConnected().Error())
	assert.Equal(t, "server_error (status 503)", ServerError(503, nil).Error())
	assert.Equal(t, "timeout: dial tcp", Timeout(errors.New("dial tcp")).Error())
}

func TestNetError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	assert.ErrorIs(t, ServerError(500, inner), inner)
}
