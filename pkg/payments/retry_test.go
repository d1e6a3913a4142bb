package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 24 * time.Hour},
		{1, 48 * time.Hour},
		{2, 72 * time.Hour},
		{5, 72 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.NextRetryDelay(tt.retryCount), "retryCount=%d", tt.retryCount)
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	assert.True(t, policy.ShouldRetry(0))
	assert.True(t, policy.ShouldRetry(2))
	assert.False(t, policy.ShouldRetry(3))

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, policy.NextRetryAt(now, 3))
	assert.Equal(t, now.Add(24*time.Hour), *policy.NextRetryAt(now, 0))
}

func TestNewRetryPolicy_ClampsConfig(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 10})

	assert.False(t, policy.ShouldRetry(3), "attempts are capped at the billing maximum")
	assert.Equal(t, 24*time.Hour, policy.NextRetryDelay(0))
}
