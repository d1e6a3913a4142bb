package payments

import (
	"math"
	"time"

	"github.com/platinummonkey/monedita/pkg/billing"
)

// RetryConfig configures how declined charges are retried
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       billing.MaxRetries,
		InitialDelay:      24 * time.Hour,
		MaxDelay:          72 * time.Hour,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff between charge retries
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy. MaxAttempts never exceeds billing.MaxRetries.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 || config.MaxAttempts > billing.MaxRetries {
		config.MaxAttempts = billing.MaxRetries
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 24 * time.Hour
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 72 * time.Hour
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a record that has been retried retryCount times gets another attempt
func (p *RetryPolicy) ShouldRetry(retryCount int) bool {
	return retryCount < p.config.MaxAttempts
}

// NextRetryDelay returns the wait before the next attempt.
// delay = initialDelay * multiplier^retryCount, capped at MaxDelay.
func (p *RetryPolicy) NextRetryDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(retryCount))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// NextRetryAt returns when the next attempt is due, or nil when retries are exhausted
func (p *RetryPolicy) NextRetryAt(now time.Time, retryCount int) *time.Time {
	if !p.ShouldRetry(retryCount) {
		return nil
	}
	next := now.Add(p.NextRetryDelay(retryCount))
	return &next
}
