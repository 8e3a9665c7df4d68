// Package ratelimit implements GitHub REST rate limit tracking and request gating.
// It monitors the X-RateLimit-Remaining and X-RateLimit-Reset headers so that an
// exhausted window is reported locally instead of burning requests that GitHub
// would reject (and count towards abuse detection).
package ratelimit

import (
	"time"
)

// Redis key templates for rate limit state storage. %s is the token key.
const (
	RedisKeyRemaining  = "github:rate_limit:%s:remaining"
	RedisKeyLimit      = "github:rate_limit:%s:limit"
	RedisKeyResetAt    = "github:rate_limit:%s:reset_at"
	RedisKeyLastUpdate = "github:rate_limit:%s:last_update"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests when remaining falls below this value
	// and the window has not reset yet.
	ThresholdCritical = 1

	// ThresholdWarning applies throttling when remaining falls below this value.
	ThresholdWarning = 100

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 500
)

// RateLimitState is the last observed rate limit window for one token.
type RateLimitState struct {
	// Remaining is the number of requests left in the window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// Limit is the window size (X-RateLimit-Limit).
	Limit int `json:"limit"`

	// ResetAt is when the window resets (X-RateLimit-Reset, epoch seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// DefaultState is assumed until the first response for a token is observed.
func DefaultState() *RateLimitState {
	now := time.Now()
	return &RateLimitState{
		Remaining:  5000,
		Limit:      5000,
		ResetAt:    now.Add(time.Hour),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be refused locally.
// A window whose reset time has passed never blocks.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
