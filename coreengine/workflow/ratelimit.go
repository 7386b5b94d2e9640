// Rate limiting for session operations using a sliding window algorithm.
//
// Features:
//   - Per-owner limits on session creation and answer submission
//   - Per-operation overrides
//   - Sliding window with sub-buckets for accuracy
//   - Thread-safe implementation
package workflow

import (
	"sync"
	"time"
)

// =============================================================================
// Rate Limit Config & Result
// =============================================================================

// RateLimitConfig defines rate limiting thresholds.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 60,
		RequestsPerHour:   600,
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool    `json:"allowed"`
	LimitType  string  `json:"limit_type,omitempty"` // "minute", "hour"
	Current    int     `json:"current"`
	Limit      int     `json:"limit"`
	Remaining  int     `json:"remaining"`
	RetryAfter float64 `json:"retry_after,omitempty"` // Seconds until retry allowed
}

func allowedResult(remaining int) *RateLimitResult {
	return &RateLimitResult{Allowed: true, Remaining: remaining}
}

func exceededResult(limitType string, current, limit int, retryAfter float64) *RateLimitResult {
	return &RateLimitResult{
		Allowed:    false,
		LimitType:  limitType,
		Current:    current,
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// =============================================================================
// Sliding Window
// =============================================================================

// SlidingWindow implements a sliding window counter for rate limiting.
// Uses sub-buckets for accurate sliding window calculation.
type SlidingWindow struct {
	windowSeconds int
	bucketCount   int
	buckets       map[int64]int
	mu            sync.RWMutex
}

// NewSlidingWindow creates a new sliding window.
func NewSlidingWindow(windowSeconds int) *SlidingWindow {
	return &SlidingWindow{
		windowSeconds: windowSeconds,
		bucketCount:   10,
		buckets:       make(map[int64]int),
	}
}

// Record records a request and returns the current count.
func (w *SlidingWindow) Record(timestamp float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	bucketSize := float64(w.windowSeconds) / float64(w.bucketCount)
	currentBucket := int64(timestamp / bucketSize)

	// Clean up old buckets
	minBucket := currentBucket - int64(w.bucketCount)
	for b := range w.buckets {
		if b < minBucket {
			delete(w.buckets, b)
		}
	}

	w.buckets[currentBucket]++
	return w.getCountLocked(timestamp)
}

// GetCount returns the current count in the sliding window.
func (w *SlidingWindow) GetCount(timestamp float64) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.getCountLocked(timestamp)
}

// getCountLocked returns count (must hold lock).
func (w *SlidingWindow) getCountLocked(timestamp float64) int {
	bucketSize := float64(w.windowSeconds) / float64(w.bucketCount)
	currentBucket := int64(timestamp / bucketSize)
	minBucket := currentBucket - int64(w.bucketCount)

	count := 0
	for bucket, bucketCount := range w.buckets {
		if bucket >= minBucket {
			count += bucketCount
		}
	}
	return count
}

// TimeUntilSlotAvailable calculates seconds until a slot becomes available.
func (w *SlidingWindow) TimeUntilSlotAvailable(timestamp float64, limit int) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.getCountLocked(timestamp) < limit {
		return 0.0
	}

	bucketSize := float64(w.windowSeconds) / float64(w.bucketCount)
	currentBucket := int64(timestamp / bucketSize)
	minBucket := currentBucket - int64(w.bucketCount)

	// Oldest bucket in the window decides when the next slot frees up.
	oldest := currentBucket
	found := false
	for b, c := range w.buckets {
		if b >= minBucket && c > 0 && (!found || b < oldest) {
			oldest = b
			found = true
		}
	}
	if !found {
		return 0.0
	}

	bucketEnd := float64(oldest+1) * bucketSize
	result := bucketEnd - timestamp + float64(w.windowSeconds)
	if result < 0 {
		return 0.0
	}
	return result
}

// IsEmpty returns true if window has no activity.
func (w *SlidingWindow) IsEmpty() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.buckets) == 0
}

// =============================================================================
// Rate Limiter
// =============================================================================

// windowKey identifies a rate limit window.
type windowKey struct {
	ownerID    string
	operation  string
	windowType string // "minute", "hour"
}

// RateLimiter limits session operations per owner using sliding windows.
// Thread-safe. Operation configs override owner configs.
type RateLimiter struct {
	defaultConfig    *RateLimitConfig
	ownerConfigs     map[string]*RateLimitConfig
	operationConfigs map[string]*RateLimitConfig
	windows          map[windowKey]*SlidingWindow
	mu               sync.RWMutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(defaultConfig *RateLimitConfig) *RateLimiter {
	if defaultConfig == nil {
		defaultConfig = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		defaultConfig:    defaultConfig,
		ownerConfigs:     make(map[string]*RateLimitConfig),
		operationConfigs: make(map[string]*RateLimitConfig),
		windows:          make(map[windowKey]*SlidingWindow),
	}
}

// SetOwnerLimits sets rate limits for a specific owner.
func (r *RateLimiter) SetOwnerLimits(ownerID string, config *RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ownerConfigs[ownerID] = config
}

// SetOperationLimits sets rate limits for a specific operation.
// Operation limits override owner limits for that operation.
func (r *RateLimiter) SetOperationLimits(operation string, config *RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operationConfigs[operation] = config
}

// GetConfig returns the effective rate limit config.
func (r *RateLimiter) GetConfig(ownerID, operation string) *RateLimitConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if operation != "" {
		if cfg, ok := r.operationConfigs[operation]; ok {
			return cfg
		}
	}
	if cfg, ok := r.ownerConfigs[ownerID]; ok {
		return cfg
	}
	return r.defaultConfig
}

// Check checks if a request is within rate limits, recording it when allowed.
func (r *RateLimiter) Check(ownerID, operation string) *RateLimitResult {
	now := float64(time.Now().UnixNano()) / 1e9 // seconds with fractional part
	config := r.GetConfig(ownerID, operation)

	r.mu.Lock()
	defer r.mu.Unlock()

	checks := []struct {
		windowType    string
		windowSeconds int
		limit         int
	}{
		{"minute", 60, config.RequestsPerMinute},
		{"hour", 3600, config.RequestsPerHour},
	}

	for _, check := range checks {
		if check.limit <= 0 {
			continue // No limit for this window
		}

		key := windowKey{ownerID, operation, check.windowType}
		window, exists := r.windows[key]
		if !exists {
			window = NewSlidingWindow(check.windowSeconds)
			r.windows[key] = window
		}

		current := window.GetCount(now)
		if current >= check.limit {
			retryAfter := window.TimeUntilSlotAvailable(now, check.limit)
			return exceededResult(check.windowType, current, check.limit, retryAfter)
		}
	}

	// All checks passed, record the request
	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}
		key := windowKey{ownerID, operation, check.windowType}
		if _, exists := r.windows[key]; !exists {
			r.windows[key] = NewSlidingWindow(check.windowSeconds)
		}
		r.windows[key].Record(now)
	}

	remaining := config.RequestsPerMinute
	minuteKey := windowKey{ownerID, operation, "minute"}
	if window, exists := r.windows[minuteKey]; exists {
		remaining = config.RequestsPerMinute - window.GetCount(now)
		if remaining < 0 {
			remaining = 0
		}
	}
	return allowedResult(remaining)
}

// ResetOwner resets all rate limit windows for an owner.
func (r *RateLimiter) ResetOwner(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key := range r.windows {
		if key.ownerID == ownerID {
			delete(r.windows, key)
			count++
		}
	}
	return count
}

// CleanupExpired removes idle window data.
// Should be called periodically to prevent memory growth.
func (r *RateLimiter) CleanupExpired() int {
	now := float64(time.Now().UnixNano()) / 1e9
	cleaned := 0

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, window := range r.windows {
		if window.GetCount(now) == 0 {
			delete(r.windows, key)
			cleaned++
		}
	}
	return cleaned
}
