// Package workflow provides RetryPolicy - correction attempt accounting.
//
// The cap is a single process-wide value injected at construction. Every
// place retry counts are compared uses the same policy instance, so the
// cap cannot be enforced in one code path and missed in another.
package workflow

// DefaultMaxRetryAttempts is the default correction attempt cap.
const DefaultMaxRetryAttempts = 3

// RetryPolicy decides whether another correction attempt may be consumed.
// Pure accounting: no state of its own beyond the immutable cap.
type RetryPolicy struct {
	maxAttempts int
}

// NewRetryPolicy creates a policy with the given cap.
// A cap below 1 falls back to DefaultMaxRetryAttempts.
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxRetryAttempts
	}
	return &RetryPolicy{maxAttempts: maxAttempts}
}

// MaxAttempts returns the immutable cap.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// CanAttempt returns true if a session with the given consumed retry count
// may begin another correction attempt.
func (p *RetryPolicy) CanAttempt(retryCount int) bool {
	return retryCount < p.maxAttempts
}

// Remaining returns how many attempts are left, never below zero.
func (p *RetryPolicy) Remaining(retryCount int) int {
	remaining := p.maxAttempts - retryCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
