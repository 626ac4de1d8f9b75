package graph

import (
	"context"
	"errors"
	"strings"
	"time"
)

// BackoffStrategy defines how the delay grows between attempts.
type BackoffStrategy int

const (
	FixedBackoff BackoffStrategy = iota
	ExponentialBackoff
	LinearBackoff
)

// ParseBackoffStrategy maps "fixed", "exponential" or "linear" to a strategy.
func ParseBackoffStrategy(s string) (BackoffStrategy, bool) {
	switch strings.ToLower(s) {
	case "fixed", "":
		return FixedBackoff, true
	case "exponential":
		return ExponentialBackoff, true
	case "linear":
		return LinearBackoff, true
	}
	return FixedBackoff, false
}

// RetryPolicy retries a failing stage within one run before the failure is
// reported. A stage that still fails stays uncompleted and is retried again
// when the session is resumed.
type RetryPolicy struct {
	MaxRetries      int
	BackoffStrategy BackoffStrategy
	// BaseDelay defaults to one second.
	BaseDelay time.Duration
	// RetryableErrors are substrings matched against the error message.
	// An empty list retries every error.
	RetryableErrors []string
}

func (p *RetryPolicy) attempts() int {
	if p == nil || p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

func (p *RetryPolicy) retryable(err error) bool {
	if p == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStagePanic) {
		return false
	}
	if len(p.RetryableErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, pattern := range p.RetryableErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// delay returns the wait before retry number attempt (zero based).
func (p *RetryPolicy) delay(attempt int) time.Duration {
	if p == nil {
		return 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	switch p.BackoffStrategy {
	case ExponentialBackoff:
		// 1x, 2x, 4x, 8x, ...
		return base * time.Duration(1<<attempt)
	case LinearBackoff:
		// 1x, 2x, 3x, 4x, ...
		return base * time.Duration(attempt+1)
	default:
		return base
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
