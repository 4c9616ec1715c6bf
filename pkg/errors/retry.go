package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines how opening an external source is retried
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the first try (0 = none, -1 = forever)
	MaxAttempts int
	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between retries
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after every retry
	BackoffMultiplier float64
	// Jitter randomizes each wait by up to this fraction (0.0-1.0)
	Jitter float64
	// RetriableFunc decides if an error is worth another attempt
	RetriableFunc func(error) bool
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetriableFunc:     IsRetriable,
	}
}

// NoRetryPolicy returns a policy that tries exactly once
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 0}
}

// RetryableOperation is a function that can be retried
type RetryableOperation func(ctx context.Context) error

// RetryCallback is invoked after every failed attempt. nextBackoff is zero
// when no further attempt will be made.
type RetryCallback func(attempt int, err error, nextBackoff time.Duration)

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Success      bool
	Attempts     int
	LastError    error
	TotalBackoff time.Duration
}

// Execute runs operation until it succeeds, fails with a non-retriable
// error, runs out of attempts or ctx is done
func (rp *RetryPolicy) Execute(ctx context.Context, operation RetryableOperation) *RetryResult {
	return rp.ExecuteWithCallback(ctx, operation, nil)
}

// ExecuteWithCallback is Execute with a hook on every failure
func (rp *RetryPolicy) ExecuteWithCallback(
	ctx context.Context,
	operation RetryableOperation,
	callback RetryCallback,
) *RetryResult {
	result := &RetryResult{}

	for attempt := 0; ; attempt++ {
		result.Attempts++

		err := operation(ctx)
		if err == nil {
			result.Success = true
			return result
		}
		result.LastError = err

		if !rp.ShouldRetry(err, attempt+1) {
			if callback != nil {
				callback(attempt+1, err, 0)
			}
			return result
		}

		backoff := rp.calculateBackoff(attempt)
		result.TotalBackoff += backoff
		if callback != nil {
			callback(attempt+1, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			return result
		case <-timer.C:
		}
	}
}

// ShouldRetry reports whether another attempt follows a failure on the
// given 1-based attempt number
func (rp *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if rp.MaxAttempts >= 0 && attempt > rp.MaxAttempts {
		return false
	}
	if rp.RetriableFunc != nil {
		return rp.RetriableFunc(err)
	}
	return true
}

// NextBackoff returns the backoff duration for the next attempt
func (rp *RetryPolicy) NextBackoff(attempt int) time.Duration {
	return rp.calculateBackoff(attempt)
}

func (rp *RetryPolicy) calculateBackoff(attempt int) time.Duration {
	multiplier := rp.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := float64(rp.InitialBackoff) * math.Pow(multiplier, float64(attempt))

	if rp.MaxBackoff > 0 && backoff > float64(rp.MaxBackoff) {
		backoff = float64(rp.MaxBackoff)
	}

	if rp.Jitter > 0 {
		jitterAmount := backoff * rp.Jitter
		backoff += (rand.Float64()*2 - 1) * jitterAmount
		if backoff < 0 {
			backoff = float64(rp.InitialBackoff)
		}
	}

	return time.Duration(backoff)
}
