// Package retry decides whether a failed queue delivery is redelivered and
// how long it waits first.
package retry

import (
	"errors"
	"math"
	"time"

	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

// RetryPolicy defines redelivery of failed jobs.
type RetryPolicy interface {
	// ShouldRetry reports whether err warrants another delivery.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before delivery attempt+1.
	// attempt is the number of the delivery that just failed, starting at 1.
	GetBackoffInterval(attempt int) time.Duration
	GetMaxAttempts() int
}

// ExponentialPolicy retries batch-fatal, retryable and temporary errors with
// exponential backoff capped at maxInterval.
type ExponentialPolicy struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	factor          float64
}

// NewExponentialPolicy creates an ExponentialPolicy. A factor below 1 yields a fixed interval.
func NewExponentialPolicy(maxAttempts int, initialInterval, maxInterval time.Duration, factor float64) *ExponentialPolicy {
	if factor < 1 {
		factor = 1
	}
	if maxInterval < initialInterval {
		maxInterval = initialInterval
	}
	return &ExponentialPolicy{
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
		factor:          factor,
	}
}

// NewPolicyFromConfig builds the queue policy from queue.retry.
func NewPolicyFromConfig(cfg *config.Config) RetryPolicy {
	rc := cfg.Caseflow.Queue.Retry
	return NewExponentialPolicy(rc.MaxAttempts,
		time.Duration(rc.InitialInterval)*time.Millisecond,
		time.Duration(rc.MaxInterval)*time.Millisecond,
		rc.Factor)
}

// GetMaxAttempts returns the maximum number of deliveries of one job.
// Returns: The maximum number of attempts.
func (p *ExponentialPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry determines if a failed delivery is redelivered.
// Batch-fatal errors, retryable BatchErrors and temporary errors qualify.
// err: The error returned by the job handler.
// Returns: true if the job should be delivered again, false otherwise.
func (p *ExponentialPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if exception.IsBatchFatal(err) {
		return true
	}
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}
	return exception.IsTemporary(err)
}

// GetBackoffInterval returns the wait before the next delivery.
// attempt: The number of the delivery that just failed, starting from 1.
// Returns: initialInterval * factor^(attempt-1), capped at maxInterval.
func (p *ExponentialPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.initialInterval) * math.Pow(p.factor, float64(attempt-1))
	if d > float64(p.maxInterval) {
		return p.maxInterval
	}
	return time.Duration(d)
}

var _ RetryPolicy = (*ExponentialPolicy)(nil)
