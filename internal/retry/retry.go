// Package retry absorbs a known race in signer warm-up.
//
// Right after sign-in the signing state may take tens to hundreds of
// milliseconds to become usable; operations hitting that window fail with a
// recognizable message. The executor retries exactly those failures with
// geometric backoff. It is not a general-purpose retry policy: validation
// and permission failures propagate immediately.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aryanshm/foliage/internal/errs"
)

// Defaults sized for a warm-up measured in hundreds of milliseconds.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMultiplier  = 2.0
)

// DefaultRetryableSubstrings matches the warm-up failure modes.
var DefaultRetryableSubstrings = []string{
	errs.ErrNotReady.Error(),
	"signing key not initialized",
}

// Executor retries an operation whose error message marks it transient.
type Executor struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	Multiplier          float64
	RetryableSubstrings []string
}

// NewExecutor returns an executor with the default warm-up policy.
func NewExecutor() *Executor {
	return &Executor{
		MaxAttempts:         DefaultMaxAttempts,
		BaseDelay:           DefaultBaseDelay,
		Multiplier:          DefaultMultiplier,
		RetryableSubstrings: DefaultRetryableSubstrings,
	}
}

// Do runs op, retrying transient failures with delays of
// BaseDelay × Multiplier^(attempt−1), up to MaxAttempts invocations.
// Non-matching errors propagate immediately without any delay. An exhausted
// budget returns the operation's last error.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := 0
	delay := e.BaseDelay
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		attempts++
		if attempts >= e.MaxAttempts {
			return 0, true
		}
		next := delay
		delay = time.Duration(float64(delay) * e.Multiplier)
		return next, false
	})

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if e.retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (e *Executor) retryable(err error) bool {
	msg := err.Error()
	for _, substr := range e.RetryableSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
