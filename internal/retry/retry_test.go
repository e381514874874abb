package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aryanshm/foliage/internal/errs"
)

func TestRetriesTransientThenSucceeds(t *testing.T) {
	e := &Executor{
		MaxAttempts:         3,
		BaseDelay:           10 * time.Millisecond,
		Multiplier:          2.0,
		RetryableSubstrings: DefaultRetryableSubstrings,
	}

	calls := 0
	start := time.Now()
	err := e.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("open keyring: %w", errs.ErrNotReady)
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 invocations, got %d", calls)
	}
	// Two waits: base and base×multiplier.
	if min := 30 * time.Millisecond; elapsed < min {
		t.Errorf("expected cumulative wait >= %v, got %v", min, elapsed)
	}
}

func TestNonRetryablePropagatesImmediately(t *testing.T) {
	e := NewExecutor()

	calls := 0
	start := time.Now()
	err := e.Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("bad tag: %w", errs.ErrValidation)
	})
	elapsed := time.Since(start)

	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single invocation, got %d", calls)
	}
	if elapsed >= DefaultBaseDelay {
		t.Errorf("non-retryable failure must not wait, took %v", elapsed)
	}
}

func TestExhaustedBudgetReturnsLastError(t *testing.T) {
	e := &Executor{
		MaxAttempts:         3,
		BaseDelay:           time.Millisecond,
		Multiplier:          1.5,
		RetryableSubstrings: DefaultRetryableSubstrings,
	}

	calls := 0
	err := e.Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, errs.ErrNotReady)
	})

	if calls != 3 {
		t.Errorf("expected 3 invocations, got %d", calls)
	}
	if !errors.Is(err, errs.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err == nil || err.Error() != "attempt 3: "+errs.ErrNotReady.Error() {
		t.Errorf("expected the last attempt's error, got %v", err)
	}
}

func TestContextCancelStopsRetrying(t *testing.T) {
	e := &Executor{
		MaxAttempts:         10,
		BaseDelay:           50 * time.Millisecond,
		Multiplier:          2.0,
		RetryableSubstrings: DefaultRetryableSubstrings,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := e.Do(ctx, func(context.Context) error {
		calls++
		return errs.ErrNotReady
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if calls > 2 {
		t.Errorf("expected retrying to stop on cancel, got %d calls", calls)
	}
}
