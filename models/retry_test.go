package models

import (
	"errors"
	"testing"
	"time"
)

// TestRetryPolicySucceedsEventually verifies a transient failure is
// retried until it clears.
func TestRetryPolicySucceedsEventually(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, sleep: func(time.Duration) {}}

	calls := 0
	err := p.Do("flaky", func() error {
		calls++
		if calls < 3 {
			return NewError(KindNetwork, "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestRetryPolicyExhaustsAttempts verifies the attempt bound and that
// the final error keeps its classification.
func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, sleep: func(time.Duration) {}}

	calls := 0
	err := p.Do("hopeless", func() error {
		calls++
		return NewError(KindTxFailed, "still broken")
	})
	if err == nil {
		t.Fatal("Do() expected error, got nil")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if KindOf(err) != KindTxFailed {
		t.Errorf("kind = %v, want KindTxFailed", KindOf(err))
	}
}

// TestRetryPolicyPermanentShortCircuits verifies permanent failure kinds
// are never retried.
func TestRetryPolicyPermanentShortCircuits(t *testing.T) {
	permanent := []error{
		NewError(KindStoreUnavailable, "no store"),
		NewError(KindQuotaExceeded, "disk full"),
		NewError(KindAuth, "no token"),
		NewError(KindNotFound, "missing"),
		NewError(KindHTTP, "bad request"),
	}

	for _, want := range permanent {
		p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, sleep: func(time.Duration) {}}
		calls := 0
		err := p.Do("permanent", func() error {
			calls++
			return want
		})
		if calls != 1 {
			t.Errorf("%v: calls = %d, want 1", KindOf(want), calls)
		}
		if KindOf(err) != KindOf(want) {
			t.Errorf("kind = %v, want %v", KindOf(err), KindOf(want))
		}
	}
}

// TestRetryPolicyBackoffDoubles verifies the delay sequence.
func TestRetryPolicyBackoffDoubles(t *testing.T) {
	var delays []time.Duration
	p := RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		Factor:      2,
		sleep:       func(d time.Duration) { delays = append(delays, d) },
	}

	_ = p.Do("backoff", func() error {
		return NewError(KindNetwork, "down")
	})

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("sleeps = %d, want %d", len(delays), len(want))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

// TestKindOfUnwrapsChain verifies classification survives wrapping.
func TestKindOfUnwrapsChain(t *testing.T) {
	inner := NewError(KindQuotaExceeded, "out of space")
	outer := WrapError(KindQueue, inner, "enqueue failed")

	// The outermost tag wins; the chain is still traversable.
	if KindOf(outer) != KindQueue {
		t.Errorf("kind = %v, want KindQueue", KindOf(outer))
	}
	if Retryable(outer) {
		t.Error("queue failure should not be retryable")
	}
}

// TestWrapErrorNil verifies wrapping nil stays nil.
func TestWrapErrorNil(t *testing.T) {
	if err := WrapError(KindTxFailed, nil, "no-op"); err != nil {
		t.Errorf("WrapError(nil) = %v, want nil", err)
	}
}

// TestUnknownErrorsRetryable verifies unclassified errors default to
// retryable.
func TestUnknownErrorsRetryable(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Factor: 2, sleep: func(time.Duration) {}}

	calls := 0
	_ = p.Do("untagged", func() error {
		calls++
		return errors.New("driver hiccup")
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
