package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleeper collects requested waits without sleeping.
func recordingSleeper(waits *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func retryAll(error) bool { return true }

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	s := RetrySettings{MaxAttempts: 3, Wait: 2 * time.Second, Exponential: true, Multiplier: 2}
	var waits []time.Duration
	calls := 0

	err := Retry(context.Background(), s, recordingSleeper(&waits), retryAll, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(waits) != 0 {
		t.Errorf("waits = %v, want none", waits)
	}
}

func TestRetryRecoversWithinBudget(t *testing.T) {
	s := RetrySettings{MaxAttempts: 3, Wait: 2 * time.Second, Exponential: true, Multiplier: 2}
	var waits []time.Duration
	calls := 0

	err := Retry(context.Background(), s, recordingSleeper(&waits), retryAll, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	s := RetrySettings{MaxAttempts: 3, Wait: 2 * time.Second, Exponential: true, Multiplier: 2}
	var waits []time.Duration
	calls := 0
	sentinel := errors.New("persistent")

	err := Retry(context.Background(), s, recordingSleeper(&waits), retryAll, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry() = %v, want %v", err, sentinel)
	}
	// MaxAttempts counts the first call: 3 attempts total, 2 waits between.
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(waits) != 2 {
		t.Fatalf("waits = %v, want 2 entries", waits)
	}
}

func TestRetryExponentialBackoff(t *testing.T) {
	s := RetrySettings{MaxAttempts: 4, Wait: 2 * time.Second, Exponential: true, Multiplier: 2}
	var waits []time.Duration

	Retry(context.Background(), s, recordingSleeper(&waits), retryAll, func() error {
		return errors.New("boom")
	})

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("waits[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestRetryFixedWait(t *testing.T) {
	s := RetrySettings{MaxAttempts: 3, Wait: time.Second, Exponential: false}
	var waits []time.Duration

	Retry(context.Background(), s, recordingSleeper(&waits), retryAll, func() error {
		return errors.New("boom")
	})

	for i, w := range waits {
		if w != time.Second {
			t.Errorf("waits[%d] = %v, want 1s", i, w)
		}
	}
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	s := RetrySettings{MaxAttempts: 3, Wait: 2 * time.Second, Exponential: true, Multiplier: 2}
	var waits []time.Duration
	calls := 0
	fatal := errors.New("http 400")

	err := Retry(context.Background(), s, recordingSleeper(&waits), func(err error) bool {
		return !errors.Is(err, fatal)
	}, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Retry() = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a non-retryable error", calls)
	}
	if len(waits) != 0 {
		t.Errorf("waits = %v, want none", waits)
	}
}

func TestRetryContextCancelledDuringWait(t *testing.T) {
	s := RetrySettings{MaxAttempts: 3, Wait: 2 * time.Second, Exponential: true, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	err := Retry(ctx, s, sleep, retryAll, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no attempt after cancellation)", calls)
	}
}

func TestRetrySingleAttempt(t *testing.T) {
	s := RetrySettings{MaxAttempts: 1, Wait: 2 * time.Second}
	calls := 0
	sentinel := errors.New("boom")

	err := Retry(context.Background(), s, nil, retryAll, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry() = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSleepContext(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		if err := SleepContext(context.Background(), time.Millisecond); err != nil {
			t.Errorf("SleepContext() = %v, want nil", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := SleepContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
			t.Errorf("SleepContext() = %v, want context.Canceled", err)
		}
	})
}
