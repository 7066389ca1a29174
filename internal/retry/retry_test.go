package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2.0}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	if result.Err != nil || result.Attempts != 1 || calls != 1 {
		t.Fatalf("result = %+v, calls = %d", result, calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("Err = %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	result := Do(context.Background(), fastConfig(), func() error { return boom })
	if !errors.Is(result.Err, boom) {
		t.Fatalf("Err = %v, want boom", result.Err)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for a permanent error", calls)
	}
	if !IsPermanent(result.Err) {
		t.Fatalf("Err = %v, want permanent", result.Err)
	}
}

func TestDo_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Do(ctx, fastConfig(), func() error { return errors.New("never runs") })
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", result.Err)
	}
}

func TestDoWithValue_KeepsLastValue(t *testing.T) {
	calls := 0
	value, result := DoWithValue(context.Background(), fastConfig(), func() (int, error) {
		calls++
		if calls < 2 {
			return -1, errors.New("transient")
		}
		return 42, nil
	})
	if result.Err != nil || value != 42 {
		t.Fatalf("value = %d, err = %v", value, result.Err)
	}
}

func TestBackoff_GrowsAndClamps(t *testing.T) {
	initial, max := 10*time.Millisecond, 40*time.Millisecond

	if got := Backoff(1, initial, max, 2.0); got != 10*time.Millisecond {
		t.Fatalf("attempt 1 = %v", got)
	}
	if got := Backoff(2, initial, max, 2.0); got != 20*time.Millisecond {
		t.Fatalf("attempt 2 = %v", got)
	}
	if got := Backoff(5, initial, max, 2.0); got != 40*time.Millisecond {
		t.Fatalf("attempt 5 = %v, want clamped to max", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(Permanent(errors.New("x"))) {
		t.Fatal("permanent errors are not retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
	if !IsRetryable(errors.New("transient")) {
		t.Fatal("plain errors are retryable")
	}
}
