package retry

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		Attempts: 4,
		Delays:   []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond},
		MaxDelay: 10 * time.Millisecond,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), "test", fastPolicy(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected 'ok', got %q", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "test", fastPolicy(), func() (string, error) {
		calls++
		return "", fmt.Errorf("some other error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retry for non-retryable), got %d", calls)
	}
}

func TestDo_RetryOn429ThenSucceed(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), "test", fastPolicy(), func() (string, error) {
		calls++
		if calls <= 2 {
			return "", fmt.Errorf("status 429: RESOURCE_EXHAUSTED")
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Fatalf("expected 'recovered', got %q", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAndReturnsErrExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "test", fastPolicy(), func() (string, error) {
		calls++
		return "", fmt.Errorf("status 429: RESOURCE_EXHAUSTED")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != len(fastPolicy().Delays)+1 {
		t.Fatalf("expected %d calls, got %d", len(fastPolicy().Delays)+1, calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, "test", fastPolicy(), func() (string, error) {
		calls++
		return "", fmt.Errorf("status 429: RESOURCE_EXHAUSTED")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
