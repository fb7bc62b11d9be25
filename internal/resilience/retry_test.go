package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/loreforge/pkg/backend"
)

var errRateLimited = backend.NewError(backend.KindRateLimit, "direct", "character.create", "quota", nil)

// recordSleep returns a sleep function that records delays instead of
// waiting.
func recordSleep(delays *[]time.Duration) RetryOption {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestWithRetry_NonRateLimitCalledOnce(t *testing.T) {
	calls := 0
	var delays []time.Duration
	_, err := WithRetry(context.Background(), 5, time.Second, func(context.Context) (int, error) {
		calls++
		return 0, errTest
	}, recordSleep(&delays))

	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(delays) != 0 {
		t.Errorf("delays = %v, want none", delays)
	}
}

func TestWithRetry_RateLimitExhaustsAttempts(t *testing.T) {
	calls := 0
	var delays []time.Duration
	_, err := WithRetry(context.Background(), 4, 100*time.Millisecond, func(context.Context) (string, error) {
		calls++
		return "", errRateLimited
	}, recordSleep(&delays))

	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("err = %v, want last rate-limit error", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay before attempt %d = %v, want %v", i+2, delays[i], want[i])
		}
		if i > 0 && delays[i] <= delays[i-1] {
			t.Errorf("delays must strictly increase: %v", delays)
		}
	}
}

func TestWithRetry_RecoversAfterRateLimit(t *testing.T) {
	calls := 0
	var attempts []int
	v, err := WithRetry(context.Background(), 3, time.Millisecond, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errRateLimited
		}
		return "ok", nil
	}, recordSleep(new([]time.Duration)), OnRetry(func(attempt int, _ time.Duration, err error) {
		if !backend.IsRateLimit(err) {
			t.Errorf("OnRetry err = %v, want rate limit", err)
		}
		attempts = append(attempts, attempt)
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("v = %q, want ok", v)
	}
	if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 3 {
		t.Errorf("attempts = %v, want [2 3]", attempts)
	}
}

func TestWithRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithRetry(ctx, 5, time.Hour, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errRateLimited
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("err = %v, want to also carry the last error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = WithRetry(context.Background(), 0, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, errRateLimited
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithLinearRetry_RetriesAnyError(t *testing.T) {
	calls := 0
	var delays []time.Duration
	_, err := WithLinearRetry(context.Background(), 3, time.Second, func(context.Context) (bool, error) {
		calls++
		return false, errTest
	}, recordSleep(&delays))
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != 2 || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}
