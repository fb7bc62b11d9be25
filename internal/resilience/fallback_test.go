package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/loreforge/pkg/backend"
)

func TestFallbackGroup_PrimaryWins(t *testing.T) {
	fg := NewFallbackGroup("direct", "direct", FallbackConfig{})
	fg.AddFallback("llm", "llm")

	var called []string
	err := fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "direct" {
		t.Fatalf("called = %v, want [direct]", called)
	}
	if names := fg.Names(); len(names) != 2 || names[1] != "llm" {
		t.Errorf("Names = %v", names)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
}

func TestExecuteWithResult_AllFailKeepsCause(t *testing.T) {
	fg := NewFallbackGroup("rest", "rest", FallbackConfig{})
	fg.AddFallback("llm", "llm")

	cause := backend.NewError(backend.KindRateLimit, "llm", "npc-generator", "slow down", nil)
	_, err := ExecuteWithResult(fg, func(v string) (int, error) {
		if v == "llm" {
			return 0, cause
		}
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !backend.IsRateLimit(err) {
		t.Fatal("last cause should stay reachable through errors.As")
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	primaryCalls := 0
	for i := 0; i < 4; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				primaryCalls++
				return errTest
			}
			return nil
		})
	}
	if primaryCalls != 2 {
		t.Fatalf("primary called %d times, want 2 (breaker should open)", primaryCalls)
	}
}

func TestFallbackGroup_SharedBreakers(t *testing.T) {
	shared := NewCircuitBreaker(CircuitBreakerConfig{Name: "direct", MaxFailures: 1, ResetTimeout: time.Hour})
	cfg := FallbackConfig{Breakers: func(name string) *CircuitBreaker {
		if name == "direct" {
			return shared
		}
		return nil
	}}
	a := NewFallbackGroup("direct", "direct", cfg)
	b := NewFallbackGroup("direct", "direct", cfg)

	_ = a.Execute(func(string) error { return errTest })

	called := false
	err := b.Execute(func(string) error { called = true; return nil })
	if called {
		t.Fatal("second group should see the breaker opened by the first")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}
