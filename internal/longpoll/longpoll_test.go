package longpoll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitExhaustsAfterMaxAttempts(t *testing.T) {
	cfg := Config{Interval: time.Millisecond, MaxAttempts: 7}
	calls := 0
	v, ok, err := Wait(context.Background(), cfg, func(context.Context) (string, bool, error) {
		calls++
		return "never", false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected exhaustion, got value %q", v)
	}
	if v != "" {
		t.Fatalf("expected zero value on exhaustion, got %q", v)
	}
	if calls != cfg.MaxAttempts {
		t.Fatalf("expected %d checks, got %d", cfg.MaxAttempts, calls)
	}
}

func TestWaitReturnsAsSoonAsReady(t *testing.T) {
	cfg := Config{Interval: time.Millisecond, MaxAttempts: 100}
	calls := 0
	v, ok, err := Wait(context.Background(), cfg, func(context.Context) (int, bool, error) {
		calls++
		return calls * 10, calls == 3, nil
	})
	if err != nil || !ok {
		t.Fatalf("expected ready result, ok=%v err=%v", ok, err)
	}
	if v != 30 || calls != 3 {
		t.Fatalf("expected value 30 after 3 checks, got %d after %d", v, calls)
	}
}

func TestWaitPropagatesCheckError(t *testing.T) {
	boom := errors.New("db down")
	_, ok, err := Wait(context.Background(), Config{Interval: time.Millisecond, MaxAttempts: 5}, func(context.Context) (int, bool, error) {
		return 0, false, boom
	})
	if !errors.Is(err, boom) || ok {
		t.Fatalf("expected check error, got ok=%v err=%v", ok, err)
	}
}

func TestWaitStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	start := time.Now()
	_, ok, err := Wait(ctx, Config{Interval: time.Hour, MaxAttempts: 3}, func(context.Context) (int, bool, error) {
		calls++
		cancel()
		return 0, false, nil
	})
	if !errors.Is(err, context.Canceled) || ok {
		t.Fatalf("expected context.Canceled, got ok=%v err=%v", ok, err)
	}
	if calls != 1 {
		t.Fatalf("expected a single check before cancel, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("wait did not return promptly after cancel")
	}
}

func TestWaitSingleAttempt(t *testing.T) {
	calls := 0
	_, ok, err := Wait(context.Background(), Config{Interval: time.Hour, MaxAttempts: 0}, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	})
	if err != nil || ok || calls != 1 {
		t.Fatalf("expected one exhausted check, got calls=%d ok=%v err=%v", calls, ok, err)
	}
}

func TestWaitSleepsBetweenAttempts(t *testing.T) {
	cfg := Config{Interval: 20 * time.Millisecond, MaxAttempts: 4}
	start := time.Now()
	_, _, _ = Wait(context.Background(), cfg, func(context.Context) (int, bool, error) {
		return 0, false, nil
	})
	if elapsed := time.Since(start); elapsed < cfg.Ceiling() {
		t.Fatalf("expected at least %s between first and last check, took %s", cfg.Ceiling(), elapsed)
	}
}

func TestCeiling(t *testing.T) {
	if got := (Config{Interval: 500 * time.Millisecond, MaxAttempts: 100}).Ceiling(); got != 49500*time.Millisecond {
		t.Fatalf("unexpected ceiling %s", got)
	}
}
