package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPoll(attempts int) PollConfig {
	return PollConfig{MaxAttempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestPoll_DoneImmediately(t *testing.T) {
	var calls int
	err := Poll(context.Background(), fastPoll(5), func(_ context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestPoll_DoneAfterSeveralAttempts(t *testing.T) {
	var calls int
	err := Poll(context.Background(), fastPoll(5), func(_ context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestPoll_Exhausted(t *testing.T) {
	var calls int
	err := Poll(context.Background(), fastPoll(4), func(_ context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrPollExhausted) {
		t.Fatalf("expected ErrPollExhausted, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestPoll_CheckError(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), fastPoll(4), func(_ context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestPoll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := PollConfig{MaxAttempts: 10, Initial: time.Hour, Max: time.Hour}
	err := Poll(ctx, cfg, func(_ context.Context) (bool, error) {
		cancel()
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrPollExhausted) {
		t.Error("cancellation should not report exhaustion")
	}
}

func TestPollConfigFromMillis(t *testing.T) {
	cfg := PollConfigFromMillis(0, 0, 0)
	if cfg.MaxAttempts != 60 || cfg.Initial != 2*time.Second || cfg.Max != 15*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	cfg = PollConfigFromMillis(3, 10, 20)
	if cfg.MaxAttempts != 3 || cfg.Initial != 10*time.Millisecond || cfg.Max != 20*time.Millisecond {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
