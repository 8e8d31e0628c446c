package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrPollExhausted is returned by Poll when the condition never became true
// within the attempt budget.
var ErrPollExhausted = eris.New("poll: attempts exhausted")

// PollConfig bounds a polling loop.
type PollConfig struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// PollConfigFromMillis builds a PollConfig from config values, falling back
// to 60 attempts between 2s and 15s.
func PollConfigFromMillis(maxAttempts, initialMS, maxMS int) PollConfig {
	cfg := PollConfig{MaxAttempts: 60, Initial: 2 * time.Second, Max: 15 * time.Second}
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialMS > 0 {
		cfg.Initial = time.Duration(initialMS) * time.Millisecond
	}
	if maxMS > 0 {
		cfg.Max = time.Duration(maxMS) * time.Millisecond
	}
	return cfg
}

// Poll calls check until it reports done, returns an error, or the attempt
// budget runs out. Delays between attempts grow by 1.5x up to cfg.Max.
func Poll(ctx context.Context, cfg PollConfig, check func(ctx context.Context) (bool, error)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if !sleep(ctx, backoff(attempt, cfg.Initial, cfg.Max, 1.5, 0)) {
			return eris.Wrap(ctx.Err(), "poll: cancelled")
		}
	}
	return eris.Wrapf(ErrPollExhausted, "after %d attempts", cfg.MaxAttempts)
}
