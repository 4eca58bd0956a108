package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/generation"
	"basegraph.app/testgen/internal/model"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CallStats counts what the retry policy did during one run.
type CallStats struct {
	Attempts           int           `json:"attempts"` // generation calls issued, failed ones included
	RateLimitRetries   int           `json:"rate_limit_retries"`
	UnavailableRetries int           `json:"unavailable_retries"`
	DegradeSteps       []DegradeStep `json:"degrade_steps,omitempty"`
}

// generationCaller wraps every generation call in the run's retry policy:
// oversized or timed out requests degrade the payload, rate limits back off,
// daily limits stop the run. Counters live for the whole run.
type generationCaller struct {
	svc      generation.Service
	degrader *ContextDegrader
	cfg      config.EngineConfig
	sleep    Sleeper

	stats          CallStats
	degradeRounds  int
	rateRetries    int
	unavailRetries int
}

func newGenerationCaller(svc generation.Service, degrader *ContextDegrader, cfg config.EngineConfig, sleep Sleeper) *generationCaller {
	if sleep == nil {
		sleep = sleepContext
	}
	return &generationCaller{svc: svc, degrader: degrader, cfg: cfg, sleep: sleep}
}

// call returns the response together with the payload that produced it,
// which differs from req.Payload when degradation kicked in.
func (c *generationCaller) call(ctx context.Context, req generation.Request) (*generation.Response, model.Payload, error) {
	payload := req.Payload
	backoff := c.cfg.BackoffBase

	nextBackoff := func() time.Duration {
		wait := backoff
		backoff = min(backoff*2, c.cfg.BackoffMax)
		return wait
	}

	for {
		req.Payload = payload
		c.stats.Attempts++

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		resp, err := c.svc.Generate(callCtx, req)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err == nil {
			return resp, payload, nil
		}
		if ctx.Err() != nil {
			return nil, payload, ctx.Err()
		}

		var rateLimit *generation.RateLimitError
		switch {
		case errors.Is(err, generation.ErrOversizedRequest), timedOut:
			if c.degradeRounds >= c.cfg.MaxDegradeRounds {
				return nil, payload, fmt.Errorf("%w after %d rounds: %w", ErrDegradationExhausted, c.degradeRounds, err)
			}
			next, step, derr := c.degrader.Degrade(ctx, payload)
			if derr != nil {
				return nil, payload, fmt.Errorf("%w: %w", derr, err)
			}
			c.degradeRounds++
			c.stats.DegradeSteps = append(c.stats.DegradeSteps, step)
			slog.WarnContext(ctx, "generation request too large, retrying with degraded payload",
				"mode", req.Mode,
				"timed_out", timedOut,
				"step", step,
				"degrade_round", c.degradeRounds)
			payload = next

		case errors.As(err, &rateLimit):
			if rateLimit.Daily {
				return nil, payload, fmt.Errorf("%w: %w", ErrDailyRateLimit, err)
			}
			if c.rateRetries >= c.cfg.MaxRateLimitRetries {
				return nil, payload, fmt.Errorf("%w: %d rate limit retries: %w", ErrRetriesExhausted, c.rateRetries, err)
			}

			var wait time.Duration
			if rateLimit.RetryAfter > 0 {
				wait = rateLimit.RetryAfter + time.Second
			} else {
				wait = nextBackoff()
			}
			if wait > c.cfg.FailFastWait {
				return nil, payload, fmt.Errorf("%w: requested wait %s exceeds %s: %w", ErrDailyRateLimit, wait, c.cfg.FailFastWait, err)
			}

			c.rateRetries++
			c.stats.RateLimitRetries = c.rateRetries
			slog.WarnContext(ctx, "generation rate limited, backing off",
				"mode", req.Mode,
				"wait", wait,
				"retry", c.rateRetries)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, payload, err
			}

		case errors.Is(err, generation.ErrUnavailable),
			errors.Is(err, generation.ErrMalformedResponse) && req.Mode == generation.ModeFull:
			if c.unavailRetries >= c.cfg.MaxUnavailableRetries {
				return nil, payload, fmt.Errorf("%w: %d retries: %w", ErrRetriesExhausted, c.unavailRetries, err)
			}
			c.unavailRetries++
			c.stats.UnavailableRetries = c.unavailRetries
			wait := nextBackoff()
			slog.WarnContext(ctx, "generation failed, retrying",
				"mode", req.Mode,
				"wait", wait,
				"retry", c.unavailRetries,
				"error", err)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, payload, err
			}

		default:
			return nil, payload, err
		}
	}
}
