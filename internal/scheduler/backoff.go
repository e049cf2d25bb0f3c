package scheduler

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes the retry delay curve.
type BackoffConfig struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Cap bounds the exponential growth.
	Cap time.Duration
	// Jitter is the fraction of random spread applied to the delay,
	// in [0, 1). 0.2 means ±20%. Spreads retries so a provider outage
	// does not produce a thundering herd when it ends.
	Jitter float64
}

// Backoff returns a delay function seeded by the retry count:
// base × 2^retryCount, capped, with jitter. Pure apart from the jitter
// draw, so it is testable independent of the scheduler's I/O.
func Backoff(cfg BackoffConfig) func(retryCount int) time.Duration {
	if cfg.Base <= 0 {
		cfg.Base = 30 * time.Second
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 30 * time.Minute
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = 0.2
	}

	return func(retryCount int) time.Duration {
		if retryCount < 0 {
			retryCount = 0
		}

		delay := cfg.Base
		for i := 0; i < retryCount; i++ {
			delay *= 2
			if delay >= cfg.Cap {
				delay = cfg.Cap
				break
			}
		}

		if cfg.Jitter > 0 {
			spread := 1 + cfg.Jitter*(2*rand.Float64()-1)
			delay = time.Duration(float64(delay) * spread)
		}
		if delay > cfg.Cap {
			delay = cfg.Cap
		}
		return delay
	}
}
