package service

import (
	"context"
	"time"

	"chatwiki/pkg/config"
)

// RetryPolicy is bounded exponential backoff: InitialBackoff doubles per
// attempt up to MaxBackoff, for at most MaxAttempts attempts.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func RetryPolicyFromConfig(cfg *config.PipelineConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxTransientAttempts,
		InitialBackoff: cfg.BackoffBase,
		MaxBackoff:     cfg.BackoffMax,
	}
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialBackoff <= 0 {
		return 0
	}

	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if p.MaxBackoff > 0 && backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// Wait sleeps for the backoff of attempt, returning early with the context
// error when ctx is done.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
