package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Retrying re-attempts failed calls with exponential backoff: with the
// defaults, three attempts total waiting 1s then 2s. ErrNotConfigured is not
// retried.
type Retrying struct {
	Provider  Provider
	Attempts  int
	BaseDelay time.Duration
}

// NewRetrying wraps p. attempts < 1 is treated as 1.
func NewRetrying(p Provider, attempts int, baseDelay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{Provider: p, Attempts: attempts, BaseDelay: baseDelay}
}

// Name implements Provider.
func (r *Retrying) Name() Name { return r.Provider.Name() }

// Available implements Provider.
func (r *Retrying) Available() bool { return r.Provider.Available() }

// Call implements Provider.
func (r *Retrying) Call(ctx context.Context, system, user string, opts Options) (*Response, error) {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     r.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         30 * time.Second,
	}
	attempt := 0
	op := func() (*Response, error) {
		attempt++
		resp, err := r.Provider.Call(ctx, system, user, opts)
		if errors.Is(err, ErrNotConfigured) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(r.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			zerolog.Ctx(ctx).Warn().
				Err(err).
				Str("provider", string(r.Provider.Name())).
				Int("attempt", attempt).
				Dur("retry_in", wait).
				Msg("ai call failed, retrying")
		}),
	)
}
