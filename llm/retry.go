package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// WithRetry retries failed completions with exponential backoff. maxTries
// counts the first call; values below 2 return next unchanged. Context
// errors are never retried.
func WithRetry(next Completer, maxTries uint, initial time.Duration) Completer {
	if maxTries < 2 {
		return next
	}
	return CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		return backoff.Retry(ctx, func() (string, error) {
			out, err := next.Complete(ctx, prompt)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", backoff.Permanent(err)
			}
			return out, err
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(maxTries),
			backoff.WithNotify(func(err error, wait time.Duration) {
				log.Debug().Err(err).Dur("wait", wait).Msg("retrying completion")
			}),
		)
	})
}

// WithRateLimit waits on a token bucket before each completion. A
// non-positive rps returns next unchanged.
func WithRateLimit(next Completer, rps float64, burst int) Completer {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
		return next.Complete(ctx, prompt)
	})
}
