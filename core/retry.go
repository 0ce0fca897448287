package orchestration

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a failing turn is attempted. Only
// errors that report themselves as retryable are attempted again; an
// explicit error answer from a service never is.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Zero and one both disable
	// retries.
	MaxAttempts     uint          `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" mapstructure:"max_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
}

func NoRetry() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

func (p RetryPolicy) enabled() bool { return p.MaxAttempts > 1 }

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// retryTurn runs attempt until the turn succeeds, fails with an error that
// is not retryable or policy runs out. Every attempt gets the previous
// result so it can resume at the failed stage.
func retryTurn(ctx context.Context, policy RetryPolicy, log *slog.Logger, attempt func(prior TurnResult) TurnResult) TurnResult {
	if !policy.enabled() {
		return attempt(TurnResult{})
	}

	var result TurnResult
	attempts := 0
	_, _ = backoff.Retry(ctx,
		func() (struct{}, error) {
			attempts++
			result = attempt(result)
			switch {
			case !result.Failed():
				return struct{}{}, nil
			case !isRetryable(result.Err):
				return struct{}{}, backoff.Permanent(result.Err)
			}
			return struct{}{}, result.Err
		},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("retrying turn",
				"stage", result.Err.Kind,
				"attempt", attempts,
				"next_attempt_in", next,
				"error", err,
			)
		}),
	)
	return result
}
