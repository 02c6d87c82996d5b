package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/foremanlabs/foreman/internal/task"
)

// RetryConfig shapes the backoff schedule used when a verifier call
// errors.
type RetryConfig struct {
	InitialInterval     time.Duration // first retry delay (default 100ms)
	MaxInterval         time.Duration // delay cap (default 10s)
	MaxElapsedTime      time.Duration // total retry budget (default 2min)
	Multiplier          float64       // growth factor (default 2.0)
	RandomizationFactor float64       // jitter (default 0.5)
}

// DefaultRetryConfig returns the schedule used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// ResilientVerifier wraps a Verifier with exponential-backoff retry and a
// circuit breaker. Only call errors count as failures; a verdict that
// rejects the work (Passed false) is a result and is returned as-is. Once
// the breaker opens, calls fail fast until the open window elapses.
type ResilientVerifier struct {
	inner   Verifier
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
}

// NewResilientVerifier wraps inner. The breaker trips after 5 consecutive
// failures and stays open for 30s before probing recovery.
func NewResilientVerifier(inner Verifier, retry RetryConfig, logger *slog.Logger) *ResilientVerifier {
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "verifier",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("verifier circuit changed state", "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about verifier health.
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &ResilientVerifier{inner: inner, breaker: breaker, retry: retry}
}

// Verify runs the wrapped verifier, retrying call errors on the backoff
// schedule. Context cancellation and an open circuit end the loop at
// once. Errors are wrapped in ErrVerifierUnavailable.
func (v *ResilientVerifier) Verify(ctx context.Context, projectDir, branch string) (*task.QCResult, error) {
	var res *task.QCResult

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := v.breaker.Execute(func() (interface{}, error) {
			return v.inner.Verify(ctx, projectDir, branch)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		res = out.(*task.QCResult)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.retry.InitialInterval
	policy.MaxInterval = v.retry.MaxInterval
	policy.MaxElapsedTime = v.retry.MaxElapsedTime
	policy.Multiplier = v.retry.Multiplier
	policy.RandomizationFactor = v.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
	}
	return res, nil
}
