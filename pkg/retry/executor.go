package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/brandloom/council/pkg/errors"
)

// Strategy defines retry strategy interface
type Strategy interface {
	NextDelay(attempt int) time.Duration
	ShouldRetry(attempt int, err error) bool
}

// Config defines retry configuration
type Config struct {
	MaxAttempts int
	Strategy    Strategy
	Jitter      float64
	OnRetry     func(attempt int, err error)
}

// ExponentialBackoff implements exponential backoff strategy
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextDelay calculates next delay for exponential backoff
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialDelay) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry only continues on errors the taxonomy marks retryable.
// Budget and context failures never come back true here.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	return errors.IsRetryable(err)
}

// LinearBackoff implements linear backoff strategy
type LinearBackoff struct {
	Delay       time.Duration
	MaxAttempts int
}

// NextDelay returns constant delay for linear backoff
func (l *LinearBackoff) NextDelay(attempt int) time.Duration {
	return l.Delay
}

// ShouldRetry determines if retry should continue
func (l *LinearBackoff) ShouldRetry(attempt int, err error) bool {
	if attempt >= l.MaxAttempts {
		return false
	}
	return errors.IsRetryable(err)
}

// Execute runs operation with retry logic. The total number of invocations
// is bounded by MaxAttempts; the context cancels waits between attempts.
func Execute[T any](
	ctx context.Context,
	operation func() (T, error),
	config Config,
) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		result, err := operation()
		if err == nil {
			return result, nil
		}

		if !config.Strategy.ShouldRetry(attempt, err) {
			return result, err
		}

		// Last attempt already failed, no point sleeping again
		if attempt == config.MaxAttempts-1 {
			lastErr = err
			break
		}

		delay := config.Strategy.NextDelay(attempt)
		if config.Jitter > 0 {
			delay = applyJitter(delay, config.Jitter)
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result, errors.Wrap(fmt.Errorf("retry cancelled: %w", ctx.Err()), errors.ErrCancelled)
		}

		lastErr = err
	}

	return result, fmt.Errorf("max attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

// applyJitter adds random jitter to delay
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	jitter := float64(delay) * jitterFactor
	randomJitter := (rand.Float64() - 0.5) * 2 * jitter
	finalDelay := float64(delay) + randomJitter

	if finalDelay < 0 {
		return 0
	}

	return time.Duration(finalDelay)
}

// DefaultConfig is the engine's standard retry budget for external calls:
// one initial attempt plus two retries with exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Strategy: &ExponentialBackoff{
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
		Jitter: 0.2,
	}
}
