package ingest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds retry behavior for transient source failures.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts, including the first
	BaseDelay   time.Duration // Base delay for exponential backoff
	MaxDelay    time.Duration // Maximum delay between retries
	Multiplier  float64       // Multiplier for exponential backoff
	JitterRange float64       // Jitter range (0.0 to 1.0)
}

// DefaultRetryConfig returns a default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		JitterRange: 0.1,
	}
}

// Retryer retries an operation with exponential backoff and jitter.
// The caller classifies errors: Execute keeps retrying while classify
// returns true.
type Retryer struct {
	config RetryConfig
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryer creates a new retryer. A nil logger disables logging.
func NewRetryer(config RetryConfig, logger *zap.Logger) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	if config.JitterRange < 0 || config.JitterRange > 1.0 {
		config.JitterRange = 0.1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retryer{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs fn until it succeeds, a non-retryable error occurs, the
// attempt budget is spent, or ctx is cancelled.
func (r *Retryer) Execute(ctx context.Context, name string, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("operation succeeded after retry",
					zap.String("op", name), zap.Int("attempt", attempt))
			}
			return nil
		}

		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		r.logger.Warn("attempt failed, retrying",
			zap.String("op", name), zap.Int("attempt", attempt),
			zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

// calculateDelay computes baseDelay * multiplier^(attempt-1), capped at
// MaxDelay, with jitter against thundering herds.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.JitterRange > 0 {
		r.mu.Lock()
		jitter := r.rng.Float64() * r.config.JitterRange * delay
		down := r.rng.Float64() < 0.5
		r.mu.Unlock()
		if down {
			delay -= jitter
		} else {
			delay += jitter
		}
	}

	if delay < float64(r.config.BaseDelay) {
		delay = float64(r.config.BaseDelay)
	}

	return time.Duration(delay)
}
