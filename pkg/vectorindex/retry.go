package vectorindex

import (
	"context"
	"math/rand"
	"time"

	"github.com/sevakavakians/kato/internal/katoerr"
)

// RetryConfig controls the exponential backoff applied to retriable
// Vector Index Client failures (spec §4.2/§7).
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryConfig mirrors the teacher's general-purpose backend
// retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// VectorRetryConfig is tuned for ANN backend calls: more attempts, a
// gentler multiplier, since a cold HNSW index under load benefits
// from steadier retries more than a database connection does.
func VectorRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.5,
		Jitter:            true,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * pow(c.BackoffMultiplier, attempt)
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	dur := time.Duration(d)
	if c.Jitter {
		dur = time.Duration(float64(dur) * (0.5 + rand.Float64()*0.5))
	}
	return dur
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// withRetry runs op until it succeeds, op returns a non-retriable
// error, attempts are exhausted, or ctx is cancelled. Deterministic
// correctness failures (anything not tagged VectorBackendError with
// Retriable=true) never retry.
func withRetry(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return katoerr.New(katoerr.DeadlineExceeded, "vector backend call cancelled", nil)
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !katoerr.IsRetriable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(cfg.delay(attempt)):
		case <-ctx.Done():
			return katoerr.New(katoerr.DeadlineExceeded, "vector backend call cancelled", nil)
		}
	}
	return lastErr
}
