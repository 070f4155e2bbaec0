package vectorindex

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sevakavakians/kato/internal/katoerr"
)

// ResilientClient wraps a backend Client with retry-with-backoff
// (spec §4.2/§7) and a circuit breaker that trips after a run of
// backend failures, so a degraded ANN service fails fast instead of
// piling up blocked goroutines behind a deadline each one will miss
// anyway.
type ResilientClient struct {
	backend Client
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
}

// NewResilientClient wraps backend with the given retry policy and a
// circuit breaker that opens after 5 consecutive failures and probes
// again after 30 seconds.
func NewResilientClient(backend Client, retry RetryConfig) *ResilientClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kato-vector-index",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &ResilientClient{backend: backend, retry: retry, breaker: breaker}
}

func (r *ResilientClient) Upsert(ctx context.Context, kbID, symbol string, vector []float64) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, withRetry(ctx, r.retry, func(ctx context.Context) error {
			return r.backend.Upsert(ctx, kbID, symbol, vector)
		})
	})
	return unwrapBreakerErr(err)
}

func (r *ResilientClient) Search(ctx context.Context, kbID string, vector []float64, k int) ([]SearchResult, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		var out []SearchResult
		err := withRetry(ctx, r.retry, func(ctx context.Context) error {
			var innerErr error
			out, innerErr = r.backend.Search(ctx, kbID, vector, k)
			return innerErr
		})
		return out, err
	})
	if err != nil {
		return nil, unwrapBreakerErr(err)
	}
	if res == nil {
		return nil, nil
	}
	return res.([]SearchResult), nil
}

func (r *ResilientClient) DropCollection(ctx context.Context, kbID string) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, withRetry(ctx, r.retry, func(ctx context.Context) error {
			return r.backend.DropCollection(ctx, kbID)
		})
	})
	return unwrapBreakerErr(err)
}

// unwrapBreakerErr translates gobreaker's own ErrOpenState/
// ErrTooManyRequests into the domain's CorpusUnavailable kind so
// callers never have to know gobreaker exists.
func unwrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return katoerr.New(katoerr.CorpusUnavailable, "vector backend circuit open", map[string]interface{}{"cause": err.Error()})
	}
	return err
}
