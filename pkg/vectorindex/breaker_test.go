package vectorindex_test

import (
	"context"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sevakavakians/kato/internal/katoerr"
	"github.com/sevakavakians/kato/pkg/vectorindex"
)

// flakyClient fails the first N calls with a retriable error, then
// succeeds, to exercise ResilientClient's retry path.
type flakyClient struct {
	failures int32
	calls    int32
}

func (f *flakyClient) Upsert(ctx context.Context, kbID, symbol string, vector []float64) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return katoerr.VectorBackendErr(context.DeadlineExceeded, true, nil)
	}
	return nil
}

func (f *flakyClient) Search(ctx context.Context, kbID string, vector []float64, k int) ([]vectorindex.SearchResult, error) {
	return nil, nil
}

func (f *flakyClient) DropCollection(ctx context.Context, kbID string) error { return nil }

var _ = Describe("ResilientClient", func() {
	It("retries a retriable failure until it succeeds", func() {
		backend := &flakyClient{failures: 2}
		client := vectorindex.NewResilientClient(backend, vectorindex.RetryConfig{
			MaxAttempts:       5,
			InitialDelay:      0,
			MaxDelay:          0,
			BackoffMultiplier: 1,
			Jitter:            false,
		})

		err := client.Upsert(context.Background(), "kb1", "sym", []float64{1})
		Expect(err).NotTo(HaveOccurred())
		Expect(atomic.LoadInt32(&backend.calls)).To(Equal(int32(3)))
	})

	It("never retries a non-retriable failure", func() {
		backend := &erroringClient{err: katoerr.New(katoerr.InvalidInput, "bad vector", nil)}
		client := vectorindex.NewResilientClient(backend, vectorindex.DefaultRetryConfig())

		err := client.Upsert(context.Background(), "kb1", "sym", []float64{1})
		Expect(err).To(HaveOccurred())
		Expect(backend.calls).To(Equal(1))
	})
})

type erroringClient struct {
	err   error
	calls int
}

func (e *erroringClient) Upsert(ctx context.Context, kbID, symbol string, vector []float64) error {
	e.calls++
	return e.err
}

func (e *erroringClient) Search(ctx context.Context, kbID string, vector []float64, k int) ([]vectorindex.SearchResult, error) {
	return nil, e.err
}

func (e *erroringClient) DropCollection(ctx context.Context, kbID string) error { return e.err }
