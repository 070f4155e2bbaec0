package observation_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sevakavakians/kato/pkg/observation"
	"github.com/sevakavakians/kato/pkg/vectorindex"
)

func TestObservation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "observation Suite")
}

var _ = Describe("Validate", func() {
	It("rejects an observation with neither strings nor vectors", func() {
		err := observation.Validate(observation.Observation{})
		Expect(err).To(HaveOccurred())
	})

	It("accepts an observation with only strings", func() {
		err := observation.Validate(observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a zero-length vector", func() {
		err := observation.Validate(observation.Observation{Vectors: [][]float64{{}}})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Canonicalize", func() {
	var client *vectorindex.MemoryClient

	BeforeEach(func() {
		client = vectorindex.NewMemoryClient(logrus.New())
	})

	It("combines strings and synthetic vector symbols, sorted and deduplicated", func() {
		obs := observation.Observation{
			Strings: []string{"b", "a", "a"},
			Vectors: [][]float64{{1, 2, 3}},
		}
		symbols, err := observation.Canonicalize(context.Background(), client, "kb1", obs)
		Expect(err).NotTo(HaveOccurred())
		Expect(symbols).To(HaveLen(3))
		// byte-wise order: uppercase "VCTR|" sorts before lowercase strings
		Expect(symbols[0]).To(HavePrefix("VCTR|"))
		Expect(symbols[1]).To(Equal("a"))
		Expect(symbols[2]).To(Equal("b"))
	})

	It("collapses a near-identical repeated vector to the same synthetic symbol", func() {
		ctx := context.Background()
		first, err := observation.Canonicalize(ctx, client, "kb1", observation.Observation{Vectors: [][]float64{{1, 2, 3}}})
		Expect(err).NotTo(HaveOccurred())

		second, err := observation.Canonicalize(ctx, client, "kb1", observation.Observation{Vectors: [][]float64{{1, 2, 3}}})
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
	})
})
