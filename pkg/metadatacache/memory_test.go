package metadatacache_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sevakavakians/kato/pkg/metadatacache"
)

func TestMetadataCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "metadatacache Suite")
}

var _ = Describe("MemoryCache", func() {
	var (
		cache *metadatacache.MemoryCache
		ctx   context.Context
	)

	BeforeEach(func() {
		cache = metadatacache.NewMemoryCache()
		ctx = context.Background()
	})

	It("increments pattern frequency", func() {
		n, err := cache.IncrFrequency(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
		n, err = cache.IncrFrequency(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(2)))
	})

	It("trims the emotive FIFO to persistence, oldest first dropped", func() {
		for _, v := range []float64{0.8, 0.6, 0.4, 0.2} {
			err := cache.AppendEmotive(ctx, "kb1", "abc", map[string]float64{"joy": v}, 3)
			Expect(err).NotTo(HaveOccurred())
		}
		windows, err := cache.GetEmotiveWindows(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(windows["joy"]).To(Equal([]float64{0.6, 0.4, 0.2}))
	})

	It("unions metadata values per key", func() {
		Expect(cache.AppendMetadata(ctx, "kb1", "abc", "source", []string{"prometheus"})).To(Succeed())
		Expect(cache.AppendMetadata(ctx, "kb1", "abc", "source", []string{"grafana", "prometheus"})).To(Succeed())

		meta, err := cache.GetMetadata(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(meta["source"]).To(ConsistOf("grafana", "prometheus"))
	})

	It("only increments total_unique_patterns on explicit calls", func() {
		Expect(cache.IncrUniquePatternCount(ctx, "kb1")).To(Succeed())
		stats, err := cache.GetGlobalStats(ctx, "kb1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.TotalUniquePatterns).To(Equal(int64(1)))
	})

	It("tracks symbol frequency and pattern member frequency independently", func() {
		Expect(cache.IncrSymbolFrequency(ctx, "kb1", "a", 3)).To(Succeed())
		Expect(cache.IncrPatternMemberFrequency(ctx, "kb1", "a", 1)).To(Succeed())

		stats, err := cache.GetSymbolStats(ctx, "kb1", "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.SymbolFrequency).To(Equal(int64(3)))
		Expect(stats.PatternMemberFrequency).To(Equal(int64(1)))

		global, err := cache.GetGlobalStats(ctx, "kb1")
		Expect(err).NotTo(HaveOccurred())
		Expect(global.TotalSymbolsInPatternsFrequencies).To(Equal(int64(3)))
	})

	It("rebuilds a drifted entry wholesale from a repair input", func() {
		Expect(cache.AppendEmotive(ctx, "kb1", "abc", map[string]float64{"joy": 0.9}, 3)).To(Succeed())

		err := cache.Rebuild(ctx, "kb1", "abc", metadatacache.RebuildInput{
			Frequency:      5,
			EmotiveWindows: map[string][]float64{"joy": {0.1, 0.2}},
			MetadataSets:   map[string][]string{"source": {"prometheus"}},
		})
		Expect(err).NotTo(HaveOccurred())

		windows, err := cache.GetEmotiveWindows(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(windows["joy"]).To(Equal([]float64{0.1, 0.2}))
	})

	It("isolates counters by kb_id", func() {
		_, err := cache.IncrFrequency(ctx, "kbA", "abc")
		Expect(err).NotTo(HaveOccurred())
		statsB, err := cache.GetGlobalStats(ctx, "kbB")
		Expect(err).NotTo(HaveOccurred())
		Expect(statsB.TotalUniquePatterns).To(Equal(int64(0)))
	})
})
