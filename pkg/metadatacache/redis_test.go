package metadatacache_test

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/sevakavakians/kato/pkg/metadatacache"
)

var _ = Describe("RedisCache", func() {
	var (
		server *miniredis.Miniredis
		client *redis.Client
		cache  *metadatacache.RedisCache
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		server, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: server.Addr()})
		cache = metadatacache.NewRedisCache(client)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(client.Close()).To(Succeed())
		server.Close()
	})

	It("increments pattern frequency under the documented key shape", func() {
		n, err := cache.IncrFrequency(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
		Expect(server.Exists("freq:kb1:abc")).To(BeTrue())
	})

	It("trims the emotive FIFO through RPUSH/LTRIM", func() {
		for _, v := range []float64{0.8, 0.6, 0.4, 0.2} {
			Expect(cache.AppendEmotive(ctx, "kb1", "abc", map[string]float64{"joy": v}, 3)).To(Succeed())
		}
		windows, err := cache.GetEmotiveWindows(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(windows["joy"]).To(Equal([]float64{0.6, 0.4, 0.2}))
	})

	It("unions metadata sets via SADD", func() {
		Expect(cache.AppendMetadata(ctx, "kb1", "abc", "source", []string{"prometheus"})).To(Succeed())
		Expect(cache.AppendMetadata(ctx, "kb1", "abc", "source", []string{"grafana"})).To(Succeed())

		meta, err := cache.GetMetadata(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(meta["source"]).To(ConsistOf("grafana", "prometheus"))
	})

	It("tracks symbol stats in a hash keyed by stats:{kb_id}:symbol:{symbol}", func() {
		Expect(cache.IncrSymbolFrequency(ctx, "kb1", "a", 2)).To(Succeed())
		Expect(cache.IncrPatternMemberFrequency(ctx, "kb1", "a", 1)).To(Succeed())

		stats, err := cache.GetSymbolStats(ctx, "kb1", "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.SymbolFrequency).To(Equal(int64(2)))
		Expect(stats.PatternMemberFrequency).To(Equal(int64(1)))
	})

	It("returns zero-valued global stats for an untouched kb_id", func() {
		stats, err := cache.GetGlobalStats(ctx, "fresh-kb")
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.TotalUniquePatterns).To(Equal(int64(0)))
		Expect(stats.TotalSymbolsInPatternsFrequencies).To(Equal(int64(0)))
	})

	It("rebuilds a drifted entry and replaces, not appends, prior contents", func() {
		Expect(cache.AppendEmotive(ctx, "kb1", "abc", map[string]float64{"joy": 0.9}, 3)).To(Succeed())

		err := cache.Rebuild(ctx, "kb1", "abc", metadatacache.RebuildInput{
			Frequency:      5,
			EmotiveWindows: map[string][]float64{"joy": {0.1, 0.2}},
		})
		Expect(err).NotTo(HaveOccurred())

		windows, err := cache.GetEmotiveWindows(ctx, "kb1", "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(windows["joy"]).To(Equal([]float64{0.1, 0.2}))
	})
})
