package metadatacache

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/sevakavakians/kato/internal/katoerr"
)

// RedisCache is the blessed Metadata Cache implementation. Key shapes
// follow spec §6's Persisted state layout exactly, so an operator can
// inspect the cache with a plain redis-cli and recognize the fields.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache wraps any redis.Cmdable — a *redis.Client against a
// real server, or a client pointed at a miniredis instance in tests.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func freqKey(kbID, name string) string          { return fmt.Sprintf("freq:%s:%s", kbID, name) }
func emotiveKey(kbID, name, k string) string    { return fmt.Sprintf("emotives:%s:%s:%s", kbID, name, k) }
func metadataKey(kbID, name, k string) string   { return fmt.Sprintf("metadata:%s:%s:%s", kbID, name, k) }
func symbolStatsKey(kbID, symbol string) string { return fmt.Sprintf("stats:%s:symbol:%s", kbID, symbol) }
func uniquePatternsKey(kbID string) string       { return fmt.Sprintf("stats:%s:total_unique_patterns", kbID) }
func totalSymbolFreqKey(kbID string) string      { return fmt.Sprintf("stats:%s:total_symbol_frequency", kbID) }

func (c *RedisCache) IncrFrequency(ctx context.Context, kbID, name string) (int64, error) {
	n, err := c.client.Incr(ctx, freqKey(kbID, name)).Result()
	if err != nil {
		return 0, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to increment pattern frequency", nil)
	}
	return n, nil
}

func (c *RedisCache) AppendEmotive(ctx context.Context, kbID, name string, emotives map[string]float64, persistence int) error {
	if persistence < 1 {
		persistence = 1
	}
	for k, v := range emotives {
		key := emotiveKey(kbID, name, k)
		if err := c.client.RPush(ctx, key, v).Err(); err != nil {
			return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to push emotive value", map[string]interface{}{"key": key})
		}
		if err := c.client.LTrim(ctx, key, int64(-persistence), -1).Err(); err != nil {
			return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to trim emotive window", map[string]interface{}{"key": key})
		}
	}
	return nil
}

func (c *RedisCache) GetEmotiveWindows(ctx context.Context, kbID, name string) (map[string][]float64, error) {
	keys, err := c.client.Keys(ctx, emotiveKey(kbID, name, "*")).Result()
	if err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to list emotive keys", nil)
	}
	prefix := emotiveKey(kbID, name, "")
	out := make(map[string][]float64, len(keys))
	for _, key := range keys {
		emotiveName := key[len(prefix):]
		values, err := c.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read emotive window", map[string]interface{}{"key": key})
		}
		floats := make([]float64, len(values))
		for i, v := range values {
			if _, err := fmt.Sscanf(v, "%g", &floats[i]); err != nil {
				return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "corrupt emotive value", map[string]interface{}{"key": key})
			}
		}
		out[emotiveName] = floats
	}
	return out, nil
}

func (c *RedisCache) AppendMetadata(ctx context.Context, kbID, name, key string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	members := make([]interface{}, len(values))
	for i, v := range values {
		members[i] = v
	}
	if err := c.client.SAdd(ctx, metadataKey(kbID, name, key), members...).Err(); err != nil {
		return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to union metadata values", map[string]interface{}{"key": key})
	}
	return nil
}

func (c *RedisCache) GetMetadata(ctx context.Context, kbID, name string) (map[string][]string, error) {
	keys, err := c.client.Keys(ctx, metadataKey(kbID, name, "*")).Result()
	if err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to list metadata keys", nil)
	}
	prefix := metadataKey(kbID, name, "")
	out := make(map[string][]string, len(keys))
	for _, key := range keys {
		metaKey := key[len(prefix):]
		values, err := c.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read metadata set", map[string]interface{}{"key": key})
		}
		sort.Strings(values)
		out[metaKey] = values
	}
	return out, nil
}

func (c *RedisCache) IncrUniquePatternCount(ctx context.Context, kbID string) error {
	if err := c.client.Incr(ctx, uniquePatternsKey(kbID)).Err(); err != nil {
		return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to increment unique pattern count", nil)
	}
	return nil
}

func (c *RedisCache) IncrSymbolFrequency(ctx context.Context, kbID, symbol string, delta int64) error {
	if err := c.client.HIncrBy(ctx, symbolStatsKey(kbID, symbol), "frequency", delta).Err(); err != nil {
		return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to increment symbol frequency", map[string]interface{}{"symbol": symbol})
	}
	if err := c.client.IncrBy(ctx, totalSymbolFreqKey(kbID), delta).Err(); err != nil {
		return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to increment total symbol frequency", nil)
	}
	return nil
}

func (c *RedisCache) IncrPatternMemberFrequency(ctx context.Context, kbID, symbol string, delta int64) error {
	if err := c.client.HIncrBy(ctx, symbolStatsKey(kbID, symbol), "pattern_member_frequency", delta).Err(); err != nil {
		return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to increment pattern member frequency", map[string]interface{}{"symbol": symbol})
	}
	return nil
}

func (c *RedisCache) GetGlobalStats(ctx context.Context, kbID string) (GlobalStats, error) {
	totalSymbols, err := c.client.Get(ctx, totalSymbolFreqKey(kbID)).Int64()
	if err != nil && err != redis.Nil {
		return GlobalStats{}, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read total symbol frequency", nil)
	}
	totalPatterns, err := c.client.Get(ctx, uniquePatternsKey(kbID)).Int64()
	if err != nil && err != redis.Nil {
		return GlobalStats{}, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read total unique patterns", nil)
	}
	return GlobalStats{TotalSymbolsInPatternsFrequencies: totalSymbols, TotalUniquePatterns: totalPatterns}, nil
}

func (c *RedisCache) GetSymbolStats(ctx context.Context, kbID, symbol string) (SymbolStats, error) {
	vals, err := c.client.HMGet(ctx, symbolStatsKey(kbID, symbol), "frequency", "pattern_member_frequency").Result()
	if err != nil {
		return SymbolStats{}, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read symbol stats", map[string]interface{}{"symbol": symbol})
	}
	return SymbolStats{
		SymbolFrequency:        toInt64(vals[0]),
		PatternMemberFrequency: toInt64(vals[1]),
	}, nil
}

func (c *RedisCache) Rebuild(ctx context.Context, kbID, name string, in RebuildInput) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, freqKey(kbID, name), in.Frequency, 0)
	for k, values := range in.EmotiveWindows {
		key := emotiveKey(kbID, name, k)
		pipe.Del(ctx, key)
		if len(values) > 0 {
			members := make([]interface{}, len(values))
			for i, v := range values {
				members[i] = v
			}
			pipe.RPush(ctx, key, members...)
		}
	}
	for k, values := range in.MetadataSets {
		key := metadataKey(kbID, name, k)
		pipe.Del(ctx, key)
		if len(values) > 0 {
			members := make([]interface{}, len(values))
			for i, v := range values {
				members[i] = v
			}
			pipe.SAdd(ctx, key, members...)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to rebuild cache entry from store", map[string]interface{}{"kb_id": kbID, "name": name})
	}
	return nil
}

func (c *RedisCache) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func toInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}
