package metadatacache

import (
	"context"
	"sort"
	"sync"
)

type patternKey struct {
	kbID string
	name string
}

// MemoryCache is the in-memory test double for Cache: no network
// round-trips, useful where a test cares about accumulator semantics
// but not about the Redis wire protocol (that's RedisCache's concern,
// exercised against miniredis instead).
type MemoryCache struct {
	mu sync.Mutex

	frequency    map[patternKey]int64
	emotives     map[patternKey]map[string][]float64
	metadataSets map[patternKey]map[string]map[string]struct{}

	symbolFrequency        map[string]map[string]int64 // kbID -> symbol -> count
	patternMemberFrequency map[string]map[string]int64
	totalSymbolFrequency   map[string]int64
	totalUniquePatterns    map[string]int64
}

// NewMemoryCache constructs an empty in-memory metadata cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		frequency:              make(map[patternKey]int64),
		emotives:               make(map[patternKey]map[string][]float64),
		metadataSets:           make(map[patternKey]map[string]map[string]struct{}),
		symbolFrequency:        make(map[string]map[string]int64),
		patternMemberFrequency: make(map[string]map[string]int64),
		totalSymbolFrequency:   make(map[string]int64),
		totalUniquePatterns:    make(map[string]int64),
	}
}

func (c *MemoryCache) IncrFrequency(_ context.Context, kbID, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := patternKey{kbID, name}
	c.frequency[key]++
	return c.frequency[key], nil
}

func (c *MemoryCache) AppendEmotive(_ context.Context, kbID, name string, emotives map[string]float64, persistence int) error {
	if persistence < 1 {
		persistence = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := patternKey{kbID, name}
	windows, ok := c.emotives[key]
	if !ok {
		windows = make(map[string][]float64)
		c.emotives[key] = windows
	}
	for k, v := range emotives {
		w := append(windows[k], v)
		if len(w) > persistence {
			w = w[len(w)-persistence:]
		}
		windows[k] = w
	}
	return nil
}

func (c *MemoryCache) GetEmotiveWindows(_ context.Context, kbID, name string) (map[string][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]float64)
	for k, v := range c.emotives[patternKey{kbID, name}] {
		out[k] = append([]float64(nil), v...)
	}
	return out, nil
}

func (c *MemoryCache) AppendMetadata(_ context.Context, kbID, name, key string, values []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pk := patternKey{kbID, name}
	sets, ok := c.metadataSets[pk]
	if !ok {
		sets = make(map[string]map[string]struct{})
		c.metadataSets[pk] = sets
	}
	set, ok := sets[key]
	if !ok {
		set = make(map[string]struct{})
		sets[key] = set
	}
	for _, v := range values {
		set[v] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) GetMetadata(_ context.Context, kbID, name string) (map[string][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string)
	for key, set := range c.metadataSets[patternKey{kbID, name}] {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		out[key] = values
	}
	return out, nil
}

func (c *MemoryCache) IncrUniquePatternCount(_ context.Context, kbID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalUniquePatterns[kbID]++
	return nil
}

func (c *MemoryCache) IncrSymbolFrequency(_ context.Context, kbID, symbol string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.symbolFrequency[kbID]
	if !ok {
		m = make(map[string]int64)
		c.symbolFrequency[kbID] = m
	}
	m[symbol] += delta
	c.totalSymbolFrequency[kbID] += delta
	return nil
}

func (c *MemoryCache) IncrPatternMemberFrequency(_ context.Context, kbID, symbol string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.patternMemberFrequency[kbID]
	if !ok {
		m = make(map[string]int64)
		c.patternMemberFrequency[kbID] = m
	}
	m[symbol] += delta
	return nil
}

func (c *MemoryCache) GetGlobalStats(_ context.Context, kbID string) (GlobalStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return GlobalStats{
		TotalSymbolsInPatternsFrequencies: c.totalSymbolFrequency[kbID],
		TotalUniquePatterns:               c.totalUniquePatterns[kbID],
	}, nil
}

func (c *MemoryCache) GetSymbolStats(_ context.Context, kbID, symbol string) (SymbolStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SymbolStats{
		SymbolFrequency:        c.symbolFrequency[kbID][symbol],
		PatternMemberFrequency: c.patternMemberFrequency[kbID][symbol],
	}, nil
}

func (c *MemoryCache) Rebuild(_ context.Context, kbID, name string, in RebuildInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := patternKey{kbID, name}
	c.frequency[key] = in.Frequency

	windows := make(map[string][]float64, len(in.EmotiveWindows))
	for k, v := range in.EmotiveWindows {
		windows[k] = append([]float64(nil), v...)
	}
	c.emotives[key] = windows

	sets := make(map[string]map[string]struct{}, len(in.MetadataSets))
	for k, values := range in.MetadataSets {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		sets[k] = set
	}
	c.metadataSets[key] = sets
	return nil
}

func (c *MemoryCache) Close() error { return nil }
