package patternstore

import (
	"context"
	"sync"

	"github.com/sevakavakians/kato/internal/katoerr"
)

type kbKey struct {
	kbID string
	name string
}

// MemoryStore is the in-memory test double for Store: read-your-writes
// is trivially satisfied by a single guarded map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[kbKey]*Record
}

// NewMemoryStore constructs an empty in-memory pattern store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[kbKey]*Record)}
}

func (s *MemoryStore) Put(_ context.Context, kbID string, in PutInput) (bool, error) {
	if in.Name == "" {
		return false, katoerr.New(katoerr.InvalidInput, "pattern name cannot be empty", nil)
	}
	persistence := in.Persistence
	if persistence < 1 {
		persistence = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := kbKey{kbID: kbID, name: in.Name}
	rec, exists := s.records[key]
	if !exists {
		rec = &Record{
			KBID:           kbID,
			Name:           in.Name,
			Events:         in.Events,
			Length:         in.Length,
			Frequency:      0,
			EmotiveWindows: make(map[string][]float64),
			MetadataSets:   make(map[string]map[string]bool),
		}
		s.records[key] = rec
	}
	rec.Frequency++

	for k, v := range in.Emotives {
		window := append(rec.EmotiveWindows[k], v)
		if len(window) > persistence {
			window = window[len(window)-persistence:]
		}
		rec.EmotiveWindows[k] = window
	}

	for k, values := range in.Metadata {
		set, ok := rec.MetadataSets[k]
		if !ok {
			set = make(map[string]bool)
			rec.MetadataSets[k] = set
		}
		for _, v := range values {
			set[v] = true
		}
	}

	return !exists, nil
}

func (s *MemoryStore) Get(_ context.Context, kbID, name string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[kbKey{kbID: kbID, name: name}]
	if !ok {
		return nil, katoerr.New(katoerr.NotFound, "pattern not found", map[string]interface{}{"kb_id": kbID, "name": name})
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetBatch(_ context.Context, kbID string, names []string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(names))
	for i, name := range names {
		if rec, ok := s.records[kbKey{kbID: kbID, name: name}]; ok {
			out[i] = cloneRecord(rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) QueryByLength(_ context.Context, kbID string, minLength, maxLength int) (<-chan *Record, <-chan error) {
	out := make(chan *Record)
	errs := make(chan error, 1)

	s.mu.RLock()
	matches := make([]*Record, 0)
	for key, rec := range s.records {
		if key.kbID != kbID {
			continue
		}
		if rec.Length >= minLength && rec.Length <= maxLength {
			matches = append(matches, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	go func() {
		defer close(out)
		defer close(errs)
		for _, rec := range matches {
			out <- rec
		}
	}()
	return out, errs
}

func (s *MemoryStore) Close() error { return nil }

func cloneRecord(rec *Record) *Record {
	events := make([][]string, len(rec.Events))
	for i, e := range rec.Events {
		events[i] = append([]string(nil), e...)
	}
	windows := make(map[string][]float64, len(rec.EmotiveWindows))
	for k, v := range rec.EmotiveWindows {
		windows[k] = append([]float64(nil), v...)
	}
	sets := make(map[string]map[string]bool, len(rec.MetadataSets))
	for k, v := range rec.MetadataSets {
		cp := make(map[string]bool, len(v))
		for val := range v {
			cp[val] = true
		}
		sets[k] = cp
	}
	return &Record{
		KBID: rec.KBID, Name: rec.Name, Events: events, Length: rec.Length,
		Frequency: rec.Frequency, EmotiveWindows: windows, MetadataSets: sets,
	}
}
