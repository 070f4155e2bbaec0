// Package kato is the Control Surface (spec §6): the only public
// facade over the hashing, vector index, pattern store, metadata
// cache, candidate filter, matcher, segmenter, metrics, session, and
// observation packages. Every external caller talks to *KATO, never
// to a sub-package directly.
package kato

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sevakavakians/kato/internal/katoerr"
	"github.com/sevakavakians/kato/pkg/candidatefilter"
	"github.com/sevakavakians/kato/pkg/metadatacache"
	"github.com/sevakavakians/kato/pkg/observation"
	"github.com/sevakavakians/kato/pkg/patternstore"
	"github.com/sevakavakians/kato/pkg/session"
	"github.com/sevakavakians/kato/pkg/vectorindex"
)

// KATO wires every component behind the public operation surface
// spec §6 names, plus the SPEC_FULL-supplemented read operations and
// the repair-task background worker.
type KATO struct {
	sessions *session.Manager
	store    patternstore.Store
	cache    metadatacache.Cache
	vectors  vectorindex.Client
	logger   *logrus.Logger

	repairCh  chan repairTask
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type repairTask struct {
	kbID string
	name string
}

// repairQueueCapacity bounds the in-process repair-task channel so a
// burst of cache-update failures can never block learn() callers
// indefinitely; when the queue is full the new repair task is dropped
// and logged, and that cache entry is not rebuilt.
const repairQueueCapacity = 256

// New constructs a Control Surface over the given backends and starts
// its repair-task worker. Close calls the Close method of store and
// cache; vectors and index have no Close method and are not released
// by Close.
func New(store patternstore.Store, cache metadatacache.Cache, vectors vectorindex.Client, index candidatefilter.Index, logger *logrus.Logger) *KATO {
	if logger == nil {
		logger = logrus.New()
	}
	k := &KATO{
		store:    store,
		cache:    cache,
		vectors:  vectors,
		logger:   logger,
		repairCh: make(chan repairTask, repairQueueCapacity),
		stopCh:   make(chan struct{}),
	}
	k.sessions = session.NewManager(store, cache, vectors, index, logger)
	k.sessions.OnCacheRepairNeeded = k.enqueueRepair

	k.wg.Add(1)
	go k.runRepairWorker()

	return k
}

func (k *KATO) enqueueRepair(kbID, name string) {
	select {
	case k.repairCh <- repairTask{kbID: kbID, name: name}:
	default:
		k.logger.WithFields(logrus.Fields{"kb_id": kbID, "name": name}).Warn("repair queue full; dropping repair task")
	}
}

func (k *KATO) runRepairWorker() {
	defer k.wg.Done()
	for {
		select {
		case <-k.stopCh:
			return
		case task := <-k.repairCh:
			k.repair(task)
		}
	}
}

func (k *KATO) repair(task repairTask) {
	ctx := context.Background()
	rec, err := k.store.Get(ctx, task.kbID, task.name)
	if err != nil {
		k.logger.WithError(err).WithFields(logrus.Fields{"kb_id": task.kbID, "name": task.name}).Warn("repair task could not read pattern store")
		return
	}
	metadataSets := make(map[string][]string, len(rec.MetadataSets))
	for key, set := range rec.MetadataSets {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		metadataSets[key] = values
	}
	err = k.cache.Rebuild(ctx, task.kbID, task.name, metadatacache.RebuildInput{
		Frequency:      int64(rec.Frequency),
		EmotiveWindows: rec.EmotiveWindows,
		MetadataSets:   metadataSets,
	})
	if err != nil {
		k.logger.WithError(err).WithFields(logrus.Fields{"kb_id": task.kbID, "name": task.name}).Warn("repair task failed to rebuild cache entry")
	}
}

// CreateSession allocates a new session bound to kbID.
func (k *KATO) CreateSession(kbID string, opts session.Config) string {
	return k.sessions.CreateSession(kbID, opts)
}

// DeleteSession discards a session's STM without learning it.
func (k *KATO) DeleteSession(sessionID string) error {
	return k.sessions.DeleteSession(sessionID)
}

// Observe appends one observation to a session's STM.
func (k *KATO) Observe(ctx context.Context, sessionID string, obs observation.Observation) (session.ObserveResult, error) {
	return k.sessions.Observe(ctx, sessionID, obs)
}

// Learn converts a session's STM into a persisted pattern.
func (k *KATO) Learn(ctx context.Context, sessionID string) (session.LearnResult, error) {
	return k.sessions.Learn(ctx, sessionID)
}

// Predict runs the candidate filter / matcher / segmenter / metric
// pipeline against a session's current STM.
func (k *KATO) Predict(ctx context.Context, sessionID string) ([]session.Prediction, error) {
	return k.sessions.Predict(ctx, sessionID)
}

// GetSTM returns a session's current STM events and state.
func (k *KATO) GetSTM(sessionID string) ([][]string, session.State, error) {
	return k.sessions.GetSTM(sessionID)
}

// ClearSTM discards STM without learning it.
func (k *KATO) ClearSTM(sessionID string) error {
	return k.sessions.ClearSTM(sessionID)
}

// GetPattern returns a persisted pattern record by (kb_id, name).
func (k *KATO) GetPattern(ctx context.Context, kbID, name string) (*patternstore.Record, error) {
	return k.store.Get(ctx, kbID, name)
}

// GetSymbolStats returns a symbol's kb-wide statistics (SPEC_FULL
// supplemented operation — §4.4 defines the counters, no public
// operation in spec.md §6 surfaces them).
func (k *KATO) GetSymbolStats(ctx context.Context, kbID, symbol string) (metadatacache.SymbolStats, error) {
	return k.cache.GetSymbolStats(ctx, kbID, symbol)
}

// GetGlobalStats returns a kb_id's global statistics (SPEC_FULL
// supplemented operation).
func (k *KATO) GetGlobalStats(ctx context.Context, kbID string) (metadatacache.GlobalStats, error) {
	return k.cache.GetGlobalStats(ctx, kbID)
}

// QueryPatternsByLength streams patterns whose length falls in
// [minLength, maxLength] (SPEC_FULL supplemented operation, following
// the Pattern Store's own streaming contract rather than
// materializing a slice).
func (k *KATO) QueryPatternsByLength(ctx context.Context, kbID string, minLength, maxLength int) (<-chan *patternstore.Record, <-chan error) {
	return k.store.QueryByLength(ctx, kbID, minLength, maxLength)
}

// ClearAll resets every live session bound to kbID and drops its
// vector index namespace. It does not delete durable pattern rows —
// the Pattern Store contract (§4.3) has no bulk-delete operation, and
// a pattern already majority-written is durable by design; "clear
// all" is interpreted as resetting working memory and the vector
// namespace, not as an irreversible corpus wipe. See DESIGN.md.
func (k *KATO) ClearAll(ctx context.Context, kbID string) error {
	k.sessions.ResetSessionsForKB(kbID)
	if err := k.vectors.DropCollection(ctx, kbID); err != nil {
		return err
	}
	return nil
}

// Close stops the repair-task worker and closes every owned backend.
func (k *KATO) Close() error {
	k.closeOnce.Do(func() {
		close(k.stopCh)
	})
	k.wg.Wait()

	var firstErr error
	for _, closer := range []func() error{k.store.Close, k.cache.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to close backend", nil)
		}
	}
	return firstErr
}
