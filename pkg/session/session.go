// Package session implements the Session / STM Manager (spec §4.9):
// per-session working memory, the EMPTY/ACCUMULATING/LEARNING state
// machine, and the observe/learn/predict operations that drive every
// other component.
package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sevakavakians/kato/internal/katoerr"
	"github.com/sevakavakians/kato/pkg/candidatefilter"
	"github.com/sevakavakians/kato/pkg/hashing"
	"github.com/sevakavakians/kato/pkg/matcher"
	"github.com/sevakavakians/kato/pkg/metadatacache"
	"github.com/sevakavakians/kato/pkg/metrics"
	"github.com/sevakavakians/kato/pkg/observation"
	"github.com/sevakavakians/kato/pkg/patternstore"
	"github.com/sevakavakians/kato/pkg/segmenter"
	"github.com/sevakavakians/kato/pkg/vectorindex"
)

// State is one of the Session/STM Manager's three states.
type State string

const (
	StateEmpty        State = "EMPTY"
	StateAccumulating State = "ACCUMULATING"
	StateLearning     State = "LEARNING"
)

// STMMode governs what happens to STM after a successful learn.
type STMMode string

const (
	STMModeClear   STMMode = "CLEAR"
	STMModeRolling STMMode = "ROLLING"
)

// Config is the set of per-session-overridable options (spec §6).
type Config struct {
	MaxPatternLength int // 0 disables auto-learn
	STMMode          STMMode
	Persistence      int
	RecallThreshold  float64
	MaxPredictions   int
	SearchDepth      int
	RankSortAlgo     string // potential | confidence | evidence | itfdf_similarity | tfidf_score
	TTL              time.Duration
	AutoExtendTTL    bool
}

// DefaultConfig mirrors spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxPatternLength: 0,
		STMMode:          STMModeClear,
		Persistence:      1,
		RecallThreshold:  0.1,
		MaxPredictions:   100,
		SearchDepth:      1000,
		RankSortAlgo:     "potential",
		TTL:              30 * time.Minute,
		AutoExtendTTL:    true,
	}
}

// Session is one STM actor: a kb_id-bound working memory plus its
// accumulators. All mutation happens behind Manager's per-session
// lock — Session itself holds no lock.
type Session struct {
	ID     string
	KBID   string
	Config Config

	State State

	stmEvents          [][]string
	emotiveAccumulator []map[string]float64
	metadataAccumulator []map[string]interface{}
	observationCounter int

	lastAccess time.Time
}

func newSession(id, kbID string, cfg Config) *Session {
	return &Session{
		ID:         id,
		KBID:       kbID,
		Config:     cfg,
		State:      StateEmpty,
		lastAccess: timeNow(),
	}
}

// timeNow is the one indirection point for the session package's use
// of wall-clock time (TTL bookkeeping only — never stored pattern
// identity, which is governed entirely by pkg/hashing).
var timeNow = time.Now

// STMLength returns the number of unlearned events currently held.
func (s *Session) STMLength() int { return len(s.stmEvents) }

// STMEvents returns a defensive copy of the current STM events.
func (s *Session) STMEvents() [][]string {
	out := make([][]string, len(s.stmEvents))
	copy(out, s.stmEvents)
	return out
}

// Manager owns every live session plus the backends every operation
// ultimately drives.
type Manager struct {
	store   patternstore.Store
	cache   metadatacache.Cache
	vectors vectorindex.Client
	index   candidatefilter.Index
	logger  *logrus.Logger

	registry *registry

	// OnCacheRepairNeeded, if set, is called whenever a Metadata Cache
	// update after a successful Pattern Store write fails — spec
	// §4.9's "timeout partway through learn after a successful store
	// write but before cache update is safe (repair on read)". The
	// Control Surface wires this to its repair-task queue.
	OnCacheRepairNeeded func(kbID, name string)
}

// NewManager wires a Manager to its four backends.
func NewManager(store patternstore.Store, cache metadatacache.Cache, vectors vectorindex.Client, index candidatefilter.Index, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{store: store, cache: cache, vectors: vectors, index: index, logger: logger, registry: newRegistry()}
}

// CreateSession allocates a new session bound to kbID.
func (m *Manager) CreateSession(kbID string, cfg Config) string {
	id := uuid.NewString()
	m.registry.put(id, newSession(id, kbID, cfg))
	m.logger.WithFields(logrus.Fields{"session_id": id, "kb_id": kbID}).Debug("session created")
	return id
}

// DeleteSession discards a session's STM without learning it.
func (m *Manager) DeleteSession(sessionID string) error {
	if !m.registry.delete(sessionID) {
		return katoerr.New(katoerr.NotFound, "session not found", map[string]interface{}{"session_id": sessionID})
	}
	return nil
}

// ObserveResult is observe()'s return shape (spec §6).
type ObserveResult struct {
	Status           string
	STMLength        int
	ObservationIndex int
}

// Observe runs spec §4.9's observe(): vector substitution,
// canonicalization, STM append, and (if the auto-learn threshold is
// reached) an internal learn.
func (m *Manager) Observe(ctx context.Context, sessionID string, obs observation.Observation) (ObserveResult, error) {
	if err := observation.Validate(obs); err != nil {
		return ObserveResult{}, err
	}

	sess, unlock, err := m.lockSession(sessionID)
	if err != nil {
		return ObserveResult{}, err
	}
	defer unlock()

	event, err := observation.Canonicalize(ctx, m.vectors, sess.KBID, obs)
	if err != nil {
		return ObserveResult{}, err
	}

	sess.stmEvents = append(sess.stmEvents, event)
	sess.emotiveAccumulator = append(sess.emotiveAccumulator, obs.Emotives)
	sess.metadataAccumulator = append(sess.metadataAccumulator, obs.Metadata)
	sess.observationCounter++
	if sess.State == StateEmpty {
		sess.State = StateAccumulating
	}

	result := ObserveResult{Status: "ok", STMLength: len(sess.stmEvents), ObservationIndex: sess.observationCounter - 1}

	if sess.Config.MaxPatternLength > 0 && len(sess.stmEvents) >= sess.Config.MaxPatternLength {
		if _, _, err := m.learnLocked(ctx, sess); err != nil {
			m.logger.WithError(err).Warn("auto-learn failed")
		}
	}
	return result, nil
}

// LearnResult is learn()'s return shape.
type LearnResult struct {
	PatternName string
	Created     bool
}

// Learn runs spec §4.9's learn().
func (m *Manager) Learn(ctx context.Context, sessionID string) (LearnResult, error) {
	sess, unlock, err := m.lockSession(sessionID)
	if err != nil {
		return LearnResult{}, err
	}
	defer unlock()

	name, created, err := m.learnLocked(ctx, sess)
	if err != nil {
		return LearnResult{}, err
	}
	return LearnResult{PatternName: name, Created: created}, nil
}

func (m *Manager) learnLocked(ctx context.Context, sess *Session) (string, bool, error) {
	totalSymbols := hashing.TotalSymbols(sess.stmEvents)
	if totalSymbols < 2 {
		return "", false, katoerr.New(katoerr.TooFewSymbols, "learn requires at least 2 STM symbols", map[string]interface{}{"total_symbols": totalSymbols})
	}

	sess.State = StateLearning

	name, err := hashing.HashPattern(sess.stmEvents)
	if err != nil {
		return "", false, err
	}

	emotives := aggregateEmotives(sess.emotiveAccumulator)
	metadata := aggregateMetadata(sess.metadataAccumulator)

	persistence := sess.Config.Persistence
	if persistence < 1 {
		persistence = 1
	}

	created, err := m.store.Put(ctx, sess.KBID, patternstore.PutInput{
		Name:        name,
		Events:      sess.stmEvents,
		Length:      totalSymbols,
		Emotives:    emotives,
		Metadata:    metadata,
		Persistence: persistence,
	})
	if err != nil {
		return "", false, err
	}

	if err := m.updateCacheAfterLearn(ctx, sess.KBID, name, sess.stmEvents, emotives, metadata, persistence, created); err != nil {
		m.logger.WithError(err).Warn("metadata cache update failed after pattern store write; requesting cache repair")
		if m.OnCacheRepairNeeded != nil {
			m.OnCacheRepairNeeded(sess.KBID, name)
		}
	}

	if err := m.index.IndexPattern(ctx, sess.KBID, name, sess.stmEvents); err != nil {
		m.logger.WithError(err).Warn("candidate filter index update failed after pattern store write")
	}

	m.transitionAfterLearn(sess)
	return name, created, nil
}

func (m *Manager) updateCacheAfterLearn(ctx context.Context, kbID, name string, events [][]string, emotives map[string]float64, metadata map[string][]string, persistence int, created bool) error {
	if _, err := m.cache.IncrFrequency(ctx, kbID, name); err != nil {
		return err
	}
	if len(emotives) > 0 {
		if err := m.cache.AppendEmotive(ctx, kbID, name, emotives, persistence); err != nil {
			return err
		}
	}
	for key, values := range metadata {
		if err := m.cache.AppendMetadata(ctx, kbID, name, key, values); err != nil {
			return err
		}
	}

	uniqueSymbols := make(map[string]struct{})
	for _, event := range events {
		for _, sym := range event {
			uniqueSymbols[sym] = struct{}{}
		}
	}
	if created {
		if err := m.cache.IncrUniquePatternCount(ctx, kbID); err != nil {
			return err
		}
		for sym := range uniqueSymbols {
			if err := m.cache.IncrPatternMemberFrequency(ctx, kbID, sym, 1); err != nil {
				return err
			}
		}
	}
	for _, event := range events {
		for _, sym := range event {
			if err := m.cache.IncrSymbolFrequency(ctx, kbID, sym, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) transitionAfterLearn(sess *Session) {
	switch sess.Config.STMMode {
	case STMModeRolling:
		// MaxPatternLength<=0 disables auto-learn entirely, not the
		// rolling window: a manual Learn() call must still preserve
		// the full STM so a second immediate Learn() reproduces the
		// same pattern name (spec §8 Idempotence), rather than
		// truncating to empty like CLEAR mode would.
		if sess.Config.MaxPatternLength <= 0 {
			sess.State = StateAccumulating
			return
		}
		keep := sess.Config.MaxPatternLength - 1
		if keep < 0 {
			keep = 0
		}
		if keep >= len(sess.stmEvents) {
			sess.State = StateAccumulating
			return
		}
		sess.stmEvents = append([][]string(nil), sess.stmEvents[len(sess.stmEvents)-keep:]...)
		sess.emotiveAccumulator = append([]map[string]float64(nil), sess.emotiveAccumulator[len(sess.emotiveAccumulator)-keep:]...)
		sess.metadataAccumulator = append([]map[string]interface{}(nil), sess.metadataAccumulator[len(sess.metadataAccumulator)-keep:]...)
		if len(sess.stmEvents) == 0 {
			sess.State = StateEmpty
		} else {
			sess.State = StateAccumulating
		}
	default: // STMModeClear
		sess.stmEvents = nil
		sess.emotiveAccumulator = nil
		sess.metadataAccumulator = nil
		sess.State = StateEmpty
	}
}

// GetSTM returns the session's current STM events and state.
func (m *Manager) GetSTM(sessionID string) ([][]string, State, error) {
	sess, unlock, err := m.lockSession(sessionID)
	if err != nil {
		return nil, "", err
	}
	defer unlock()
	return sess.STMEvents(), sess.State, nil
}

// ClearSTM discards STM without learning it, returning to EMPTY.
func (m *Manager) ClearSTM(sessionID string) error {
	sess, unlock, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	resetSTM(sess)
	return nil
}

// resetSTM returns sess to EMPTY, discarding STM and its accumulators.
func resetSTM(sess *Session) {
	sess.stmEvents = nil
	sess.emotiveAccumulator = nil
	sess.metadataAccumulator = nil
	sess.observationCounter = 0
	sess.State = StateEmpty
}

// ResetSessionsForKB clears STM to EMPTY on every live session bound to
// kbID, without deleting the sessions or touching their TTL. Used by
// pkg/kato.ClearAll to make good on "resets every live session bound to
// kbID" for the working-memory half of that reset; the vector-index
// namespace drop is the caller's job.
func (m *Manager) ResetSessionsForKB(kbID string) {
	for _, id := range m.registry.idsByKB(kbID) {
		entry, ok := m.registry.get(id)
		if !ok {
			continue
		}
		entry.mu.Lock()
		if entry.session.KBID == kbID {
			resetSTM(entry.session)
		}
		entry.mu.Unlock()
	}
}

// lockSession locks the session's actor mutex and enforces its TTL
// (spec §3: "Sessions expire after a configurable TTL; access extends
// TTL if enabled"; spec §7: SessionExpired). A session whose TTL has
// elapsed since lastAccess is deleted from the registry and reported
// as SessionExpired rather than handed back to the caller; otherwise
// lastAccess is extended only when AutoExtendTTL is set.
func (m *Manager) lockSession(sessionID string) (*Session, func(), error) {
	entry, ok := m.registry.get(sessionID)
	if !ok {
		return nil, nil, katoerr.New(katoerr.NotFound, "session not found", map[string]interface{}{"session_id": sessionID})
	}
	entry.mu.Lock()

	sess := entry.session
	if sess.Config.TTL > 0 && timeNow().Sub(sess.lastAccess) > sess.Config.TTL {
		entry.mu.Unlock()
		m.registry.delete(sessionID)
		return nil, nil, katoerr.New(katoerr.SessionExpired, "session TTL elapsed", map[string]interface{}{"session_id": sessionID})
	}
	if sess.Config.AutoExtendTTL {
		sess.touch()
	}
	return sess, entry.mu.Unlock, nil
}

func (s *Session) touch() { s.lastAccess = timeNow() }

func aggregateEmotives(accumulator []map[string]float64) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, m := range accumulator {
		for k, v := range m {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

// aggregateMetadata set-unions string-coerced values per key across
// every observation accumulated this learning (spec §4.9 learn()
// step 4). The per-learning union is itself unioned again into the
// pattern's persisted MetadataSets by the Pattern Store.
func aggregateMetadata(accumulator []map[string]interface{}) map[string][]string {
	seen := make(map[string]map[string]struct{})
	for _, m := range accumulator {
		for k, v := range m {
			s := toStringValue(v)
			if seen[k] == nil {
				seen[k] = make(map[string]struct{})
			}
			seen[k][s] = struct{}{}
		}
	}
	out := make(map[string][]string, len(seen))
	for k, set := range seen {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		out[k] = values
	}
	return out
}

func toStringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Prediction is the per-candidate result returned by Predict (spec §6).
type Prediction struct {
	Name       string
	Frequency  int
	Events     [][]string
	Past       [][]string
	Present    [][]string
	Future     [][]string
	Matches    []string
	Missing    []string
	Extras     []string
	Emotives   map[string]float64
	Metadata   map[string][]string
	Metrics    metrics.Result
}

// Predict runs spec §4.9's predict(): candidate filter, matcher,
// segmenter, metric computer, in that order.
func (m *Manager) Predict(ctx context.Context, sessionID string) ([]Prediction, error) {
	sess, unlock, err := m.lockSession(sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	observedEvents := sess.STMEvents()
	uniqueObserved := uniqueSymbolCount(observedEvents)
	if uniqueObserved < 2 {
		return nil, nil
	}

	candidates, err := candidatefilter.Run(ctx, m.index, sess.KBID, observedEvents, candidatefilter.Config{
		SearchDepth:     sess.Config.SearchDepth,
		RecallThreshold: sess.Config.RecallThreshold,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	records, err := m.store.GetBatch(ctx, sess.KBID, names)
	if err != nil {
		return nil, err
	}

	globalStats, err := m.cache.GetGlobalStats(ctx, sess.KBID)
	if err != nil {
		return nil, err
	}

	var predictions []Prediction
	rankValues := make(map[string]float64)
	byName := make(map[string]Prediction)

	for _, rec := range records {
		if rec == nil {
			continue
		}
		match, ok := matcher.MatchCandidate(rec.Name, rec.Events, observedEvents, sess.Config.RecallThreshold)
		if !ok {
			continue
		}
		seg := segmenter.Segment(rec.Events, match.FirstIndex, match.LastIndex, observedEvents)

		memberFreq := make(map[string]int64, len(seg.Present))
		for _, sym := range flattenUnique(seg.Present) {
			stats, err := m.cache.GetSymbolStats(ctx, sess.KBID, sym)
			if err != nil {
				return nil, err
			}
			memberFreq[sym] = stats.PatternMemberFrequency
		}

		result, err := metrics.Compute(metrics.Input{
			Matches:                         match.Matches,
			Present:                         match.Present,
			PresentEvents:                   seg.Present,
			PresentEventMatch:               eventMatchFlags(seg.Present, match.Matches),
			Extras:                          match.Extras,
			CandidateFrequency:              int64(rec.Frequency),
			TotalEnsemblePatternFrequencies: totalFrequency(records),
			TotalUniquePatterns:             globalStats.TotalUniquePatterns,
			PatternMemberFrequency:          memberFreq,
		})
		if err != nil {
			return nil, err
		}

		emotiveWindows, err := m.cache.GetEmotiveWindows(ctx, sess.KBID, rec.Name)
		if err != nil {
			return nil, err
		}

		prediction := Prediction{
			Name:      hashing.PatternExternalID(rec.Name),
			Frequency: rec.Frequency,
			Events:    rec.Events,
			Past:      seg.Past,
			Present:   seg.Present,
			Future:    seg.Future,
			Matches:   match.Matches,
			Missing:   seg.Missing,
			Extras:    seg.Extras,
			Emotives:  meanOfWindows(emotiveWindows),
			Metadata:  sortedSets(rec.MetadataSets),
			Metrics:   result,
		}
		predictions = append(predictions, prediction)
		byName[rec.Name] = prediction
		rankValues[rec.Name] = rankValue(sess.Config.RankSortAlgo, result)
	}

	rankedNames := metrics.Rank(keysOf(byName), rankValues)
	ranked := make([]Prediction, 0, len(rankedNames))
	for _, name := range rankedNames {
		ranked = append(ranked, byName[name])
	}
	if sess.Config.MaxPredictions > 0 && len(ranked) > sess.Config.MaxPredictions {
		ranked = ranked[:sess.Config.MaxPredictions]
	}
	return ranked, nil
}

func rankValue(algo string, r metrics.Result) float64 {
	switch algo {
	case "confidence":
		return r.Confidence
	case "evidence":
		return r.Evidence
	case "itfdf_similarity":
		return r.ItfdfSimilarity
	case "tfidf_score":
		return r.TFIDFScore
	default:
		return r.Potential
	}
}

func uniqueSymbolCount(events [][]string) int {
	set := make(map[string]struct{})
	for _, e := range events {
		for _, sym := range e {
			set[sym] = struct{}{}
		}
	}
	return len(set)
}

func flattenUnique(events [][]string) []string {
	set := make(map[string]struct{})
	for _, e := range events {
		for _, sym := range e {
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func eventMatchFlags(presentEvents [][]string, matches []string) []bool {
	matchSet := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		matchSet[m] = struct{}{}
	}
	flags := make([]bool, len(presentEvents))
	for i, event := range presentEvents {
		for _, sym := range event {
			if _, ok := matchSet[sym]; ok {
				flags[i] = true
				break
			}
		}
	}
	return flags
}

func totalFrequency(records []*patternstore.Record) int64 {
	var total int64
	for _, r := range records {
		if r != nil {
			total += int64(r.Frequency)
		}
	}
	return total
}

func meanOfWindows(windows map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(windows))
	for k, values := range windows {
		if len(values) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		out[k] = sum / float64(len(values))
	}
	return out
}

func sortedSets(sets map[string]map[string]bool) map[string][]string {
	out := make(map[string][]string, len(sets))
	for k, set := range sets {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		out[k] = values
	}
	return out
}

func keysOf(m map[string]Prediction) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
