package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sevakavakians/kato/internal/katoerr"
	"github.com/sevakavakians/kato/internal/testsupport"
	"github.com/sevakavakians/kato/pkg/candidatefilter"
	"github.com/sevakavakians/kato/pkg/metadatacache"
	"github.com/sevakavakians/kato/pkg/observation"
	"github.com/sevakavakians/kato/pkg/patternstore"
	"github.com/sevakavakians/kato/pkg/session"
	"github.com/sevakavakians/kato/pkg/vectorindex"
)

var fixtures = testsupport.NewFactory()

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "session Suite")
}

func newManager() *session.Manager {
	store := patternstore.NewMemoryStore()
	cache := metadatacache.NewMemoryCache()
	vectors := vectorindex.NewMemoryClient(logrus.New())
	idx := candidatefilter.NewMemoryIndex()
	return session.NewManager(store, cache, vectors, idx, logrus.New())
}

var _ = Describe("Manager", func() {
	var (
		mgr       *session.Manager
		ctx       context.Context
		sessionID string
	)

	BeforeEach(func() {
		mgr = newManager()
		ctx = context.Background()
		sessionID = mgr.CreateSession(testsupport.DefaultKBID, fixtures.StandardConfig())
	})

	It("starts EMPTY and transitions to ACCUMULATING on first observation", func() {
		_, state, err := mgr.GetSTM(sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(session.StateEmpty))

		_, err = mgr.Observe(ctx, sessionID, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())

		_, state, err = mgr.GetSTM(sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(session.StateAccumulating))
	})

	It("rejects an empty observation", func() {
		_, err := mgr.Observe(ctx, sessionID, observation.Observation{})
		Expect(err).To(HaveOccurred())
		Expect(katoerr.CodeOf(err)).To(Equal(katoerr.InvalidInput))
	})

	It("fails learn with TooFewSymbols when STM has under two symbols", func() {
		_, err := mgr.Observe(ctx, sessionID, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())

		_, err = mgr.Learn(ctx, sessionID)
		Expect(err).To(HaveOccurred())
		Expect(katoerr.CodeOf(err)).To(Equal(katoerr.TooFewSymbols))
	})

	It("learns a pattern and reports created=true on first write, false on re-learn", func() {
		_, err := mgr.Observe(ctx, sessionID, observation.Observation{Strings: []string{"a", "b"}})
		Expect(err).NotTo(HaveOccurred())
		result, err := mgr.Learn(ctx, sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(BeTrue())

		second := mgr.CreateSession(testsupport.DefaultKBID, session.DefaultConfig())
		_, err = mgr.Observe(ctx, second, observation.Observation{Strings: []string{"a", "b"}})
		Expect(err).NotTo(HaveOccurred())
		result2, err := mgr.Learn(ctx, second)
		Expect(err).NotTo(HaveOccurred())
		Expect(result2.Created).To(BeFalse())
		Expect(result2.PatternName).To(Equal(result.PatternName))
	})

	It("clears STM after learn in CLEAR mode", func() {
		_, err := mgr.Observe(ctx, sessionID, observation.Observation{Strings: []string{"a", "b"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Learn(ctx, sessionID)
		Expect(err).NotTo(HaveOccurred())

		stm, state, err := mgr.GetSTM(sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stm).To(BeEmpty())
		Expect(state).To(Equal(session.StateEmpty))
	})

	It("retains a rolling window of MAX_PATTERN_LENGTH-1 events after learn in ROLLING mode", func() {
		id := mgr.CreateSession("kb1", fixtures.RollingConfig(3))

		for _, s := range []string{"a", "b", "c"} {
			_, err := mgr.Observe(ctx, id, observation.Observation{Strings: []string{s}})
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := mgr.Learn(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		stm, state, err := mgr.GetSTM(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(stm).To(HaveLen(2))
		Expect(state).To(Equal(session.StateAccumulating))
	})

	It("auto-learns when STM reaches MAX_PATTERN_LENGTH", func() {
		cfg := session.DefaultConfig()
		cfg.MaxPatternLength = 2
		id := mgr.CreateSession("kb1", cfg)

		_, err := mgr.Observe(ctx, id, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Observe(ctx, id, observation.Observation{Strings: []string{"b"}})
		Expect(err).NotTo(HaveOccurred())

		stm, state, err := mgr.GetSTM(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(stm).To(BeEmpty())
		Expect(state).To(Equal(session.StateEmpty))
	})

	It("returns no predictions when fewer than two STM symbols are observed", func() {
		_, err := mgr.Observe(ctx, sessionID, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())

		predictions, err := mgr.Predict(ctx, sessionID)
		Expect(err).NotTo(HaveOccurred())
		Expect(predictions).To(BeEmpty())
	})

	It("predicts a learned pattern from a partial observation", func() {
		learnID := mgr.CreateSession("kb1", session.DefaultConfig())
		_, err := mgr.Observe(ctx, learnID, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Observe(ctx, learnID, observation.Observation{Strings: []string{"b"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Observe(ctx, learnID, observation.Observation{Strings: []string{"c"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Learn(ctx, learnID)
		Expect(err).NotTo(HaveOccurred())

		cfg := session.DefaultConfig()
		cfg.RecallThreshold = 0.1
		predictID := mgr.CreateSession("kb1", cfg)
		_, err = mgr.Observe(ctx, predictID, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Observe(ctx, predictID, observation.Observation{Strings: []string{"c"}})
		Expect(err).NotTo(HaveOccurred())

		predictions, err := mgr.Predict(ctx, predictID)
		Expect(err).NotTo(HaveOccurred())
		Expect(predictions).NotTo(BeEmpty())
		Expect(predictions[0].Matches).To(ConsistOf("a", "c"))
	})

	It("reproduces the same pattern name and frequency+1 on a second immediate learn in ROLLING mode with no MaxPatternLength", func() {
		cfg := fixtures.StandardConfig()
		cfg.STMMode = session.STMModeRolling
		cfg.MaxPatternLength = 0
		id := mgr.CreateSession("kb1", cfg)

		_, err := mgr.Observe(ctx, id, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Observe(ctx, id, observation.Observation{Strings: []string{"b"}})
		Expect(err).NotTo(HaveOccurred())

		first, err := mgr.Learn(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Created).To(BeTrue())

		second, err := mgr.Learn(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.PatternName).To(Equal(first.PatternName))
		Expect(second.Created).To(BeFalse())

		stm, state, err := mgr.GetSTM(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(stm).To(HaveLen(2))
		Expect(state).To(Equal(session.StateAccumulating))
	})

	It("expires a session whose TTL has elapsed, reporting SessionExpired", func() {
		cfg := fixtures.StandardConfig()
		cfg.TTL = 20 * time.Millisecond
		id := mgr.CreateSession("kb1", cfg)

		_, err := mgr.Observe(ctx, id, observation.Observation{Strings: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())

		time.Sleep(40 * time.Millisecond)

		_, _, err = mgr.GetSTM(id)
		Expect(err).To(HaveOccurred())
		Expect(katoerr.CodeOf(err)).To(Equal(katoerr.SessionExpired))
	})

	It("deletes a session so further operations report NotFound", func() {
		Expect(mgr.DeleteSession(sessionID)).To(Succeed())
		_, _, err := mgr.GetSTM(sessionID)
		Expect(err).To(HaveOccurred())
		Expect(katoerr.CodeOf(err)).To(Equal(katoerr.NotFound))
	})
})
