package katoerr_test

import (
	stderrors "errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sevakavakians/kato/internal/katoerr"
)

func TestKatoErr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "katoerr Suite")
}

var _ = Describe("Error", func() {
	It("reports its code via CodeOf", func() {
		err := katoerr.New(katoerr.TooFewSymbols, "need at least two symbols", nil)
		Expect(katoerr.CodeOf(err)).To(Equal(katoerr.TooFewSymbols))
	})

	It("matches errors.Is by code, ignoring message and context", func() {
		err := katoerr.New(katoerr.NotFound, "pattern absent", map[string]interface{}{"name": "abc"})
		Expect(stderrors.Is(err, katoerr.New(katoerr.NotFound, "different message", nil))).To(BeTrue())
		Expect(stderrors.Is(err, katoerr.New(katoerr.Conflict, "different message", nil))).To(BeFalse())
	})

	It("preserves the wrapped cause", func() {
		cause := stderrors.New("connection reset")
		err := katoerr.Wrap(katoerr.CorpusUnavailable, cause, "candidate generation failed", nil)
		Expect(err.Error()).To(ContainSubstring("connection reset"))
		Expect(stderrors.Unwrap(err)).NotTo(BeNil())
	})

	It("carries the retriable flag for VectorBackendError", func() {
		retriable := katoerr.VectorBackendErr(stderrors.New("timeout"), true, nil)
		Expect(katoerr.IsRetriable(retriable)).To(BeTrue())

		fatal := katoerr.VectorBackendErr(stderrors.New("dimension mismatch"), false, nil)
		Expect(katoerr.IsRetriable(fatal)).To(BeFalse())
	})

	It("never reports retriable for non-VectorBackendError kinds", func() {
		err := katoerr.New(katoerr.InvalidInput, "empty event", nil)
		Expect(katoerr.IsRetriable(err)).To(BeFalse())
	})
})
