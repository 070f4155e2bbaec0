package patternstore_test

import (
	"context"
	"regexp"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sevakavakians/kato/pkg/patternstore"
)

const patternColumns = "kb_id, name, events, unique_symbols, length, frequency, emotive_windows, metadata_sets"

var _ = Describe("PostgresStore", func() {
	var (
		store *patternstore.PostgresStore
		mock  sqlmock.Sqlmock
		ctx   context.Context
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		Expect(err).NotTo(HaveOccurred())
		mock = m
		store = patternstore.NewPostgresStoreWithDB(sqlx.NewDb(db, "sqlmock"), nil)
		ctx = context.Background()
	})

	It("inserts a new pattern inside a committed transaction and reports created=true", func() {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT " + patternColumns)).
			WithArgs("kb1", "abc").
			WillReturnRows(sqlmock.NewRows([]string{
				"kb_id", "name", "events", "unique_symbols", "length", "frequency", "emotive_windows", "metadata_sets",
			})) // no rows: pattern does not exist yet
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patterns")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		created, err := store.Put(ctx, "kb1", patternstore.PutInput{
			Name: "abc", Events: [][]string{{"x"}}, Length: 1, Persistence: 3,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("rolls back and surfaces CorpusUnavailable when the insert fails", func() {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT " + patternColumns)).
			WithArgs("kb1", "abc").
			WillReturnRows(sqlmock.NewRows([]string{
				"kb_id", "name", "events", "unique_symbols", "length", "frequency", "emotive_windows", "metadata_sets",
			}))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patterns")).
			WillReturnError(sqlmock.ErrCancelled)
		mock.ExpectRollback()

		_, err := store.Put(ctx, "kb1", patternstore.PutInput{
			Name: "abc", Events: [][]string{{"x"}}, Length: 1, Persistence: 3,
		})
		Expect(err).To(HaveOccurred())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("surfaces NotFound when a pattern does not exist", func() {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT " + patternColumns)).
			WithArgs("kb1", "missing").
			WillReturnRows(sqlmock.NewRows([]string{
				"kb_id", "name", "events", "unique_symbols", "length", "frequency", "emotive_windows", "metadata_sets",
			}))

		_, err := store.Get(ctx, "kb1", "missing")
		Expect(err).To(HaveOccurred())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
