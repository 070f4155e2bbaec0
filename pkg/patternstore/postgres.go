package patternstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/sevakavakians/kato/internal/katoerr"
)

// PostgresStore is the blessed durable Pattern Store implementation:
// every Put is committed inside a single transaction so a partial
// write is never visible (spec §4.3 "partial writes must not produce
// a visible record"), and every write is acknowledged only after the
// driver reports the commit, which for a majority-synchronous
// Postgres cluster is the durability guarantee spec §4.3 asks for.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// OpenPostgresStore connects to dsn via pgx's database/sql driver.
func OpenPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to connect to pattern store", nil)
	}
	return NewPostgresStoreWithDB(db, logger), nil
}

// NewPostgresStoreWithDB wraps an already-open *sqlx.DB, letting tests
// inject a go-sqlmock connection instead of a real Postgres instance.
func NewPostgresStoreWithDB(db *sqlx.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

type patternRow struct {
	KBID           string         `db:"kb_id"`
	Name           string         `db:"name"`
	Events         []byte         `db:"events"`
	UniqueSymbols  pq.StringArray `db:"unique_symbols"`
	Length         int            `db:"length"`
	Frequency      int            `db:"frequency"`
	EmotiveWindows []byte         `db:"emotive_windows"`
	MetadataSets   []byte         `db:"metadata_sets"`
}

func (s *PostgresStore) Put(ctx context.Context, kbID string, in PutInput) (bool, error) {
	if in.Name == "" {
		return false, katoerr.New(katoerr.InvalidInput, "pattern name cannot be empty", nil)
	}
	persistence := in.Persistence
	if persistence < 1 {
		persistence = 1
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to begin pattern store transaction", nil)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var row patternRow
	err = tx.GetContext(ctx, &row,
		`SELECT kb_id, name, events, unique_symbols, length, frequency, emotive_windows, metadata_sets
		 FROM patterns WHERE kb_id = $1 AND name = $2 FOR UPDATE`, kbID, in.Name)

	created := false
	var windows map[string][]float64
	var sets map[string]map[string]bool
	var frequency int

	switch {
	case err == sql.ErrNoRows:
		created = true
		windows = map[string][]float64{}
		sets = map[string]map[string]bool{}
		frequency = 0
	case err != nil:
		return false, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read pattern row", nil)
	default:
		if jerr := json.Unmarshal(row.EmotiveWindows, &windows); jerr != nil {
			return false, katoerr.Wrap(katoerr.CorpusUnavailable, jerr, "corrupt emotive_windows column", nil)
		}
		var setsRaw map[string][]string
		if jerr := json.Unmarshal(row.MetadataSets, &setsRaw); jerr != nil {
			return false, katoerr.Wrap(katoerr.CorpusUnavailable, jerr, "corrupt metadata_sets column", nil)
		}
		sets = expandSets(setsRaw)
		frequency = row.Frequency
	}

	frequency++
	for k, v := range in.Emotives {
		window := append(windows[k], v)
		if len(window) > persistence {
			window = window[len(window)-persistence:]
		}
		windows[k] = window
	}
	for k, values := range in.Metadata {
		set, ok := sets[k]
		if !ok {
			set = make(map[string]bool)
			sets[k] = set
		}
		for _, v := range values {
			set[v] = true
		}
	}

	eventsJSON, err := json.Marshal(in.Events)
	if err != nil {
		return false, katoerr.Wrap(katoerr.InvalidInput, err, "failed to encode events", nil)
	}
	windowsJSON, err := json.Marshal(windows)
	if err != nil {
		return false, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to encode emotive windows", nil)
	}
	setsJSON, err := json.Marshal(flattenSets(sets))
	if err != nil {
		return false, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to encode metadata sets", nil)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO patterns (kb_id, name, events, unique_symbols, length, frequency, emotive_windows, metadata_sets, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (kb_id, name) DO UPDATE SET
		   frequency = EXCLUDED.frequency,
		   emotive_windows = EXCLUDED.emotive_windows,
		   metadata_sets = EXCLUDED.metadata_sets,
		   updated_at = now()`,
		kbID, in.Name, eventsJSON, pq.Array(uniqueSymbols(in.Events)), in.Length, frequency, windowsJSON, setsJSON)
	if err != nil {
		return false, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to upsert pattern", nil)
	}

	if err := tx.Commit(); err != nil {
		return false, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to commit pattern store transaction", nil)
	}
	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, kbID, name string) (*Record, error) {
	var row patternRow
	err := s.db.GetContext(ctx, &row,
		`SELECT kb_id, name, events, unique_symbols, length, frequency, emotive_windows, metadata_sets
		 FROM patterns WHERE kb_id = $1 AND name = $2`, kbID, name)
	if err == sql.ErrNoRows {
		return nil, katoerr.New(katoerr.NotFound, "pattern not found", map[string]interface{}{"kb_id": kbID, "name": name})
	}
	if err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read pattern", nil)
	}
	return rowToRecord(row)
}

func (s *PostgresStore) GetBatch(ctx context.Context, kbID string, names []string) ([]*Record, error) {
	out := make([]*Record, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []patternRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT kb_id, name, events, unique_symbols, length, frequency, emotive_windows, metadata_sets
		 FROM patterns WHERE kb_id = $1 AND name = ANY($2)`, kbID, pq.Array(names))
	if err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to batch-read patterns", nil)
	}
	byName := make(map[string]patternRow, len(rows))
	for _, r := range rows {
		byName[r.Name] = r
	}
	for i, name := range names {
		if r, ok := byName[name]; ok {
			rec, err := rowToRecord(r)
			if err != nil {
				return nil, err
			}
			out[i] = rec
		}
	}
	return out, nil
}

func (s *PostgresStore) QueryByLength(ctx context.Context, kbID string, minLength, maxLength int) (<-chan *Record, <-chan error) {
	out := make(chan *Record)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		rows, err := s.db.QueryxContext(ctx,
			`SELECT kb_id, name, events, unique_symbols, length, frequency, emotive_windows, metadata_sets
			 FROM patterns WHERE kb_id = $1 AND length BETWEEN $2 AND $3`, kbID, minLength, maxLength)
		if err != nil {
			errs <- katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to query patterns by length", nil)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row patternRow
			if err := rows.StructScan(&row); err != nil {
				errs <- katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to scan pattern row", nil)
				return
			}
			rec, err := rowToRecord(row)
			if err != nil {
				errs <- err
				return
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				errs <- katoerr.New(katoerr.DeadlineExceeded, "query cancelled", nil)
				return
			}
		}
		if err := rows.Err(); err != nil {
			errs <- katoerr.Wrap(katoerr.CorpusUnavailable, err, "pattern row iteration failed", nil)
		}
	}()

	return out, errs
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func rowToRecord(row patternRow) (*Record, error) {
	var events [][]string
	if err := json.Unmarshal(row.Events, &events); err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "corrupt events column", nil)
	}
	var windows map[string][]float64
	if err := json.Unmarshal(row.EmotiveWindows, &windows); err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "corrupt emotive_windows column", nil)
	}
	var setsRaw map[string][]string
	if err := json.Unmarshal(row.MetadataSets, &setsRaw); err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "corrupt metadata_sets column", nil)
	}
	sets := expandSets(setsRaw)
	return &Record{
		KBID: row.KBID, Name: row.Name, Events: events, Length: row.Length,
		Frequency: row.Frequency, EmotiveWindows: windows, MetadataSets: sets,
	}, nil
}

// flattenSets renders the in-memory set representation as sorted
// slices for JSON storage, keeping the on-disk shape independent of
// Go map iteration order.
func flattenSets(sets map[string]map[string]bool) map[string][]string {
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

func expandSets(raw map[string][]string) map[string]map[string]bool {
	sets := make(map[string]map[string]bool, len(raw))
	for k, values := range raw {
		set := make(map[string]bool, len(values))
		for _, v := range values {
			set[v] = true
		}
		sets[k] = set
	}
	return sets
}

func uniqueSymbols(events [][]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, e := range events {
		for _, s := range e {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
