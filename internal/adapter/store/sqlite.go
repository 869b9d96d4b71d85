package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/tide-data-etl/internal/domain"
)

// SQLiteStore keeps the peak index in a SQLite database so operators can
// query accumulated peaks with plain SQL. Index metadata lives in one
// row per site; peaks are keyed (site, ts) with timestamps stored as
// Unix nanoseconds, matching the identity the merge uses.
type SQLiteStore struct {
	db   *sql.DB
	site string
}

// NewSQLiteStore opens (or creates) the database at path and prepares
// the schema. WAL mode keeps readers unblocked while the pipeline
// writes; the busy timeout covers the occasional concurrent inspection.
func NewSQLiteStore(path, site string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, site: site}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS index_meta (
			site         TEXT PRIMARY KEY,
			threshold_ft REAL NOT NULL,
			generated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS peaks (
			site TEXT NOT NULL,
			ts   INTEGER NOT NULL,
			ft   REAL NOT NULL,
			PRIMARY KEY (site, ts)
		);
	`)
	return err
}

// Load reads the stored index for the configured site. No metadata row
// means no run has persisted yet: an empty index, not an error.
func (s *SQLiteStore) Load(ctx context.Context) (domain.Index, error) {
	var (
		idx         domain.Index
		generatedAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT site, threshold_ft, generated_at FROM index_meta WHERE site = ?`, s.site)
	err := row.Scan(&idx.Site, &idx.ThresholdFt, &generatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Index{}, nil
	case err != nil:
		return domain.Index{}, fmt.Errorf("load index meta: %w", err)
	}
	if generatedAt != 0 {
		idx.GeneratedAt = time.Unix(0, generatedAt).UTC()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, ft FROM peaks WHERE site = ? ORDER BY ts ASC`, s.site)
	if err != nil {
		return domain.Index{}, fmt.Errorf("load peaks: %w", err)
	}
	defer rows.Close()

	idx.Peaks = []domain.PeakRecord{}
	for rows.Next() {
		var (
			ts int64
			ft float64
		)
		if err := rows.Scan(&ts, &ft); err != nil {
			return domain.Index{}, fmt.Errorf("scan peak: %w", err)
		}
		idx.Peaks = append(idx.Peaks, domain.PeakRecord{Time: time.Unix(0, ts).UTC(), Ft: ft})
	}
	if err := rows.Err(); err != nil {
		return domain.Index{}, fmt.Errorf("iterate peaks: %w", err)
	}
	return idx, nil
}

// Save replaces the stored snapshot for the site in one transaction:
// metadata upsert, then a full rewrite of the peak rows. The index
// handed in is already merged and sorted, so a wholesale replace is
// simpler and safer than diffing against the previous rows.
func (s *SQLiteStore) Save(ctx context.Context, idx domain.Index) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var generatedAt int64
	if !idx.GeneratedAt.IsZero() {
		generatedAt = idx.GeneratedAt.UnixNano()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO index_meta (site, threshold_ft, generated_at) VALUES (?, ?, ?)
		ON CONFLICT(site) DO UPDATE SET threshold_ft = excluded.threshold_ft,
			generated_at = excluded.generated_at`,
		s.site, idx.ThresholdFt, generatedAt)
	if err != nil {
		return fmt.Errorf("save index meta: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM peaks WHERE site = ?`, s.site); err != nil {
		return fmt.Errorf("clear peaks: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO peaks (site, ts, ft) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare peak insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range idx.Peaks {
		if _, err := stmt.ExecContext(ctx, s.site, p.Time.UnixNano(), p.Ft); err != nil {
			return fmt.Errorf("insert peak %s: %w", p.Time.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
