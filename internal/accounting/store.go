package accounting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nozo-moto/datamonitor/pkg/types"
	_ "modernc.org/sqlite"
)

var (
	// ErrAccessDenied means the usage database exists but cannot be read.
	ErrAccessDenied = errors.New("usage database access denied")
	// ErrNotRecorded means no recorder has created the usage database yet.
	ErrNotRecorded = errors.New("usage database not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_buckets (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    uid       INTEGER NOT NULL,
    class     TEXT    NOT NULL,
    start_ms  INTEGER NOT NULL,
    end_ms    INTEGER NOT NULL,
    rx_bytes  INTEGER NOT NULL DEFAULT 0,
    tx_bytes  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_buckets_class_time ON usage_buckets(class, start_ms, end_ms);
`

// Store provides SQLite-backed storage for usage buckets.
type Store struct {
	db       *sql.DB
	readOnly bool
}

// fileDSN turns dbPath into a file: URI so that '?' and '#' in a directory
// name are escaped instead of starting the driver's query string.
func fileDSN(dbPath string, pragmas ...string) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve usage db path: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if len(pragmas) > 0 {
		u.RawQuery = "_pragma=" + strings.Join(pragmas, "&_pragma=")
	}
	return u.String(), nil
}

// OpenStore opens (or creates) the usage database at dbPath and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	dsn, err := fileDSN(dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}

	// WAL lets dashboards read while the recorder writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing usage database for queries only.
func OpenReadOnly(dbPath string) (*Store, error) {
	f, err := os.Open(dbPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotRecorded, dbPath)
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, dbPath)
	case err != nil:
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	f.Close()

	dsn, err := fileDSN(dbPath, "query_only(1)", "busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	var tables int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&tables); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return &Store{db: db, readOnly: true}, nil
}

// Insert stores buckets in a single transaction. Zero buckets are skipped.
func (s *Store) Insert(ctx context.Context, buckets ...types.Bucket) error {
	if s.readOnly {
		return fmt.Errorf("insert buckets: %w", ErrAccessDenied)
	}
	if len(buckets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_buckets (uid, class, start_ms, end_ms, rx_bytes, tx_bytes)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range buckets {
		if b.RxBytes == 0 && b.TxBytes == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			b.UID, b.Class.String(), b.Start.UnixMilli(), b.End.UnixMilli(),
			int64(b.RxBytes), int64(b.TxBytes),
		); err != nil {
			return fmt.Errorf("insert bucket uid=%d: %w", b.UID, err)
		}
	}

	return tx.Commit()
}

// QuerySummary returns one bucket per UID summing every stored bucket of
// class that overlaps [start, end). The iterator must be closed.
func (s *Store) QuerySummary(ctx context.Context, class types.NetworkClass, start, end time.Time) (types.BucketIterator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, MIN(start_ms), MAX(end_ms), SUM(rx_bytes), SUM(tx_bytes)
		FROM usage_buckets
		WHERE class = ? AND start_ms < ? AND end_ms > ?
		GROUP BY uid
		ORDER BY uid ASC`,
		class.String(), end.UnixMilli(), start.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query summary %s: %w", class, err)
	}
	return &rowsIterator{rows: rows, class: class}, nil
}

// Prune deletes buckets that ended before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.readOnly {
		return 0, fmt.Errorf("prune buckets: %w", ErrAccessDenied)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM usage_buckets WHERE end_ms <= ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune buckets: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowsIterator struct {
	rows  *sql.Rows
	class types.NetworkClass
	cur   types.Bucket
	err   error
}

func (it *rowsIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	var startMs, endMs, rx, tx int64
	var b types.Bucket
	if err := it.rows.Scan(&b.UID, &startMs, &endMs, &rx, &tx); err != nil {
		it.err = fmt.Errorf("scan bucket: %w", err)
		return false
	}
	b.Class = it.class
	b.Start = time.UnixMilli(startMs)
	b.End = time.UnixMilli(endMs)
	b.RxBytes = uint64(rx)
	b.TxBytes = uint64(tx)
	it.cur = b
	return true
}

func (it *rowsIterator) Bucket() types.Bucket {
	return it.cur
}

func (it *rowsIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowsIterator) Close() error {
	return it.rows.Close()
}
