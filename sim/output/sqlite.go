package output

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers driver "sqlite" (pure Go)

	"github.com/desim/envir/sim"
)

//go:embed schema.sql
var schemaSQL string

// SQLite drivers accepted by OpenSQLite.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// SQLite stores results in a SQLite database. It implements VectorWriter
// and ScalarWriter. Writes are batched in a transaction that Flush commits.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type SQLite struct {
	db     *sql.DB
	tx     *sql.Tx
	driver string
	path   string
	runID  string
}

// OpenSQLite creates or opens the database at path using the named driver
// ("sqlite" or "sqlite3"). The parent directory is created if needed.
func OpenSQLite(driver, path string) (*SQLite, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unknown SQLite driver %q (known: %s, %s)", driver, DriverModernc, DriverMattn)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create result directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db, driver: driver, path: path}, nil
}

// DB returns the underlying database for queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Path returns the database file name.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) fail(op string, err error) error {
	return &BackendError{Backend: "sqlite", Op: op, Err: err}
}

func (s *SQLite) exec(op, query string, args ...any) (sql.Result, error) {
	if s.tx == nil {
		tx, err := s.db.Begin()
		if err != nil {
			return nil, s.fail("begin transaction", err)
		}
		s.tx = tx
	}
	res, err := s.tx.Exec(query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	return res, nil
}

// StartRun records the run and its attributes. Runs already present are
// kept, so several writers may share one database.
func (s *SQLite) StartRun(info RunInfo) error {
	s.runID = info.RunID
	if _, err := s.exec("start run",
		`INSERT OR IGNORE INTO runs (run_id, run_number, network, started_at) VALUES (?, ?, ?, ?)`,
		info.RunID, info.RunNumber, info.Network, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	for name, value := range info.Attributes {
		if _, err := s.exec("start run",
			`INSERT OR REPLACE INTO run_attrs (run_id, name, value) VALUES (?, ?, ?)`,
			info.RunID, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) RegisterVector(component, name string, meta Meta) (int, error) {
	res, err := s.exec("register vector",
		`INSERT INTO vectors (run_id, component, name, unit) VALUES (?, ?, ?, ?)`,
		s.runID, component, name, meta.Unit)
	if err != nil {
		return -1, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return -1, s.fail("register vector", err)
	}
	return int(id), nil
}

func (s *SQLite) RecordValue(vector int, t sim.Time, value float64) error {
	_, err := s.exec("record value",
		`INSERT INTO vector_data (vector_id, time_raw, value) VALUES (?, ?, ?)`,
		vector, t.Raw(), value)
	return err
}

func (s *SQLite) RecordScalar(component, name string, value float64, meta Meta) error {
	_, err := s.exec("record scalar",
		`INSERT INTO scalars (run_id, component, name, value, unit) VALUES (?, ?, ?, ?, ?)`,
		s.runID, component, name, value, meta.Unit)
	return err
}

func (s *SQLite) RecordStatistic(component, name string, st Statistic, meta Meta) error {
	res, err := s.exec("record statistic",
		`INSERT INTO statistics (run_id, component, name, count, sum, mean, stddev, min, max, unit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, component, name, st.Count, st.Sum, st.Mean, st.StdDev, st.Min, st.Max, meta.Unit)
	if err != nil {
		return err
	}
	if len(st.Bins) == 0 {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return s.fail("record statistic", err)
	}
	for _, b := range st.Bins {
		if _, err := s.exec("record statistic",
			`INSERT INTO histogram_bins (statistic_id, lower_edge, upper_edge, count) VALUES (?, ?, ?, ?)`,
			id, b.Lower, b.Upper, b.Count); err != nil {
			return err
		}
	}
	return nil
}

// Flush commits pending writes.
func (s *SQLite) Flush() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

// Close commits pending writes and closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	flushErr := s.Flush()
	err := s.db.Close()
	s.db = nil
	if flushErr != nil {
		return flushErr
	}
	return err
}
