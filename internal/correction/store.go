// Package correction persists the m/z correction applied to each scan of
// a calibrated file, so downstream tools can look up the correction for a
// scan range.
package correction

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/524D/tdmzcal/internal/rangespec"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrAlreadyRecorded is returned when a scan of a run already has a
	// correction
	ErrAlreadyRecorded = errors.New("correction: scan already recorded")
	// ErrNoRun means the file has never been calibrated
	ErrNoRun = errors.New("correction: no calibration run for file")
)

// Fixed width, so run times sort as strings
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite database of correction factors
type Store struct {
	db *sql.DB
}

// Factor is the correction recorded for one scan
type Factor struct {
	Scan       int
	Correction float64
}

// Open opens (or creates) the database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// A single connection, otherwise every ":memory:" connection is a
	// separate database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// Run is one calibration of a file. Corrections are written once per
// scan.
type Run struct {
	ID   string
	File string

	s *Store
}

// BeginRun registers a new calibration run of file. Queries use the most
// recent run of a file.
func (s *Store) BeginRun(ctx context.Context, file string) (*Run, error) {
	r := &Run{ID: uuid.NewString(), File: file, s: s}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, file, created_at) VALUES (?, ?, ?)`,
		r.ID, file, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("registering run: %w", err)
	}
	return r, nil
}

// Record stores the correction of a scan. A second correction for the
// same scan fails with ErrAlreadyRecorded and leaves the first in place.
func (r *Run) Record(ctx context.Context, scan int, correction float64) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM correction_factors WHERE run_id = ? AND file = ? AND scan = ?`,
		r.ID, r.File, scan).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s scan %d", ErrAlreadyRecorded, r.File, scan)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO correction_factors (run_id, file, scan, correction) VALUES (?, ?, ?, ?)`,
		r.ID, r.File, scan, correction); err != nil {
		return err
	}
	return tx.Commit()
}

// latestRun returns the id of the most recent run of file
func (s *Store) latestRun(ctx context.Context, file string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE file = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, file).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNoRun
	}
	return id, err
}

// Query returns the average correction of the scans in scanRange
// ("first-last", inclusive) of the most recent run of file. It returns 0
// for a malformed or empty range and when no correction matches.
func (s *Store) Query(ctx context.Context, file, scanRange string) (float64, error) {
	first, last, err := rangespec.ParseScanRange(scanRange)
	if err != nil {
		return 0, nil
	}
	id, err := s.latestRun(ctx, file)
	if errors.Is(err, ErrNoRun) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG(correction) FROM correction_factors
		 WHERE run_id = ? AND file = ? AND scan BETWEEN ? AND ?`,
		id, file, first, last).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// Factors returns the corrections of the most recent run of file, in
// scan order
func (s *Store) Factors(ctx context.Context, file string) ([]Factor, error) {
	id, err := s.latestRun(ctx, file)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan, correction FROM correction_factors WHERE run_id = ? ORDER BY scan`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var factors []Factor
	for rows.Next() {
		var f Factor
		if err := rows.Scan(&f.Scan, &f.Correction); err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}
