package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding an imported copy of the car catalog.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs pending migrations.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
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

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
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

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Car records ---

// ReplaceCarRecords atomically swaps the stored catalog for records and
// records the import run.
func (s *Store) ReplaceCarRecords(imp Import, records []CarRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM car_records"); err != nil {
		return fmt.Errorf("clearing car records: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO car_records (name, company, year, kms_driven, fuel_type, price)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.Exec(r.Name, r.Company, r.Year, r.KmsDriven, r.FuelType, r.Price); err != nil {
			return fmt.Errorf("inserting record %d: %w", i, err)
		}
	}

	importedAt := imp.ImportedAt
	if importedAt.IsZero() {
		importedAt = time.Now()
	}
	if _, err := tx.Exec(`
		INSERT INTO catalog_imports (id, source, row_count, imported_at) VALUES (?, ?, ?, ?)`,
		imp.ID, imp.Source, len(records), importedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording import: %w", err)
	}

	return tx.Commit()
}

// ListCarRecords returns every stored record in insertion order.
func (s *Store) ListCarRecords() ([]CarRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, company, year, kms_driven, fuel_type, price
		FROM car_records ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CarRecord
	for rows.Next() {
		var r CarRecord
		if err := rows.Scan(&r.Name, &r.Company, &r.Year, &r.KmsDriven, &r.FuelType, &r.Price); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) CountCarRecords() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM car_records").Scan(&n)
	return n, err
}

// LatestImport returns the most recent import run, or ErrNotFound if the
// database has never been populated.
func (s *Store) LatestImport() (Import, error) {
	var imp Import
	var importedAt string
	err := s.db.QueryRow(`
		SELECT id, source, row_count, imported_at
		FROM catalog_imports ORDER BY imported_at DESC, rowid DESC LIMIT 1`,
	).Scan(&imp.ID, &imp.Source, &imp.RowCount, &importedAt)
	if err == sql.ErrNoRows {
		return Import{}, ErrNotFound
	}
	if err != nil {
		return Import{}, err
	}
	t, err := time.Parse(time.RFC3339, importedAt)
	if err != nil {
		return Import{}, fmt.Errorf("parsing imported_at: %w", err)
	}
	imp.ImportedAt = t
	return imp, nil
}
