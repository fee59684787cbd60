package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
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

// DBFileName is the SQLite database file inside the data directory.
const DBFileName = "dreams.db"

// SQLiteStore keeps one row per dream in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the dream database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database.
func Open(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DBFileName)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: the in-memory database is per-connection, and writers
	// never contend inside the process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db, path: dsn}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file, or ":memory:".
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations that are not yet recorded in
// schema_version, in file name order, each in its own transaction.
func (s *SQLiteStore) migrate() error {
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

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
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

// AppendDream inserts d after every existing dream.
func (s *SQLiteStore) AppendDream(ctx context.Context, d Dream) error {
	return s.insert(ctx, d, SourceSynth)
}

// ImportDream appends a record read from a legacy dreams.json file.
func (s *SQLiteStore) ImportDream(ctx context.Context, d Dream) error {
	return s.insert(ctx, d, SourceImport)
}

func (s *SQLiteStore) insert(ctx context.Context, d Dream, source string) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid dream: %w", err)
	}
	emotions, err := json.Marshal(d.Emotions)
	if err != nil {
		return fmt.Errorf("encoding emotions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dreams (id, created_at, text, emotions, image, source)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.CreatedAt.UTC().Format(time.RFC3339), d.Text, string(emotions), d.Image, source,
	)
	if err != nil {
		return fmt.Errorf("inserting dream %s: %w", d.ID, err)
	}
	return nil
}

const dreamColumns = `id, created_at, text, emotions, image, source`

// ListDreams returns every dream in reverse insertion order.
func (s *SQLiteStore) ListDreams(ctx context.Context) ([]Dream, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dreamColumns+` FROM dreams ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dream
	for rows.Next() {
		d, err := scanDream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDream returns the dream with the given id, or ErrNotFound.
func (s *SQLiteStore) GetDream(ctx context.Context, id string) (Dream, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dreamColumns+` FROM dreams WHERE id = ?`, id)
	d, err := scanDream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dream{}, ErrNotFound
	}
	return d, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDream(sc scanner) (Dream, error) {
	var d Dream
	var createdAt, emotions string
	if err := sc.Scan(&d.ID, &createdAt, &d.Text, &emotions, &d.Image, &d.Source); err != nil {
		return Dream{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Dream{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t.Local()
	if err := json.Unmarshal([]byte(emotions), &d.Emotions); err != nil {
		return Dream{}, fmt.Errorf("decoding emotions of %s: %w", d.ID, err)
	}
	return d, nil
}
