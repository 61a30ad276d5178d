package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding user profiles and gateway sync state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "gabby.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
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

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
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

	// Sort by filename to guarantee ascending order.
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

		// Check if already applied.
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

var _ profile.Backend = (*Store)(nil)

// --- Profiles ---

// Load returns the profile stored for userID. The bool is false when the
// user has never been written.
func (s *Store) Load(ctx context.Context, userID string) (profile.UserProfile, bool, error) {
	row, err := s.getProfileRow(ctx, userID)
	if err == ErrNotFound {
		return profile.UserProfile{}, false, nil
	}
	if err != nil {
		return profile.UserProfile{}, false, err
	}
	p, err := row.toProfile()
	if err != nil {
		return profile.UserProfile{}, false, err
	}
	return p, true, nil
}

// Save upserts the full profile record for userID.
func (s *Store) Save(ctx context.Context, userID string, p profile.UserProfile) error {
	notes := p.Notes
	if notes == nil {
		notes = []string{}
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshalling notes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, name, mood, condition, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			mood = excluded.mood,
			condition = excluded.condition,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		userID, p.Name, p.Mood, p.Condition, string(notesJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// List returns every stored profile keyed by user id.
func (s *Store) List(ctx context.Context) (map[string]profile.UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, mood, condition, notes, updated_at
		FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]profile.UserProfile)
	for rows.Next() {
		row, err := scanProfileRow(rows)
		if err != nil {
			return nil, err
		}
		p, err := row.toProfile()
		if err != nil {
			return nil, err
		}
		out[row.UserID] = p
	}
	return out, rows.Err()
}

func (s *Store) getProfileRow(ctx context.Context, userID string) (profileRow, error) {
	row, err := scanProfileRow(s.db.QueryRowContext(ctx, `
		SELECT user_id, name, mood, condition, notes, updated_at
		FROM profiles WHERE user_id = ?`, userID))
	if err == sql.ErrNoRows {
		return profileRow{}, ErrNotFound
	}
	return row, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfileRow(sc scanner) (profileRow, error) {
	var r profileRow
	var updatedAt string
	if err := sc.Scan(&r.UserID, &r.Name, &r.Mood, &r.Condition, &r.Notes, &updatedAt); err != nil {
		return profileRow{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return profileRow{}, fmt.Errorf("parsing updated_at for %s: %w", r.UserID, err)
	}
	r.UpdatedAt = t
	return r, nil
}

func (r profileRow) toProfile() (profile.UserProfile, error) {
	p := profile.UserProfile{
		Name:      r.Name,
		Mood:      r.Mood,
		Condition: r.Condition,
	}
	if err := json.Unmarshal([]byte(r.Notes), &p.Notes); err != nil {
		return profile.UserProfile{}, fmt.Errorf("decoding notes for %s: %w", r.UserID, err)
	}
	if p.Notes == nil {
		p.Notes = []string{}
	}
	return p, nil
}

// --- Gateway state ---

// SaveState upserts an opaque value under (scope, key). Gateways use it to
// persist sync positions across restarts.
func (s *Store) SaveState(ctx context.Context, scope, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_state (scope, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value`,
		scope, key, value,
	)
	return err
}

// LoadState returns the stored value or "" when nothing was saved yet.
func (s *Store) LoadState(ctx context.Context, scope, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM gateway_state WHERE scope = ? AND key = ?`, scope, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
