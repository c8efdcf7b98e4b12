package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	// SQLite uses "?" placeholders.
	SQLite Dialect = iota
	// Postgres uses "$n" placeholders.
	Postgres
)

// maxBindVars bounds the IN list of one lookup statement below the SQLite
// host parameter limit.
const maxBindVars = 500

const schema = `
CREATE TABLE IF NOT EXISTS item_metadata (
	item_key          TEXT PRIMARY KEY,
	price             TEXT NOT NULL DEFAULT '',
	author            TEXT NOT NULL DEFAULT '',
	illustrator       TEXT NOT NULL DEFAULT '',
	release_date      TEXT NOT NULL DEFAULT '',
	kind              TEXT NOT NULL DEFAULT '',
	page_count        TEXT NOT NULL DEFAULT '',
	story_list        TEXT NOT NULL DEFAULT '',
	binding           TEXT NOT NULL DEFAULT '',
	isbn              TEXT NOT NULL DEFAULT '',
	shippable_regions TEXT NOT NULL DEFAULT '',
	ships_from        TEXT NOT NULL DEFAULT '',
	article_number    TEXT NOT NULL DEFAULT '',
	format            TEXT NOT NULL DEFAULT '',
	color             TEXT NOT NULL DEFAULT '',
	display_name      TEXT NOT NULL DEFAULT '',
	last_updated      BIGINT
);
CREATE TABLE IF NOT EXISTS item_names (
	name     TEXT PRIMARY KEY,
	item_key TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS list_priorities (
	url_ending TEXT NOT NULL,
	url        TEXT NOT NULL,
	priority   INTEGER NOT NULL,
	PRIMARY KEY (url_ending, url)
);
CREATE TABLE IF NOT EXISTS list_dependencies (
	url_ending     TEXT NOT NULL,
	url            TEXT NOT NULL,
	dependency_url TEXT NOT NULL,
	PRIMARY KEY (url_ending, url)
);
CREATE TABLE IF NOT EXISTS list_notes (
	url_ending TEXT NOT NULL,
	url        TEXT NOT NULL,
	note       TEXT NOT NULL,
	PRIMARY KEY (url_ending, url)
);
`

const recordColumns = `item_key, price, author, illustrator, release_date, kind, page_count,
	story_list, binding, isbn, shippable_regions, ships_from, article_number,
	format, color, display_name, last_updated`

// SQL implements Store and Preferences on database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQL wraps an open database handle.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect, now: time.Now}
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// OpenPostgres opens a Postgres database through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables when they do not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) placeholder(n int) string {
	if s.dialect == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *SQL) placeholders(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = s.placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// GetMany implements Store. Keys are looked up with one IN query per
// maxBindVars keys.
func (s *SQL) GetMany(ctx context.Context, keys []string) (map[string]models.Record, error) {
	keys = dedupeKeys(keys)
	out := make(map[string]models.Record, len(keys))

	for start := 0; start < len(keys); start += maxBindVars {
		chunk := keys[start:min(start+maxBindVars, len(keys))]
		query := "SELECT " + recordColumns + " FROM item_metadata WHERE item_key IN (" + s.placeholders(1, len(chunk)) + ")"

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		if err := s.scanRecords(ctx, query, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQL) scanRecords(ctx context.Context, query string, args []any, out map[string]models.Record) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec     models.Record
			updated sql.NullInt64
		)
		if err := rows.Scan(
			&rec.Key, &rec.Price, &rec.Author, &rec.Illustrator, &rec.ReleaseDate,
			&rec.Kind, &rec.PageCount, &rec.StoryList, &rec.Binding, &rec.ISBN,
			&rec.ShippableRegions, &rec.ShipsFrom, &rec.ArticleNumber, &rec.Format,
			&rec.Color, &rec.DisplayName, &updated,
		); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		if updated.Valid {
			ts := time.UnixMilli(updated.Int64).UTC()
			rec.LastUpdated = &ts
		}
		out[rec.Key] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

// Upsert implements Store. A record without LastUpdated is stamped with the
// current time.
func (s *SQL) Upsert(ctx context.Context, rec models.Record) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	updated := s.now()
	if rec.LastUpdated != nil {
		updated = *rec.LastUpdated
	}
	updated = storedTime(updated)

	query := `INSERT INTO item_metadata (` + recordColumns + `)
		VALUES (` + s.placeholders(1, 17) + `)
		ON CONFLICT (item_key) DO UPDATE SET
		  price = excluded.price,
		  author = excluded.author,
		  illustrator = excluded.illustrator,
		  release_date = excluded.release_date,
		  kind = excluded.kind,
		  page_count = excluded.page_count,
		  story_list = excluded.story_list,
		  binding = excluded.binding,
		  isbn = excluded.isbn,
		  shippable_regions = excluded.shippable_regions,
		  ships_from = excluded.ships_from,
		  article_number = excluded.article_number,
		  format = excluded.format,
		  color = excluded.color,
		  display_name = excluded.display_name,
		  last_updated = excluded.last_updated`

	if _, err := s.db.ExecContext(ctx, query,
		rec.Key, rec.Price, rec.Author, rec.Illustrator, rec.ReleaseDate,
		rec.Kind, rec.PageCount, rec.StoryList, rec.Binding, rec.ISBN,
		rec.ShippableRegions, rec.ShipsFrom, rec.ArticleNumber, rec.Format,
		rec.Color, rec.DisplayName, updated.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key, err)
	}
	return nil
}

// RecordName implements Store.
func (s *SQL) RecordName(ctx context.Context, name, key string) error {
	query := `INSERT INTO item_names (name, item_key) VALUES (` + s.placeholders(1, 2) + `)
		ON CONFLICT (name) DO UPDATE SET item_key = excluded.item_key`
	if _, err := s.db.ExecContext(ctx, query, name, key); err != nil {
		return fmt.Errorf("record name %q: %w", name, err)
	}
	return nil
}

// LookupName implements Store.
func (s *SQL) LookupName(ctx context.Context, name string) (string, bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT item_key FROM item_names WHERE name = `+s.placeholder(1), name,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup name %q: %w", name, err)
	}
	return key, true, nil
}

// Priorities implements Preferences.
func (s *SQL) Priorities(ctx context.Context, urlEnding string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, priority FROM list_priorities WHERE url_ending = `+s.placeholder(1), urlEnding)
	if err != nil {
		return nil, fmt.Errorf("query priorities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			url      string
			priority int
		)
		if err := rows.Scan(&url, &priority); err != nil {
			return nil, fmt.Errorf("scan priority: %w", err)
		}
		out[url] = priority
	}
	return out, rows.Err()
}

// SetPriority implements Preferences.
func (s *SQL) SetPriority(ctx context.Context, urlEnding, url string, priority int) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	query := `INSERT INTO list_priorities (url_ending, url, priority) VALUES (` + s.placeholders(1, 3) + `)
		ON CONFLICT (url_ending, url) DO UPDATE SET priority = excluded.priority`
	if _, err := s.db.ExecContext(ctx, query, urlEnding, url, priority); err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	return nil
}

// Dependencies implements Preferences.
func (s *SQL) Dependencies(ctx context.Context, urlEnding string) (map[string]string, error) {
	return s.stringPairs(ctx, `SELECT url, dependency_url FROM list_dependencies WHERE url_ending = `+s.placeholder(1), urlEnding)
}

// SetDependency implements Preferences.
func (s *SQL) SetDependency(ctx context.Context, urlEnding, url, dependencyURL string) error {
	if err := checkDependency(url, dependencyURL); err != nil {
		return err
	}
	if dependencyURL == "" {
		return s.deletePair(ctx, "list_dependencies", urlEnding, url)
	}
	query := `INSERT INTO list_dependencies (url_ending, url, dependency_url) VALUES (` + s.placeholders(1, 3) + `)
		ON CONFLICT (url_ending, url) DO UPDATE SET dependency_url = excluded.dependency_url`
	if _, err := s.db.ExecContext(ctx, query, urlEnding, url, dependencyURL); err != nil {
		return fmt.Errorf("set dependency: %w", err)
	}
	return nil
}

// Notes implements Preferences.
func (s *SQL) Notes(ctx context.Context, urlEnding string) (map[string]string, error) {
	return s.stringPairs(ctx, `SELECT url, note FROM list_notes WHERE url_ending = `+s.placeholder(1), urlEnding)
}

// SetNote implements Preferences.
func (s *SQL) SetNote(ctx context.Context, urlEnding, url, text string) error {
	if strings.TrimSpace(text) == "" {
		return s.deletePair(ctx, "list_notes", urlEnding, url)
	}
	query := `INSERT INTO list_notes (url_ending, url, note) VALUES (` + s.placeholders(1, 3) + `)
		ON CONFLICT (url_ending, url) DO UPDATE SET note = excluded.note`
	if _, err := s.db.ExecContext(ctx, query, urlEnding, url, text); err != nil {
		return fmt.Errorf("set note: %w", err)
	}
	return nil
}

func (s *SQL) stringPairs(ctx context.Context, query, urlEnding string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query, urlEnding)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", urlEnding, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQL) deletePair(ctx context.Context, table, urlEnding, url string) error {
	query := `DELETE FROM ` + table + ` WHERE url_ending = ` + s.placeholder(1) + ` AND url = ` + s.placeholder(2)
	if _, err := s.db.ExecContext(ctx, query, urlEnding, url); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}
