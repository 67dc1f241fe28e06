package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store owns the single SQLite file holding all durable state: accounts,
// OAuth challenges, content items, deliveries and the album buffer. One
// process owns the file; concurrent use inside the process goes through
// database/sql's connection pool with SQLite's own locking.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens the database file and
// applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tiktok_accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_label TEXT NOT NULL UNIQUE,
			open_id TEXT,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TEXT,
			granted_scopes TEXT,
			posting_mode TEXT NOT NULL DEFAULT 'draft',
			needs_reauth INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			state TEXT NOT NULL UNIQUE,
			account_label TEXT NOT NULL,
			mode TEXT NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS content_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_type TEXT NOT NULL,
			source_chat_id INTEGER NOT NULL,
			source_message_id INTEGER,
			media_group_id TEXT,
			caption TEXT NOT NULL DEFAULT '',
			source_text TEXT NOT NULL DEFAULT '',
			telegram_file_ids_json TEXT NOT NULL DEFAULT '[]',
			local_files_json TEXT NOT NULL DEFAULT '[]',
			raw_update_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			processed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS ix_content_items_chat ON content_items(source_chat_id)`,
		`CREATE INDEX IF NOT EXISTS ix_content_items_group ON content_items(media_group_id)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_item_id INTEGER NOT NULL REFERENCES content_items(id),
			source_key TEXT NOT NULL,
			account_label TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			error_text TEXT,
			tiktok_post_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(source_key, account_label)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_deliveries_content ON deliveries(content_item_id)`,
		`CREATE TABLE IF NOT EXISTS media_group_buffer (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			media_group_id TEXT NOT NULL,
			source_chat_id INTEGER NOT NULL,
			source_message_id INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			telegram_file_id TEXT NOT NULL,
			caption TEXT NOT NULL DEFAULT '',
			source_text TEXT NOT NULL DEFAULT '',
			raw_message_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			UNIQUE(media_group_id, source_message_id, telegram_file_id)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_media_group_buffer_group ON media_group_buffer(media_group_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Timestamps are persisted as fixed-width UTC strings. The width matters:
// SQLite compares TEXT columns lexically, and RFC3339Nano drops trailing
// fractional zeros, which breaks chronological ordering ("…05.1Z" sorts
// after "…05.12Z"). Padding the fraction to nine digits keeps string
// order equal to time order for queries like the album flush threshold.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeToDB(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func timeFromDB(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTimeToDB(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: timeToDB(*t), Valid: true}
}

func nullTimeFromDB(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t := timeFromDB(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func stringsToJSON(values []string) string {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func stringsFromJSON(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	result := values[:0]
	for _, v := range values {
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}
