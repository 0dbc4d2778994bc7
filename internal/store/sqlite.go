// Package store is the ambient sqlite enrichment layer: per-request
// logging and daily usage-stats rollups for the admin surface. It does
// not hold fleet state — accounts live in account.Registry's own
// atomically-written accounts.json, and sessions live in-memory in
// session.Manager. This is diagnostic/reporting data only.
package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

// New opens (creating if absent) the sqlite enrichment database at
// dbPath in WAL mode and runs its migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000")
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			client_key TEXT NOT NULL,
			account_id TEXT,
			driver TEXT NOT NULL,
			model TEXT NOT NULL,
			stream BOOLEAN NOT NULL,
			request_at DATETIME NOT NULL,
			response_at DATETIME,
			duration_ms INTEGER,
			ttft_ms INTEGER,
			prompt_tokens INTEGER DEFAULT 0,
			completion_tokens INTEGER DEFAULT 0,
			total_tokens INTEGER DEFAULT 0,
			status_code INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			conversation_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_client_key ON request_logs(client_key, request_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_account_id ON request_logs(account_id, request_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_request_at ON request_logs(request_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_status ON request_logs(success, status_code)`,

		`CREATE TABLE IF NOT EXISTS usage_stats_daily (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stat_date DATE NOT NULL,
			client_key TEXT,
			account_id TEXT,
			driver TEXT,
			model TEXT,
			request_count INTEGER DEFAULT 0,
			success_count INTEGER DEFAULT 0,
			error_count INTEGER DEFAULT 0,
			total_prompt_tokens INTEGER DEFAULT 0,
			total_completion_tokens INTEGER DEFAULT 0,
			total_tokens INTEGER DEFAULT 0,
			avg_duration_ms INTEGER DEFAULT 0,
			avg_ttft_ms INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(stat_date, client_key, account_id, driver, model)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_stats_date ON usage_stats_daily(stat_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_stats_client_key ON usage_stats_daily(client_key, stat_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_stats_account ON usage_stats_daily(account_id, stat_date DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetDB() *sql.DB {
	return s.db
}
