package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite handle shared by the ledger, the message log and the sync queue.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+dsnParams(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer at a time; conditional updates rely on statement atomicity
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

// Path returns the filesystem location of the database.
func (db *DB) Path() string {
	return db.path
}

func dsnParams(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return sep + "_busy_timeout=5000&_foreign_keys=on"
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS engagements (
            id TEXT PRIMARY KEY,
            requester_id TEXT NOT NULL,
            provider_id TEXT NOT NULL,
            goal TEXT NOT NULL,
            duration INTEGER NOT NULL,
            total_amount INTEGER NOT NULL,
            platform_fee INTEGER NOT NULL,
            provider_income INTEGER NOT NULL,
            currency TEXT NOT NULL,
            is_paid BOOLEAN NOT NULL DEFAULT 0,
            paid_at DATETIME,
            payment_intent_id TEXT NOT NULL UNIQUE,
            checkout_session_id TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            decided_at DATETIME,
            refunded_at DATETIME,
            refund_error TEXT,
            refund_attempts INTEGER NOT NULL DEFAULT 0,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            id INTEGER PRIMARY KEY,
            engagement_id TEXT NOT NULL REFERENCES engagements(id),
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            sender_type TEXT NOT NULL,
            text TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider TEXT NOT NULL,
            event_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            payment_intent_id TEXT,
            engagement_id TEXT,
            outcome TEXT NOT NULL,
            deliveries INTEGER NOT NULL DEFAULT 1,
            received_at DATETIME NOT NULL,
            UNIQUE(provider, event_id)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            engagement_id TEXT NOT NULL,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_engagements_provider ON engagements(provider_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_engagements_requester ON engagements(requester_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_engagements_created_at ON engagements(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_engagement ON messages(engagement_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Ping checks the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
