// Package sqlite is the durable store for bonding profiles and memories.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config controls SQLite initialization.
type Config struct {
	Path   string
	Logger *slog.Logger
}

// Database wraps the sql.DB handle.
type Database struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database and ensures the schema.
func New(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	wrapper := &Database{db: db, logger: cfg.Logger}
	if err := wrapper.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return wrapper, nil
}

func (d *Database) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bonding_profiles (
            id TEXT NOT NULL,
            user_id TEXT PRIMARY KEY,
            relationship_level INTEGER NOT NULL DEFAULT 1,
            interaction_count INTEGER NOT NULL DEFAULT 0,
            conversation_minutes REAL NOT NULL DEFAULT 0,
            memory_recall_accuracy REAL NOT NULL DEFAULT 0,
            preferred_tone TEXT NOT NULL DEFAULT 'casual',
            personality_traits JSON,
            user_preferences JSON,
            last_interaction DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS memories (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            summary TEXT NOT NULL,
            full_text TEXT NOT NULL,
            emotion_detected TEXT,
            emotion_confidence REAL NOT NULL DEFAULT 0,
            memory_type TEXT NOT NULL,
            recalled_count INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_type ON memories(user_id, memory_type);`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            key TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            memory_id TEXT NOT NULL,
            created_at DATETIME NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB returns the underlying database handle.
func (d *Database) DB() *sql.DB { return d.db }

// Close releases the database.
func (d *Database) Close() error { return d.db.Close() }
