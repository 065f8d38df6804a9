package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) builder() squirrel.StatementBuilderType {
	if d == DialectPostgres {
		return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	}
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

// The DDL below is valid for both PostgreSQL and SQLite. Timestamps are unix
// milliseconds.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS knowledge_entries (
		topic_key        TEXT PRIMARY KEY,
		page_title       TEXT NOT NULL,
		title_key        TEXT NOT NULL UNIQUE,
		page_revision_id TEXT NOT NULL,
		categories       TEXT NOT NULL,
		version          BIGINT NOT NULL,
		created_at       BIGINT NOT NULL,
		last_updated     BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_fingerprints (
		fingerprint TEXT PRIMARY KEY,
		topic_key   TEXT NOT NULL,
		unit_id     TEXT NOT NULL,
		folded_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_fingerprints_topic ON knowledge_fingerprints(topic_key)`,
	`CREATE TABLE IF NOT EXISTS unit_outcomes (
		unit_id    TEXT PRIMARY KEY,
		source_id  TEXT NOT NULL,
		chat_ref   TEXT NOT NULL,
		status     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		topic_key  TEXT NOT NULL,
		page_title TEXT NOT NULL,
		reason     TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id          TEXT PRIMARY KEY,
		unit_id     TEXT NOT NULL,
		source_id   TEXT NOT NULL,
		chat_ref    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		stage       TEXT NOT NULL,
		reason      TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		message     TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		resolved_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dead_letters_open ON dead_letters(resolved_at, created_at)`,
}

// Migrate creates the state tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
