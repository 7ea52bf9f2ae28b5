package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

const schemaV1 = `
-- One row per build
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    engine_version TEXT NOT NULL,
    config_path TEXT
);

-- Identity pool entries, in creation order (empty populations included)
CREATE TABLE IF NOT EXISTS populations (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    namespace TEXT NOT NULL,  -- 'real', 'virtual'
    name TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (run_id, namespace, name)
);

-- Node id to engine handle, in insertion order per population
CREATE TABLE IF NOT EXISTS mappings (
    run_id TEXT NOT NULL,
    namespace TEXT NOT NULL,
    population TEXT NOT NULL,
    position INTEGER NOT NULL,
    node_id INTEGER NOT NULL,
    handle INTEGER NOT NULL,
    PRIMARY KEY (run_id, namespace, population, position),
    FOREIGN KEY (run_id, namespace, population)
        REFERENCES populations(run_id, namespace, name) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_mappings_node ON mappings(run_id, namespace, population, node_id);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates the schema on a fresh database and checks an existing
// one. A database written by a newer schema is rejected.
func InitSchema(ctx context.Context, db *sql.DB) error {
	current, err := getSchemaVersion(ctx, db)
	if err != nil {
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// ValidateIntegrity runs PRAGMA integrity_check and PRAGMA foreign_key_check.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check failed: %s", result)
	}

	rows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer rows.Close()

	var problems int
	for rows.Next() {
		problems++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read foreign_key_check: %w", err)
	}
	if problems > 0 {
		return fmt.Errorf("foreign_key_check found %d violations", problems)
	}
	return nil
}
