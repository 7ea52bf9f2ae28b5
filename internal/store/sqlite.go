package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// createdAtLayout is fixed width so that text order of created_at is time order.
// Stored values parse with time.RFC3339Nano.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// SaveRun writes a run and all its mappings in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, engine_version, config_path) VALUES (?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(createdAtLayout), run.EngineVersion, run.ConfigPath); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	popStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO populations (run_id, namespace, name, position) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare population insert: %w", err)
	}
	defer popStmt.Close()

	mapStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO mappings (run_id, namespace, population, position, node_id, handle) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare mapping insert: %w", err)
	}
	defer mapStmt.Close()

	for i, m := range run.Mappings {
		if len(m.NodeIDs) != len(m.Handles) {
			return fmt.Errorf("population %q: %d node ids but %d handles", m.Population, len(m.NodeIDs), len(m.Handles))
		}
		if _, err := popStmt.ExecContext(ctx, run.ID, string(m.Namespace), m.Population, i); err != nil {
			return fmt.Errorf("failed to insert population %q: %w", m.Population, err)
		}
		for j, id := range m.NodeIDs {
			if _, err := mapStmt.ExecContext(ctx, run.ID, string(m.Namespace), m.Population, j, id, m.Handles[j]); err != nil {
				return fmt.Errorf("failed to insert mapping %s/%d: %w", m.Population, id, err)
			}
		}
	}

	return tx.Commit()
}

// Runs lists runs newest first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.created_at, r.engine_version, COALESCE(r.config_path, ''),
			(SELECT COUNT(*) FROM populations p WHERE p.run_id = r.id AND p.namespace = 'real'),
			(SELECT COUNT(*) FROM mappings m WHERE m.run_id = r.id AND m.namespace = 'real'),
			(SELECT COUNT(*) FROM mappings m WHERE m.run_id = r.id AND m.namespace = 'virtual')
		FROM runs r
		ORDER BY r.created_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var created string
		if err := rows.Scan(&rs.ID, &created, &rs.EngineVersion, &rs.ConfigPath,
			&rs.Populations, &rs.Nodes, &rs.VirtualNodes); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if rs.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("run %s: bad created_at %q: %w", rs.ID, created, err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// GetRun returns a run with its mappings.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRun(ctx, id)
}

// LatestRun returns the newest run.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store is empty", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return s.getRun(ctx, id)
}

func (s *SQLiteStore) getRun(ctx context.Context, id string) (*Run, error) {
	run := Run{ID: id}
	var created string
	var configPath sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, engine_version, config_path FROM runs WHERE id = ?`, id).
		Scan(&created, &run.EngineVersion, &configPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("run %s: bad created_at %q: %w", id, created, err)
	}
	run.ConfigPath = configPath.String

	pops, err := s.db.QueryContext(ctx,
		`SELECT namespace, name FROM populations WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query populations: %w", err)
	}
	index := make(map[[2]string]int)
	for pops.Next() {
		var ns, name string
		if err := pops.Scan(&ns, &name); err != nil {
			pops.Close()
			return nil, fmt.Errorf("failed to scan population: %w", err)
		}
		index[[2]string{ns, name}] = len(run.Mappings)
		run.Mappings = append(run.Mappings, Mapping{Namespace: Namespace(ns), Population: name})
	}
	pops.Close()
	if err := pops.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, population, node_id, handle FROM mappings WHERE run_id = ? ORDER BY namespace, population, position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ns, pop string
		var nodeID, handle int64
		if err := rows.Scan(&ns, &pop, &nodeID, &handle); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		i, ok := index[[2]string{ns, pop}]
		if !ok {
			return nil, fmt.Errorf("run %s: mapping for unknown population %s/%s", id, ns, pop)
		}
		run.Mappings[i].NodeIDs = append(run.Mappings[i].NodeIDs, nodeID)
		run.Mappings[i].Handles = append(run.Mappings[i].Handles, handle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &run, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
