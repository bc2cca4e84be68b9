package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/songzhibin97/transition-engine/storage/migrations"
	"github.com/songzhibin97/transition-engine/types"
)

// SQLiteStorage is a SQLite-backed implementation of the Storage interface.
// Graphs and execution records are stored as JSON bodies next to the columns
// used for lookups.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage migrates the database file at path and opens it.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.New("sqlite path must be set")
	}

	slog.Debug("Running migrations", "file", path)
	if err := runMigrations("sqlite3", "sqlite3://"+path); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", path, err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func runMigrations(driver, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, driver)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

const upsertGraph = `
	INSERT INTO process_graphs (id, version, body, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET version = excluded.version, body = excluded.body, updated_at = excluded.updated_at`

// SaveGraph upserts a process graph inside a transaction.
func (s *SQLiteStorage) SaveGraph(ctx context.Context, g types.ProcessGraph) error {
	body, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal graph %s: %w", g.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM process_graphs WHERE id = ?`, g.ID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read graph %s: %w", g.ID, err)
	default:
		if err := checkVersion(types.ProcessGraph{Version: stored}, g); err != nil {
			return fmt.Errorf("%w: id=%s stored=%d incoming=%d", err, g.ID, stored, g.Version)
		}
	}

	_, err = tx.ExecContext(ctx, upsertGraph, g.ID, g.Version, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save graph %s: %w", g.ID, err)
	}
	return tx.Commit()
}

// SaveGraphs upserts a batch of graphs in one transaction, all or nothing.
func (s *SQLiteStorage) SaveGraphs(ctx context.Context, gs []types.ProcessGraph) error {
	if len(gs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored := make(map[string]int64, len(gs))
	for _, g := range gs {
		var v int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM process_graphs WHERE id = ?`, g.ID).Scan(&v)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read graph %s: %w", g.ID, err)
		default:
			stored[g.ID] = v
		}
	}
	if err := checkBatch(stored, gs); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, g := range gs {
		body, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to marshal graph %s: %w", g.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertGraph, g.ID, g.Version, string(body), now); err != nil {
			return fmt.Errorf("failed to save graph %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// GetGraph retrieves a process graph by ID.
func (s *SQLiteStorage) GetGraph(ctx context.Context, id string) (types.ProcessGraph, error) {
	var g types.ProcessGraph
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM process_graphs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("%w: id=%s", ErrGraphNotFound, id)
	} else if err != nil {
		return g, fmt.Errorf("failed to get graph %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(body), &g); err != nil {
		return g, fmt.Errorf("failed to unmarshal graph %s: %w", id, err)
	}
	return g, nil
}

// ListGraphs returns every stored graph ordered by ID.
func (s *SQLiteStorage) ListGraphs(ctx context.Context) ([]types.ProcessGraph, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM process_graphs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	return scanBodies[types.ProcessGraph](rows)
}

// SaveExecution saves an execution record.
func (s *SQLiteStorage) SaveExecution(ctx context.Context, rec types.ExecutionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", rec.ID, err)
	}
	success := false
	if rec.Result != nil {
		success = rec.Result.Success
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
			(id, graph_id, record_id, from_step_id, action_id, actor_id, success, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.GraphID, rec.RecordID, rec.FromStepID, rec.ActionID, rec.ActorID, success, string(body), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", rec.ID, err)
	}
	return nil
}

// GetExecution retrieves an execution record by ID.
func (s *SQLiteStorage) GetExecution(ctx context.Context, id string) (types.ExecutionRecord, error) {
	var rec types.ExecutionRecord
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM executions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%w: id=%s", ErrExecutionNotFound, id)
	} else if err != nil {
		return rec, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}
	return rec, nil
}

// ListExecutions returns the executions of a graph, oldest first.
func (s *SQLiteStorage) ListExecutions(ctx context.Context, graphID string) ([]types.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM executions WHERE graph_id = ? ORDER BY created_at, id`, graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", graphID, err)
	}
	return scanBodies[types.ExecutionRecord](rows)
}

// PruneExecutions removes execution records created before the cutoff.
func (s *SQLiteStorage) PruneExecutions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func scanBodies[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
