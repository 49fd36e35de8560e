// Package store persists operation history in SQLite so past swaps and
// liquidity changes survive restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// Store is a SQLite-backed operation history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode for better concurrent performance.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		stage TEXT NOT NULL,
		tx_hash TEXT,
		block INTEGER DEFAULT 0,
		error TEXT,
		loading INTEGER DEFAULT 0,
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_operations_hash ON operations(tx_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts one operation's current status. Every stage change
// overwrites the previous row for the same operation id.
func (s *Store) Record(ctx context.Context, status types.OperationStatus) error {
	loading := 0
	if status.Loading {
		loading = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (id, kind, stage, tx_hash, block, error, loading, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			tx_hash = excluded.tx_hash,
			block = excluded.block,
			error = excluded.error,
			loading = excluded.loading,
			updated_at = excluded.updated_at
	`, status.ID, string(status.Kind), string(status.Stage),
		nullString(status.TxHash), status.Block, nullString(status.Error),
		loading, status.StartedAt, status.UpdatedAt)
	return err
}

// Observer adapts Record to the lifecycle observer signature. Persistence
// failures are logged, never propagated into the operation flow.
func (s *Store) Observer() func(types.OperationStatus) {
	return func(status types.OperationStatus) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, status); err != nil {
			s.logger.Warn("failed to record operation status",
				slog.String("id", status.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Get returns one operation by id, or nil when unknown.
func (s *Store) Get(ctx context.Context, id string) (*types.OperationStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, stage, tx_hash, block, error, loading, started_at, updated_at
		FROM operations WHERE id = ?
	`, id)
	return scanOperation(row.Scan)
}

// GetByTxHash returns the operation that submitted a transaction, or nil.
func (s *Store) GetByTxHash(ctx context.Context, txHash string) (*types.OperationStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, stage, tx_hash, block, error, loading, started_at, updated_at
		FROM operations WHERE tx_hash = ?
		ORDER BY started_at DESC LIMIT 1
	`, txHash)
	return scanOperation(row.Scan)
}

// ListRecent returns the newest operations first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]types.OperationStatus, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, stage, tx_hash, block, error, loading, started_at, updated_at
		FROM operations
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.OperationStatus
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

func scanOperation(scan func(...any) error) (*types.OperationStatus, error) {
	var op types.OperationStatus
	var kind, stage string
	var txHash, errMsg sql.NullString
	var loading int
	err := scan(&op.ID, &kind, &stage, &txHash, &op.Block, &errMsg, &loading, &op.StartedAt, &op.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	op.Kind = types.OperationKind(kind)
	op.Stage = types.Stage(stage)
	if txHash.Valid {
		op.TxHash = txHash.String
	}
	if errMsg.Valid {
		op.Error = errMsg.String
	}
	op.Loading = loading == 1
	return &op, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
