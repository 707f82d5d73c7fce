// Copyright 2025 Certen Protocol
//
// Secondary tx-result index backed by Postgres. The index is
// non-authoritative: consensus never reads from it, and a kernel with
// no Indexer configured behaves identically except for the absence of
// the query paths this package serves.

package indexer

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/certen/kernel/pkg/dispatch"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config configures the Postgres connection pool.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Indexer implements dispatch.Indexer against a Postgres "tx_results"
// table, following the connection-pool and migration conventions of
// the teacher's database client.
type Indexer struct {
	db     *sql.DB
	logger *log.Logger
}

var _ dispatch.Indexer = (*Indexer)(nil)

// Open establishes the connection pool, runs pending migrations, and
// verifies connectivity with a bounded ping.
func Open(cfg Config) (*Indexer, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexer: ping: %w", err)
	}

	idx := &Indexer{db: db, logger: log.New(log.Writer(), "indexer: ", log.LstdFlags)}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return idx, nil
}

// Close releases the connection pool.
func (idx *Indexer) Close() error {
	return idx.db.Close()
}

// Health reports the connection pool's current stats.
func (idx *Indexer) Health(ctx context.Context) (sql.DBStats, error) {
	if err := idx.db.PingContext(ctx); err != nil {
		return sql.DBStats{}, fmt.Errorf("indexer: health: %w", err)
	}
	return idx.db.Stats(), nil
}

// IndexTx records one finalized tx's result, satisfying dispatch.Indexer.
func (idx *Indexer) IndexTx(height uint64, txIndex int, txHash []byte, code uint32, gasUsed uint64, events []dispatch.Event) error {
	eventJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("indexer: marshal events: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = idx.db.ExecContext(ctx, `
		INSERT INTO tx_results (height, tx_index, tx_hash, code, gas_used, events, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (height, tx_index) DO UPDATE
			SET tx_hash = EXCLUDED.tx_hash, code = EXCLUDED.code,
			    gas_used = EXCLUDED.gas_used, events = EXCLUDED.events`,
		int64(height), txIndex, txHash, code, int64(gasUsed), eventJSON)
	if err != nil {
		return fmt.Errorf("indexer: insert tx_results: %w", err)
	}
	return nil
}

// TxResult is one row of the secondary index, as returned by queries.
type TxResult struct {
	Height  uint64
	TxIndex int
	TxHash  []byte
	Code    uint32
	GasUsed uint64
	Events  []dispatch.Event
}

// ByHash looks up the most recently indexed result for a tx hash.
func (idx *Indexer) ByHash(ctx context.Context, txHash []byte) (*TxResult, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT height, tx_index, tx_hash, code, gas_used, events
		FROM tx_results WHERE tx_hash = $1
		ORDER BY height DESC LIMIT 1`, txHash)
	return scanTxResult(row)
}

// ByHeight lists every indexed tx result for a block, ordered by index.
func (idx *Indexer) ByHeight(ctx context.Context, height uint64) ([]*TxResult, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT height, tx_index, tx_hash, code, gas_used, events
		FROM tx_results WHERE height = $1 ORDER BY tx_index ASC`, int64(height))
	if err != nil {
		return nil, fmt.Errorf("indexer: query by height: %w", err)
	}
	defer rows.Close()

	var out []*TxResult
	for rows.Next() {
		r, err := scanTxResultRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTxResult(row scannable) (*TxResult, error) {
	return scanInto(row)
}

func scanTxResultRows(rows *sql.Rows) (*TxResult, error) {
	return scanInto(rows)
}

func scanInto(s scannable) (*TxResult, error) {
	var r TxResult
	var height, gasUsed int64
	var eventJSON []byte
	if err := s.Scan(&height, &r.TxIndex, &r.TxHash, &r.Code, &gasUsed, &eventJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("indexer: scan: %w", err)
	}
	r.Height = uint64(height)
	r.GasUsed = uint64(gasUsed)
	if len(eventJSON) > 0 {
		if err := json.Unmarshal(eventJSON, &r.Events); err != nil {
			return nil, fmt.Errorf("indexer: unmarshal events: %w", err)
		}
	}
	return &r, nil
}

// migrate applies every embedded migration not yet recorded in the
// schema_migrations table, in filename order.
func (idx *Indexer) migrate(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := idx.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for i, entry := range entries {
		version := i + 1
		if applied[version] {
			continue
		}
		sqlBytes, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		tx, err := idx.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", entry.Name(), err)
		}
		idx.logger.Printf("applied migration %s (version %d)", entry.Name(), version)
	}
	return nil
}
