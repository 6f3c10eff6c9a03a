// Package database provides the orchestrator's durable-storage
// connections: a pooled Postgres handle for the trade ledger
// (collaborators/tradeledger) and a Redis client for the Task Queue's
// KVStore adapter (collaborators/kv). Grounded on the teacher's
// pkg/database/postgres.go pooled *sql.DB wrapper, trimmed down to the
// read/write/transaction surface the trade ledger actually drives and
// instrumented with the orchestrator's own PerformanceLogger instead of a
// standalone query-result cache nothing here exercises.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/solbotswarm/orchestrator/internal/config"
	"github.com/solbotswarm/orchestrator/pkg/observability"
)

// DB wraps sql.DB with slow-query logging for the trade ledger.
type DB struct {
	*sql.DB
	logger    *observability.Logger
	perf      *observability.PerformanceLogger
	slowQuery time.Duration
}

// NewPostgresDB opens a pooled connection to the orchestrator's trade
// ledger database (spec §3: append-only TradeRecord persistence).
func NewPostgresDB(cfg config.DatabaseConfig, logger *observability.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open trade ledger database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping trade ledger database: %w", err)
	}

	db := &DB{
		DB:        conn,
		logger:    logger,
		perf:      observability.NewPerformanceLogger(logger),
		slowQuery: cfg.QueryTimeout / 10,
	}
	if db.slowQuery <= 0 {
		db.slowQuery = 100 * time.Millisecond
	}

	logger.Info(context.Background(), "trade ledger database connected", map[string]interface{}{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	})

	return db, nil
}

// ExecWithMetrics executes a write query and logs when it crosses the
// slow-query threshold, matching the ledger's "never stall a bot's tick
// loop on a write" expectation (spec §3).
func (db *DB) ExecWithMetrics(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := db.ExecContext(ctx, query, args...)
	if db.perf != nil {
		threshold := db.slowQuery
		if threshold <= 0 {
			threshold = 100 * time.Millisecond
		}
		db.perf.LogSlowOperation(ctx, "trade_ledger_exec", time.Since(start), threshold, map[string]interface{}{
			"query": query,
		})
	}
	return result, err
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	db.logger.Info(context.Background(), "closing trade ledger database", nil)
	return db.DB.Close()
}

// Health pings the trade ledger database, warning on latency worth paging
// on (spec's ambient operability concerns, same threshold style as the
// teacher's own health checks).
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("trade ledger database health check failed: %w", err)
	}
	if latency := time.Since(start); latency > 100*time.Millisecond {
		db.logger.Warn(ctx, "high trade ledger database latency", map[string]interface{}{
			"latency_ms": latency.Milliseconds(),
		})
	}
	return nil
}
