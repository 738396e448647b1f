package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tracelink-lab/internal/config"
	"tracelink-lab/pkg/logger"
)

// PostgresDB wraps the pgx connection pool
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgres creates a new PostgreSQL connection pool
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*PostgresDB, error) {
	log = log.WithComponent("postgres")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("dbname", cfg.DBName).Msg("connecting to PostgreSQL")

	// Parse connection config
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure pool
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		log.Debug().Uint32("pid", conn.PgConn().PID()).Msg("postgres connection established")
		return nil
	}

	// Create pool with timeout
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL successfully")

	return &PostgresDB{
		pool:   pool,
		logger: log,
	}, nil
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool
func (db *PostgresDB) Close() {
	db.logger.Info().Msg("closing PostgreSQL connection pool")
	db.pool.Close()
}

// Ping checks the database connection
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// PoolStats is a snapshot of the connection pool
type PoolStats struct {
	TotalConns    int32         `json:"total_conns"`
	IdleConns     int32         `json:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns"`
	MaxConns      int32         `json:"max_conns"`
	AcquireCount  int64         `json:"acquire_count"`
	AcquireWait   time.Duration `json:"acquire_wait"`
}

// Stats returns connection pool statistics
func (db *PostgresDB) Stats(context.Context) (any, error) {
	st := db.pool.Stat()
	return PoolStats{
		TotalConns:    st.TotalConns(),
		IdleConns:     st.IdleConns(),
		AcquiredConns: st.AcquiredConns(),
		MaxConns:      st.MaxConns(),
		AcquireCount:  st.AcquireCount(),
		AcquireWait:   st.AcquireDuration(),
	}, nil
}

// Migrate creates the tables the service writes to. Statements are idempotent.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	db.logger.Info().Int("steps", len(schema)).Msg("database schema ready")
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS search_sessions (
		session_id      UUID PRIMARY KEY,
		query_hash      TEXT NOT NULL,
		intent          TEXT NOT NULL DEFAULT '',
		criteria_count  INTEGER NOT NULL DEFAULT 0,
		pages_fetched   INTEGER NOT NULL DEFAULT 0,
		records_fetched INTEGER NOT NULL DEFAULT 0,
		unique_records  INTEGER NOT NULL DEFAULT 0,
		exact_matches   INTEGER NOT NULL DEFAULT 0,
		graph_nodes     INTEGER NOT NULL DEFAULT 0,
		graph_edges     INTEGER NOT NULL DEFAULT 0,
		early_stopped   BOOLEAN NOT NULL DEFAULT FALSE,
		error_count     INTEGER NOT NULL DEFAULT 0,
		cached          BOOLEAN NOT NULL DEFAULT FALSE,
		duration_ms     BIGINT NOT NULL DEFAULT 0,
		started_at      TIMESTAMPTZ NOT NULL,
		completed_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_search_sessions_started ON search_sessions (started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_search_sessions_query_hash ON search_sessions (query_hash)`,
}
