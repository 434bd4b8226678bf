// Package connection opens and tunes the database/sql pool behind each
// Database.
package connection

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexus-db/schemasync/pkg/logging"
)

// Pool is an open database/sql handle with its settings.
type Pool struct {
	db     *sql.DB
	config PoolConfig
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`     // Maximum number of open connections
	MaxIdleConns    int           `yaml:"max_idle_conns"`     // Maximum number of idle connections
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`  // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"` // Maximum idle time before closing
}

// DefaultPoolConfig returns sensible defaults for a connection pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// SingleConnection returns settings that pin one connection for the life
// of the pool. In-memory SQLite databases exist only on their connection.
func SingleConnection() PoolConfig {
	return PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}
}

// Open opens driver with dsn, applies config and verifies the server
// answers. The handle is closed again when the ping fails.
func Open(ctx context.Context, driver, dsn string, config PoolConfig) (*Pool, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	p := NewPool(db, config)
	if err := p.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPool wraps an existing *sql.DB.
func NewPool(db *sql.DB, config PoolConfig) *Pool {
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return &Pool{db: db, config: config}
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Config returns the settings the pool was opened with.
func (p *Pool) Config() PoolConfig {
	return p.config
}

// Ping verifies the connection is alive.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn acquires a single connection from the pool. Session-scoped state
// such as advisory locks must be taken on one.
func (p *Pool) Conn(ctx context.Context) (*sql.Conn, error) {
	return p.db.Conn(ctx)
}

// BeginTx starts a transaction with the given options.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, opts)
}

// HealthCheck pings with a short timeout and logs a warning when every
// connection is in use.
func (p *Pool) HealthCheck(ctx context.Context, logger logging.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return err
	}

	stats := p.Stats()
	if p.config.MaxOpenConns > 0 && stats.InUse >= p.config.MaxOpenConns && logger != nil {
		logger.Log(logging.LevelWarn, "Connection pool at capacity", logging.Fields{
			"open":      stats.OpenConnections,
			"in_use":    stats.InUse,
			"wait":      stats.WaitCount,
			"wait_time": stats.WaitDuration,
		})
	}
	return nil
}
