// Package postgres persists characters, their connect tokens and their
// equipment in PostgreSQL through pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/manaserv/internal/config"
)

// ApplicationName is reported to the server for every pooled session, so the
// game server's connections are identifiable in pg_stat_activity.
const ApplicationName = "manaserv"

// Pool is the connection pool shared by the character and equipment repositories.
type Pool struct {
	pool *pgxpool.Pool
	addr string
}

// NewPool connects to the character database described by cfg.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a Pool that has answered a ping, or a non-nil error
// naming the database it tried.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	addr := fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool for %s: %w", addr, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s: %w", addr, err)
	}

	return &Pool{pool: pool, addr: addr}, nil
}

// Health pings the database within timeout. The game server's health monitor
// uses it to drive the "postgres" gRPC health status.
//
// Precondition: The pool must not be closed.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database %s unreachable: %w", p.addr, err)
	}
	return nil
}

// Close releases every pooled connection. Repositories built on DB must not
// be used afterwards.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the pgx pool handed to NewCharacterRepository and NewEquipmentRepository.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
