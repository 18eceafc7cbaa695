// Package engine wraps the supervisor's view of the local Postgres instance:
// recovery status, promotion, and the live synchronous-standby membership.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Engine is the collaborator boundary the supervisor and reconciler depend on.
type Engine interface {
	// RecoveryInProgress reports whether the local instance is replaying
	// from a primary (i.e. running as a standby).
	RecoveryInProgress(ctx context.Context) (bool, error)

	// Promote converts the local standby into a primary.
	Promote(ctx context.Context) error

	// SyncStandbyNames returns the ordered synchronous-standby member names
	// from the live replication configuration.
	SyncStandbyNames(ctx context.Context) ([]string, error)
}

// MembershipSource is the subset needed by registry code.
type MembershipSource interface {
	SyncStandbyNames(ctx context.Context) ([]string, error)
}

// Postgres implements Engine over a pgx connection pool to the local node.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a small pool against the local instance and verifies it.
func Connect(ctx context.Context, conninfo string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(conninfo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse local conninfo: %w", err)
	}
	config.MaxConns = 2
	config.MinConns = 1
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create local pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("local engine unreachable: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) RecoveryInProgress(ctx context.Context) (bool, error) {
	var recovery bool
	if err := p.pool.QueryRow(ctx, "SELECT pg_is_in_recovery()").Scan(&recovery); err != nil {
		return false, fmt.Errorf("failed to read recovery status: %w", err)
	}
	return recovery, nil
}

// Promote triggers promotion and waits for it to complete.
func (p *Postgres) Promote(ctx context.Context) error {
	var ok bool
	if err := p.pool.QueryRow(ctx, "SELECT pg_promote(true)").Scan(&ok); err != nil {
		return fmt.Errorf("promotion failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("promotion did not complete")
	}
	log.Info().Msg("Local engine promoted to primary")
	return nil
}

func (p *Postgres) SyncStandbyNames(ctx context.Context) ([]string, error) {
	var raw string
	if err := p.pool.QueryRow(ctx, "SHOW synchronous_standby_names").Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to read synchronous_standby_names: %w", err)
	}
	return ParseSyncStandbyNames(raw), nil
}
