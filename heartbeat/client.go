// Package heartbeat issues single liveness probes against remote Postgres
// nodes. Every probe opens its own short-lived connection; at one probe per
// poll interval a pool buys nothing and hides connection-level failures.
package heartbeat

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/pgkeeper/pgkeeper/telemetry"
)

const livenessQuery = "SELECT 1"

// Prober is the probe contract the registry manager and the supervisor
// depend on, so tests can substitute scripted outcomes.
type Prober interface {
	Probe(ctx context.Context, conninfo string) bool
}

// Client probes remote nodes over the Postgres wire protocol.
type Client struct {
	// ConnectTimeout bounds connection establishment. The query itself is
	// bounded only by the transport; the supervisor adds no extra layer.
	ConnectTimeout time.Duration
}

// NewClient returns a probe client with a sane default connect timeout.
func NewClient() *Client {
	return &Client{ConnectTimeout: 10 * time.Second}
}

// Probe reports whether the node at conninfo answers the liveness query.
// All failures are transient from the caller's perspective: they are logged
// at warn and reported as unreachable, never as errors.
func (c *Client) Probe(ctx context.Context, conninfo string) bool {
	_, ok := c.probe(ctx, conninfo)
	return ok
}

// ProbeValue is Probe plus the scalar the liveness query returns, for
// callers that want to cross-check the result.
func (c *Client) ProbeValue(ctx context.Context, conninfo string) (int64, bool) {
	return c.probe(ctx, conninfo)
}

func (c *Client) probe(ctx context.Context, conninfo string) (int64, bool) {
	connCtx := ctx
	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	conn, err := pgx.Connect(connCtx, conninfo)
	if err != nil {
		log.Warn().Err(err).Str("conninfo", conninfo).Msg("Heartbeat connection failed")
		telemetry.HeartbeatsTotal.With("unreachable").Inc()
		return 0, false
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	var value int64
	if err := conn.QueryRow(ctx, livenessQuery).Scan(&value); err != nil {
		log.Warn().Err(err).Str("conninfo", conninfo).Msg("Heartbeat query failed")
		telemetry.HeartbeatsTotal.With("unreachable").Inc()
		return 0, false
	}

	telemetry.HeartbeatsTotal.With("reachable").Inc()
	return value, true
}
