package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbeMalformedConninfo(t *testing.T) {
	c := NewClient()
	assert.False(t, c.Probe(context.Background(), "this is not a conninfo ==="))
}

func TestProbeConnectionRefused(t *testing.T) {
	c := &Client{ConnectTimeout: time.Second}
	// Port 1 is never a Postgres listener; refusal must classify as
	// unreachable, not as an error.
	assert.False(t, c.Probe(context.Background(), "postgres://127.0.0.1:1/postgres"))
}

func TestProbeHonorsCancelledContext(t *testing.T) {
	c := NewClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.Probe(ctx, "postgres://127.0.0.1:1/postgres"))
}
