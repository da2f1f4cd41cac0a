// Package feed maintains resilient per-topic log subscriptions against a
// Solana PubSub endpoint. Each topic gets its own connection and state
// machine; a dead connection is redialed with exponential backoff and full
// jitter until a circuit breaker gives up.
package feed

import (
	"context"
	"time"

	"launch-guard/internal/solana"
)

// State is the lifecycle phase of a subscription handle.
type State string

const (
	// StateConnecting means a dial or redial is in progress.
	StateConnecting State = "connecting"
	// StateOpen means the subscription is live and delivering.
	StateOpen State = "open"
	// StateDegraded means the connection dropped and reconnect is pending.
	StateDegraded State = "degraded"
	// StateClosed is terminal: closed by the owner or circuit-open.
	StateClosed State = "closed"
)

// Config tunes handle reconnect and liveness behavior.
type Config struct {
	Endpoint string

	// ReconnectBase is the first retry delay; it doubles per consecutive
	// failure up to ReconnectMax.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// MaxJitter is added uniformly at random to every retry delay.
	MaxJitter time.Duration
	// MaxAttempts is the consecutive failure count that opens the circuit.
	MaxAttempts int

	// PingInterval is how often a ping probes the connection.
	PingInterval time.Duration
	// StaleAfter forces a reconnect when no frame arrived for this long.
	StaleAfter time.Duration

	// DialTimeout bounds each dial plus subscribe round trip.
	DialTimeout time.Duration

	// ReplayDepth is the per-handle replay buffer capacity.
	ReplayDepth int

	// OutBuffer is the delivery channel depth.
	OutBuffer int
}

// DefaultConfig returns production reconnect tuning for an endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:      endpoint,
		ReconnectBase: 500 * time.Millisecond,
		ReconnectMax:  30 * time.Second,
		MaxJitter:     250 * time.Millisecond,
		MaxAttempts:   10,
		PingInterval:  15 * time.Second,
		StaleAfter:    45 * time.Second,
		DialTimeout:   15 * time.Second,
		ReplayDepth:   256,
		OutBuffer:     1024,
	}
}

// DialFunc opens a WebSocket session. Swappable for tests.
type DialFunc func(ctx context.Context, endpoint string) (solana.WSConn, error)

func defaultDial(ctx context.Context, endpoint string) (solana.WSConn, error) {
	return solana.DialWS(ctx, endpoint, nil)
}
