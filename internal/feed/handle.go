package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"launch-guard/internal/domain"
	"launch-guard/internal/observability"
	"launch-guard/internal/solana"
)

// Handle is one topic's live subscription. It owns a single connection at a
// time and transparently redials when it drops; consumers read Events and
// watch StateChanges without caring which connection delivered what.
type Handle struct {
	topic  string
	filter solana.LogsFilter
	cfg    Config
	dial   DialFunc
	log    *zap.Logger
	rng    *rand.Rand

	out     chan solana.LogNotification
	states  chan State
	buffer  *replayBuffer
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	state State
	err   error
}

func newHandle(topic string, mentions []string, cfg Config, dial DialFunc, log *zap.Logger) *Handle {
	h := &Handle{
		topic:   topic,
		filter:  solana.LogsFilter{Mentions: mentions},
		cfg:     cfg,
		dial:    dial,
		log:     log.Named("handle").With(zap.String("topic", topic)),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		out:     make(chan solana.LogNotification, cfg.OutBuffer),
		states:  make(chan State, 16),
		buffer:  newReplayBuffer(cfg.ReplayDepth),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateConnecting,
	}
	observability.SetFeedState("", string(StateConnecting))
	go h.run()
	return h
}

// Topic is the key this handle was opened under.
func (h *Handle) Topic() string { return h.topic }

// Events delivers notifications across reconnects. Closed once the handle
// reaches StateClosed.
func (h *Handle) Events() <-chan solana.LogNotification { return h.out }

// StateChanges delivers state transitions. Best-effort: a slow reader misses
// intermediate states, never the channel close semantics of Events.
func (h *Handle) StateChanges() <-chan State { return h.states }

// State reports the current lifecycle phase.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err reports why the handle closed. Nil after a caller-initiated Close.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Replay returns the most recent notifications, oldest first.
func (h *Handle) Replay() []solana.LogNotification {
	return h.buffer.Snapshot()
}

// Close tears the subscription down with a best-effort unsubscribe and waits
// for the run loop to exit. Safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() { close(h.closing) })
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	prev := h.state
	if prev == s {
		h.mu.Unlock()
		return
	}
	h.state = s
	h.mu.Unlock()

	observability.SetFeedState(string(prev), string(s))
	select {
	case h.states <- s:
	default:
	}
}

// finish records the terminal error and releases consumers, exactly once per
// handle lifetime.
func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.setState(StateClosed)
	close(h.out)
}

func (h *Handle) isClosing() bool {
	select {
	case <-h.closing:
		return true
	default:
		return false
	}
}

// run is the reconnect state machine. attempt counts consecutive cycles that
// ended without a working subscription; it resets on every successful
// subscribe, so only an endpoint that stays unreachable opens the circuit.
func (h *Handle) run() {
	defer close(h.done)

	attempt := 0
	for {
		if h.isClosing() {
			h.finish(nil)
			return
		}

		if attempt > h.cfg.MaxAttempts {
			h.log.Error("reconnect attempts exhausted, opening circuit",
				zap.Int("attempts", h.cfg.MaxAttempts))
			observability.RecordFeedCircuitOpen()
			h.finish(fmt.Errorf("reconnect attempts exhausted after %d tries: %w",
				h.cfg.MaxAttempts, domain.ErrTransport))
			return
		}

		if attempt > 0 {
			h.setState(StateDegraded)
			delay := backoffDelay(attempt, h.cfg.ReconnectBase, h.cfg.ReconnectMax, h.cfg.MaxJitter, h.rng)
			h.log.Info("reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			observability.RecordFeedReconnect()
			select {
			case <-time.After(delay):
			case <-h.closing:
				h.finish(nil)
				return
			}
		}

		h.setState(StateConnecting)

		dialCtx, cancel := context.WithTimeout(context.Background(), h.cfg.DialTimeout)
		conn, err := h.dial(dialCtx, h.cfg.Endpoint)
		if err != nil {
			cancel()
			h.log.Warn("dial failed", zap.Error(err))
			attempt++
			continue
		}

		subID, ch, err := conn.SubscribeLogs(dialCtx, h.filter)
		cancel()
		if err != nil {
			conn.Close()
			h.log.Warn("subscribe failed", zap.Error(err))
			attempt++
			continue
		}

		attempt = 0
		h.setState(StateOpen)
		h.log.Info("subscription open", zap.Int64("subscription_id", subID))

		if dropped := h.serve(conn, ch); !dropped {
			// Caller-initiated close: unsubscribe politely, then stop.
			unsubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := conn.UnsubscribeLogs(unsubCtx, subID); err != nil {
				h.log.Debug("unsubscribe failed", zap.Error(err))
			}
			cancel()
			conn.Close()
			h.finish(nil)
			return
		}

		conn.Close()
		attempt = 1
	}
}

// serve pumps one connection until it drops (true) or the handle is closed
// (false). Staleness is probed on the ping cadence: a connection that has
// produced no frame, pong included, within StaleAfter is declared dead even
// if the socket still writes.
func (h *Handle) serve(conn solana.WSConn, ch <-chan solana.LogNotification) bool {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-h.closing:
			return false

		case n, ok := <-ch:
			if !ok {
				return true
			}
			h.buffer.Append(n)
			observability.RecordFeedNotification()
			select {
			case h.out <- n:
			case <-h.closing:
				return false
			}

		case <-conn.Done():
			h.log.Warn("connection lost", zap.Error(conn.Err()))
			return true

		case <-ping.C:
			if err := conn.Ping(); err != nil {
				h.log.Warn("ping failed", zap.Error(err))
				return true
			}
			idle := time.Since(time.Unix(0, conn.LastActivity()))
			if idle > h.cfg.StaleAfter {
				h.log.Warn("connection stale, forcing reconnect",
					zap.Duration("idle", idle))
				return true
			}
		}
	}
}
