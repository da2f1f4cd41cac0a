package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"launch-guard/internal/observability"
	"launch-guard/internal/solana"
)

// Poller default tuning.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollLimit    = 50
	DefaultDedupDepth   = 4096
)

// Poller is the fallback ingestion path: it periodically lists recent
// signatures for an address and emits each unseen one as a bare
// notification. It feeds the same downstream entrypoint as the WebSocket
// handle, so consumers never care which path surfaced a signature.
type Poller struct {
	rpc      solana.RPCClient
	address  string
	interval time.Duration
	limit    int
	dedup    *dedupSet
	emit     func(solana.LogNotification)
	log      *zap.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval overrides the polling cadence.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollLimit overrides the per-round signature fetch limit.
func WithPollLimit(n int) PollerOption {
	return func(p *Poller) { p.limit = n }
}

// WithDedupDepth overrides the seen-signature window size.
func WithDedupDepth(n int) PollerOption {
	return func(p *Poller) { p.dedup = newDedupSet(n) }
}

// NewPoller creates a poller for address that forwards unseen signatures to
// emit. Notifications from the poller carry no log lines; downstream must
// treat an empty log set as "fetch detail to find out".
func NewPoller(rpc solana.RPCClient, address string, emit func(solana.LogNotification), log *zap.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		rpc:      rpc,
		address:  address,
		interval: DefaultPollInterval,
		limit:    DefaultPollLimit,
		dedup:    newDedupSet(DefaultDedupDepth),
		emit:     emit,
		log:      log.Named("poller").With(zap.String("address", address)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Seed marks signatures as already seen without emitting them. Used when the
// poller takes over from a live subscription, so the replayed tail of the
// WebSocket feed is not re-delivered.
func (p *Poller) Seed(signatures []string) {
	for _, sig := range signatures {
		p.dedup.Add(sig)
	}
}

func (p *Poller) poll(ctx context.Context) {
	sigs, err := p.rpc.GetSignaturesForAddress(ctx, p.address, &solana.SignaturesOpts{Limit: p.limit})
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("signature poll failed", zap.Error(err))
		}
		return
	}

	// RPC returns newest first; emit oldest first to preserve chain order.
	emitted := 0
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if sig.Err != nil {
			// Failed transactions cannot carry a trade.
			p.dedup.Add(sig.Signature)
			continue
		}
		if !p.dedup.Add(sig.Signature) {
			continue
		}
		emitted++
		p.emit(solana.LogNotification{
			Signature: sig.Signature,
			Slot:      sig.Slot,
		})
	}

	observability.RecordPollerRound(emitted)
}

// dedupSet is a bounded set of recently seen signatures with FIFO eviction.
type dedupSet struct {
	seen  map[string]struct{}
	order []string
	next  int
}

func newDedupSet(capacity int) *dedupSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &dedupSet{
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

// Add records sig and reports whether it was new.
func (d *dedupSet) Add(sig string) bool {
	if _, ok := d.seen[sig]; ok {
		return false
	}
	if old := d.order[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.order[d.next] = sig
	d.next = (d.next + 1) % len(d.order)
	d.seen[sig] = struct{}{}
	return true
}
