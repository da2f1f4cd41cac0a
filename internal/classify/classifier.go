// Package classify turns confirmed transaction detail into attributed trade
// events. Attribution works purely from pre/post balance deltas: a trade is
// only reported when exactly one plausible wallet moved the watched token,
// and anything less clear-cut is discarded rather than guessed at.
package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"launch-guard/internal/domain"
	"launch-guard/internal/observability"
	"launch-guard/internal/solana"
)

// Default detail-fetch retry tuning. Confirmed transactions can lag the log
// notification by a few hundred milliseconds on public RPC.
const (
	DefaultFetchRetries = 5
	DefaultFetchDelay   = 400 * time.Millisecond
)

// Classifier fetches transaction detail and derives trade events.
type Classifier struct {
	rpc        solana.RPCClient
	log        *zap.Logger
	retries    int
	retryDelay time.Duration
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFetchRetries overrides how often a not-yet-indexed transaction is
// re-fetched before giving up.
func WithFetchRetries(n int) Option {
	return func(c *Classifier) { c.retries = n }
}

// WithFetchDelay overrides the delay between detail fetch retries.
func WithFetchDelay(d time.Duration) Option {
	return func(c *Classifier) { c.retryDelay = d }
}

// New creates a Classifier backed by the given RPC client.
func New(rpc solana.RPCClient, log *zap.Logger, opts ...Option) *Classifier {
	c := &Classifier{
		rpc:        rpc,
		log:        log.Named("classify"),
		retries:    DefaultFetchRetries,
		retryDelay: DefaultFetchDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify resolves a log notification into a trade event for mint. The
// prefilter gates only the fetch; a notification that passes it can still
// come back (nil, nil) after delta analysis. A fetch that keeps failing
// returns an error wrapping domain.ErrTransport.
func (c *Classifier) Classify(ctx context.Context, notif solana.LogNotification, mint string) (*domain.TradeEvent, error) {
	if notif.Err != nil {
		return nil, nil
	}
	if !MatchesTradeLogs(notif.Logs) {
		return nil, nil
	}

	tx, err := c.fetchTransaction(ctx, notif.Signature)
	if err != nil {
		observability.RecordDetailFetchError()
		return nil, fmt.Errorf("fetch %s: %w: %w", notif.Signature, domain.ErrTransport, err)
	}
	if tx == nil {
		// Never indexed within the retry budget; treat like ambiguity.
		c.log.Debug("transaction detail unavailable", zap.String("signature", notif.Signature))
		observability.RecordAmbiguousDiscard()
		return nil, nil
	}

	event := FromTransaction(tx, mint)
	if event == nil {
		observability.RecordAmbiguousDiscard()
		return nil, nil
	}

	observability.RecordClassified(string(event.Direction))
	observability.RecordEventObserved(event.ObservedAt.Unix())
	return event, nil
}

// fetchTransaction retries getTransaction until detail is available or the
// retry budget runs out. A nil result without error means the signature
// never became visible.
func (c *Classifier) fetchTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		tx, err := c.rpc.GetTransaction(ctx, signature)
		if err != nil {
			lastErr = err
			continue
		}
		if tx != nil {
			return tx, nil
		}
	}
	return nil, lastErr
}

// tokenDelta accumulates one owner's position change for the watched mint.
type tokenDelta struct {
	owner string
	delta int64
}

// FromTransaction derives a trade event for mint from confirmed transaction
// detail. It returns nil whenever attribution is not certain:
//
//   - the transaction failed on-chain, or detail is incomplete
//   - no wallet moved the watched token
//   - more than one wallet shows a consistent trade pattern
//   - the moving wallet's lamport delta does not oppose its token delta
//
// Program-owned token accounts (bonding curve vaults, pool authorities) are
// excluded up front: their owners are program-derived addresses, which are
// off the ed25519 curve, while user wallets are ordinary on-curve keys.
func FromTransaction(tx *solana.Transaction, mint string) *domain.TradeEvent {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return nil
	}
	if tx.Meta.Err != nil {
		return nil
	}
	if len(tx.Meta.PreBalances) != len(tx.Message.AccountKeys) ||
		len(tx.Meta.PostBalances) != len(tx.Message.AccountKeys) {
		return nil
	}

	deltas := collectTokenDeltas(tx.Meta, mint)
	if len(deltas) == 0 {
		return nil
	}

	keyIndex := make(map[string]int, len(tx.Message.AccountKeys))
	for i, key := range tx.Message.AccountKeys {
		keyIndex[key] = i
	}

	var event *domain.TradeEvent
	for _, d := range deltas {
		idx, ok := keyIndex[d.owner]
		if !ok {
			// Owner wallet absent from the account list: its lamport
			// side cannot be pinned, so this transaction cannot be
			// attributed with confidence.
			return nil
		}

		native := int64(tx.Meta.PostBalances[idx]) - int64(tx.Meta.PreBalances[idx])

		var direction domain.Direction
		switch {
		case d.delta > 0 && native < 0:
			direction = domain.DirectionBuy
		case d.delta < 0 && native > 0:
			direction = domain.DirectionSell
		default:
			// Token moved but lamports did not oppose it: a transfer or
			// an airdrop, not a trade by this wallet.
			continue
		}

		if event != nil {
			// Two wallets both look like traders; refuse to pick one.
			return nil
		}
		event = &domain.TradeEvent{
			Signature:    tx.Signature,
			Slot:         tx.Slot,
			Trader:       d.owner,
			Direction:    direction,
			NativeAmount: abs64(native),
			AssetAmount:  abs64(d.delta),
			ObservedAt:   time.Now().UTC(),
		}
	}

	return event
}

// collectTokenDeltas sums per-owner position changes for mint across the
// pre/post token balance snapshots, dropping program-owned accounts.
func collectTokenDeltas(meta *solana.TransactionMeta, mint string) []tokenDelta {
	byIndex := make(map[int]int64)
	owners := make(map[int]string)

	for _, b := range meta.PreTokenBalances {
		if b.Mint != mint {
			continue
		}
		byIndex[b.AccountIndex] -= int64(b.Amount)
		owners[b.AccountIndex] = b.Owner
	}
	for _, b := range meta.PostTokenBalances {
		if b.Mint != mint {
			continue
		}
		byIndex[b.AccountIndex] += int64(b.Amount)
		owners[b.AccountIndex] = b.Owner
	}

	byOwner := make(map[string]int64)
	for idx, delta := range byIndex {
		if delta == 0 {
			continue
		}
		owner := owners[idx]
		if owner == "" || !isWalletAddress(owner) {
			continue
		}
		byOwner[owner] += delta
	}

	out := make([]tokenDelta, 0, len(byOwner))
	for owner, delta := range byOwner {
		if delta == 0 {
			continue
		}
		out = append(out, tokenDelta{owner: owner, delta: delta})
	}
	return out
}

// isWalletAddress reports whether addr decodes to an on-curve public key.
func isWalletAddress(addr string) bool {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		return false
	}
	return solana.IsOnCurve(raw)
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
