// Package engine wires the ingestion path to the monitor: one feed
// subscription per armed token, classification of every notification, and a
// polling fallback that takes over whenever the subscription degrades.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"launch-guard/internal/classify"
	"launch-guard/internal/domain"
	"launch-guard/internal/feed"
	"launch-guard/internal/monitor"
	"launch-guard/internal/solana"
	"launch-guard/internal/storage"
)

const archiveTimeout = 5 * time.Second

// Engine is the composition root for a running guard: it owns the monitor
// manager and one ingestion watch per armed token.
type Engine struct {
	rpc        solana.RPCClient
	sub        *feed.Subscriber
	classifier *classify.Classifier
	manager    *monitor.Manager
	archive    storage.TradeEventArchive
	log        *zap.Logger

	pollerOpts []feed.PollerOption

	mu      sync.Mutex
	watches map[string]*watch

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// watch is one token's ingestion pipeline.
type watch struct {
	sessionID string
	handle    *feed.Handle
	cancel    context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollerOptions tunes the fallback pollers the engine starts.
func WithPollerOptions(opts ...feed.PollerOption) Option {
	return func(e *Engine) { e.pollerOpts = opts }
}

// New creates an engine. Manager options are forwarded; the engine installs
// its own terminal hook so a finished session releases its feed topic.
func New(
	log *zap.Logger,
	rpc solana.RPCClient,
	sub *feed.Subscriber,
	classifier *classify.Classifier,
	store storage.SessionStore,
	archive storage.TradeEventArchive,
	liq monitor.Liquidator,
	opts []Option,
	mgrOpts ...monitor.Option,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		rpc:        rpc,
		sub:        sub,
		classifier: classifier,
		archive:    archive,
		log:        log.Named("engine"),
		watches:    make(map[string]*watch),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	mgrOpts = append(mgrOpts, monitor.WithTerminalHook(e.onSessionTerminal))
	e.manager = monitor.NewManager(log, rpc, store, liq, mgrOpts...)
	return e
}

// Arm starts a monitoring session and its ingestion watch. A session whose
// feed cannot be opened is cancelled rather than left blind.
func (e *Engine) Arm(ctx context.Context, p monitor.ArmParams) (*monitor.ArmResult, error) {
	res, err := e.manager.Arm(ctx, p)
	if err != nil {
		return nil, err
	}

	if err := e.ensureWatch(p.TokenMint, res.SessionID); err != nil {
		if cerr := e.manager.Cancel(ctx, p.TokenMint); cerr != nil {
			e.log.Error("cancel blind session",
				zap.String("session_id", res.SessionID),
				zap.Error(cerr))
		}
		return nil, fmt.Errorf("open feed for %s: %w", p.TokenMint, err)
	}
	return res, nil
}

// Status reports the session state for a token.
func (e *Engine) Status(ctx context.Context, tokenMint string) (*monitor.StatusInfo, error) {
	return e.manager.Status(ctx, tokenMint)
}

// Cancel stops a live session. The terminal hook releases the watch.
func (e *Engine) Cancel(ctx context.Context, tokenMint string) error {
	return e.manager.Cancel(ctx, tokenMint)
}

// Recover reloads persisted sessions and re-opens watches for the live ones.
func (e *Engine) Recover(ctx context.Context) error {
	if err := e.manager.Recover(ctx); err != nil {
		return err
	}
	for _, mint := range e.manager.ActiveMints() {
		info, err := e.manager.Status(ctx, mint)
		if err != nil {
			continue
		}
		if err := e.ensureWatch(mint, info.SessionID); err != nil {
			e.log.Error("re-open feed for recovered session",
				zap.String("token_mint", mint),
				zap.String("session_id", info.SessionID),
				zap.Error(err))
		}
	}
	return nil
}

// Close stops ingestion and all sessions. In-flight liquidations finish.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	err := e.sub.CloseAll(ctx)
	e.manager.Close()
	e.wg.Wait()
	return err
}

// ensureWatch opens (or re-binds) the ingestion pipeline for a mint. A re-arm
// of a token with a live feed keeps the existing subscription.
func (e *Engine) ensureWatch(mint, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.watches[mint]; ok && w.handle.State() != feed.StateClosed {
		w.sessionID = sessionID
		return nil
	}

	mentions := []string{mint, classify.LaunchpadProgramID}
	handle, err := e.sub.Open(mint, mentions)
	if err != nil {
		// A just-retired session's handle may still be tearing down;
		// force it out and retry once.
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.sub.Close(cctx, mint)
		cancel()
		handle, err = e.sub.Open(mint, mentions)
		if err != nil {
			return err
		}
	}

	wctx, wcancel := context.WithCancel(e.baseCtx)
	w := &watch{sessionID: sessionID, handle: handle, cancel: wcancel}
	e.watches[mint] = w

	e.wg.Add(1)
	go e.pump(wctx, mint, w)
	return nil
}

// pump consumes one watch's notifications and manages its fallback poller:
// started when the subscription degrades or dies, stopped when it reopens.
func (e *Engine) pump(ctx context.Context, mint string, w *watch) {
	defer e.wg.Done()

	var pollCancel context.CancelFunc
	stopPoller := func() {
		if pollCancel != nil {
			pollCancel()
			pollCancel = nil
		}
	}
	defer stopPoller()

	startPoller := func() {
		if pollCancel != nil {
			return
		}
		pctx, cancel := context.WithCancel(ctx)
		pollCancel = cancel

		p := feed.NewPoller(e.rpc, mint, func(n solana.LogNotification) {
			e.process(pctx, mint, n)
		}, e.log, e.pollerOpts...)

		// The subscription's replayed tail is already processed; do not
		// re-deliver it through the poller.
		replay := w.handle.Replay()
		sigs := make([]string, 0, len(replay))
		for _, n := range replay {
			sigs = append(sigs, n.Signature)
		}
		p.Seed(sigs)

		e.log.Warn("feed degraded, fallback poller active", zap.String("token_mint", mint))
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			p.Run(pctx)
		}()
	}

	events := w.handle.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-events:
			if !ok {
				if w.handle.Err() == nil {
					// Deliberate close; the watch context follows.
					return
				}
				// Circuit open: the poller is the only path left.
				startPoller()
				events = nil
				continue
			}
			e.process(ctx, mint, n)

		case s := <-w.handle.StateChanges():
			switch s {
			case feed.StateDegraded:
				startPoller()
			case feed.StateOpen:
				stopPoller()
			}
		}
	}
}

// process classifies one notification and routes the resulting event to the
// archive and the session.
func (e *Engine) process(ctx context.Context, mint string, n solana.LogNotification) {
	event, err := e.classifier.Classify(ctx, n, mint)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Warn("classification failed",
				zap.String("signature", n.Signature),
				zap.Error(err))
		}
		return
	}
	if event == nil {
		return
	}

	if sessionID := e.sessionFor(mint); sessionID != "" && e.archive != nil {
		actx, cancel := context.WithTimeout(ctx, archiveTimeout)
		if err := e.archive.Insert(actx, sessionID, event); err != nil && ctx.Err() == nil {
			e.log.Error("archive trade event",
				zap.String("signature", event.Signature),
				zap.Error(err))
		}
		cancel()
	}

	e.manager.Feed(ctx, mint, event)
}

func (e *Engine) sessionFor(mint string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.watches[mint]; ok {
		return w.sessionID
	}
	return ""
}

// onSessionTerminal releases a finished session's watch. A watch already
// re-bound to a newer session is left alone.
func (e *Engine) onSessionTerminal(sessionID, tokenMint string, status domain.SessionStatus) {
	e.mu.Lock()
	w, ok := e.watches[tokenMint]
	if ok && w.sessionID == sessionID {
		delete(e.watches, tokenMint)
	} else {
		w = nil
	}
	e.mu.Unlock()
	if w == nil {
		return
	}

	e.log.Info("releasing feed topic",
		zap.String("token_mint", tokenMint),
		zap.String("session_id", sessionID),
		zap.String("status", string(status)))

	w.cancel()
	go func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sub.Close(cctx, tokenMint); err != nil {
			e.log.Warn("close feed topic", zap.String("token_mint", tokenMint), zap.Error(err))
		}
	}()
}
