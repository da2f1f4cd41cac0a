package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"launch-guard/internal/domain"
	"launch-guard/internal/observability"
	"launch-guard/internal/solana"
	"launch-guard/internal/storage"
)

const (
	// MaxWindowSlots bounds worst-case monitoring duration regardless of
	// caller-supplied configuration, roughly one minute of slots.
	MaxWindowSlots = 150

	// slotDuration converts a slot window into a wall-clock deadline.
	slotDuration = 400 * time.Millisecond

	persistTimeout = 5 * time.Second
)

// Liquidator executes the defensive sell for a triggered session.
type Liquidator interface {
	Liquidate(ctx context.Context, rec *domain.SessionRecord, trigger *domain.TradeEvent) (*domain.LiquidationOutcome, error)
}

// ArmParams is the caller-supplied configuration for one monitoring session.
type ArmParams struct {
	TokenMint   string
	Thresholds  domain.Thresholds
	LaunchSlot  int64
	WindowSlots int64
	IgnoreSet   []string
	Targets     []domain.SellTarget
}

// ArmResult is returned to the caller on a successful arm.
type ArmResult struct {
	SessionID string
	ExpiresAt time.Time
}

// StatusInfo is the externally visible session state.
type StatusInfo struct {
	SessionID   string
	Status      domain.SessionStatus
	TriggeredBy string
	RemainingMS int64
}

// TerminalHook is invoked after a session reaches a terminal status, so the
// caller can release the feed topic if no other session needs it.
type TerminalHook func(sessionID, tokenMint string, status domain.SessionStatus)

// Manager owns all live monitor sessions, keyed by token mint. Sessions for
// different tokens are fully independent; the only shared state is this map.
type Manager struct {
	rpc        solana.RPCClient
	store      storage.SessionStore
	liquidator Liquidator
	log        *zap.Logger

	slotDur    time.Duration
	onTerminal TerminalHook

	mu       sync.Mutex
	sessions map[string]*session

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithSlotDuration overrides the slot-to-wall-clock conversion.
func WithSlotDuration(d time.Duration) Option {
	return func(m *Manager) { m.slotDur = d }
}

// WithTerminalHook registers a callback for terminal transitions.
func WithTerminalHook(h TerminalHook) Option {
	return func(m *Manager) { m.onTerminal = h }
}

// NewManager creates a session manager.
func NewManager(log *zap.Logger, rpc solana.RPCClient, store storage.SessionStore, liq Liquidator, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		rpc:        rpc,
		store:      store,
		liquidator: liq,
		log:        log.Named("monitor"),
		slotDur:    slotDuration,
		sessions:   make(map[string]*session),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Arm validates the configuration, fetches the mint's total supply and starts
// a monitoring session. Exactly one session may be live per token; arming a
// token with a live session retires the old one first.
func (m *Manager) Arm(ctx context.Context, p ArmParams) (*ArmResult, error) {
	if err := validateArm(&p); err != nil {
		return nil, err
	}
	if p.WindowSlots > MaxWindowSlots {
		p.WindowSlots = MaxWindowSlots
	}

	supply, err := m.rpc.GetTokenSupply(ctx, p.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("fetch token supply: %w: %w", domain.ErrTransport, err)
	}
	if supply == nil || supply.Amount == 0 {
		return nil, fmt.Errorf("%w: mint %s has zero supply", domain.ErrConfigInvalid, p.TokenMint)
	}

	now := time.Now().UTC()
	rec := &domain.SessionRecord{
		SessionID:  uuid.NewString(),
		TokenMint:  p.TokenMint,
		Thresholds: p.Thresholds,
		Window: domain.Window{
			LaunchSlot:  p.LaunchSlot,
			WindowSlots: p.WindowSlots,
			StartedAt:   now,
			ExpiresAt:   now.Add(time.Duration(p.WindowSlots) * m.slotDur),
		},
		IgnoreSet:   append([]string(nil), p.IgnoreSet...),
		Targets:     append([]domain.SellTarget(nil), p.Targets...),
		TotalSupply: supply.Amount,
		Status:      domain.StatusMonitoring,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	if old, ok := m.sessions[p.TokenMint]; ok && !old.claimed.Load() {
		m.retireLocked(old)
	}
	s := newSession(rec)
	m.sessions[p.TokenMint] = s
	m.mu.Unlock()

	if err := m.store.Insert(ctx, rec); err != nil {
		m.mu.Lock()
		delete(m.sessions, p.TokenMint)
		m.mu.Unlock()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.startSession(s, rec.Window.ExpiresAt.Sub(now))
	observability.RecordSessionArmed()
	m.log.Info("session armed",
		zap.String("session_id", rec.SessionID),
		zap.String("token_mint", rec.TokenMint),
		zap.Int64("window_slots", rec.Window.WindowSlots),
		zap.Time("expires_at", rec.Window.ExpiresAt),
		zap.Uint64("total_supply", rec.TotalSupply))

	return &ArmResult{SessionID: rec.SessionID, ExpiresAt: rec.Window.ExpiresAt}, nil
}

// Feed evaluates one classified event against the token's live session. The
// session is agnostic to whether push or the fallback poller produced it.
func (m *Manager) Feed(_ context.Context, tokenMint string, e *domain.TradeEvent) {
	if e == nil {
		return
	}

	m.mu.Lock()
	s, ok := m.sessions[tokenMint]
	m.mu.Unlock()
	if !ok {
		return
	}

	switch s.evaluate(e, time.Now().UTC()) {
	case verdictIgnored:
		observability.RecordIgnoredBuy()
		m.log.Debug("ignored buy from excluded wallet",
			zap.String("token_mint", tokenMint),
			zap.String("trader", e.Trader),
			zap.String("signature", e.Signature))
	case verdictTriggered:
		m.log.Warn("sniper threshold exceeded",
			zap.String("token_mint", tokenMint),
			zap.String("trader", e.Trader),
			zap.String("signature", e.Signature),
			zap.Uint64("native_amount", e.NativeAmount),
			zap.Uint64("asset_amount", e.AssetAmount))
	}
}

// Status reports the state of the token's most recent session.
func (m *Manager) Status(_ context.Context, tokenMint string) (*StatusInfo, error) {
	m.mu.Lock()
	s, ok := m.sessions[tokenMint]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	rec := s.snapshot()
	info := &StatusInfo{
		SessionID:   rec.SessionID,
		Status:      rec.Status,
		TriggeredBy: rec.TriggeredBy,
	}
	if rec.Status == domain.StatusMonitoring {
		if remaining := time.Until(rec.Window.ExpiresAt).Milliseconds(); remaining > 0 {
			info.RemainingMS = remaining
		}
	}
	return info, nil
}

// Cancel aborts the token's live session. Returns ErrSessionNotFound when the
// token has no session at all, and ErrSessionTerminal when the session exists
// but already triggered, expired or was cancelled.
func (m *Manager) Cancel(ctx context.Context, tokenMint string) error {
	m.mu.Lock()
	s, ok := m.sessions[tokenMint]
	m.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	if !s.claimed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", domain.ErrSessionTerminal, s.rec.SessionID)
	}
	close(s.cancelled)
	s.setTerminal(domain.StatusCancelled, "", time.Now().UTC())
	m.persist(ctx, s)
	observability.RecordSessionCancelled()
	m.log.Info("session cancelled",
		zap.String("session_id", s.rec.SessionID),
		zap.String("token_mint", tokenMint))
	m.notifyTerminal(s, domain.StatusCancelled)
	return nil
}

// Recover reloads non-terminal sessions from the mirror after a restart.
// Sessions whose window already elapsed are marked expired instead of resumed.
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	now := time.Now().UTC()
	for _, rec := range records {
		if !now.Before(rec.Window.ExpiresAt) {
			rec.Status = domain.StatusExpired
			rec.UpdatedAt = now
			if err := m.store.Update(ctx, rec); err != nil {
				m.log.Error("mark stale session expired", zap.String("session_id", rec.SessionID), zap.Error(err))
			}
			observability.RecordSessionExpired()
			continue
		}

		s := newSession(rec)
		m.mu.Lock()
		m.sessions[rec.TokenMint] = s
		m.mu.Unlock()
		m.startSession(s, rec.Window.ExpiresAt.Sub(now))
		m.log.Info("session recovered",
			zap.String("session_id", rec.SessionID),
			zap.String("token_mint", rec.TokenMint),
			zap.Duration("remaining", rec.Window.ExpiresAt.Sub(now)))
	}
	return nil
}

// ActiveMints lists tokens with a live session, for feed re-subscription
// after recovery.
func (m *Manager) ActiveMints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mints []string
	for mint, s := range m.sessions {
		if !s.claimed.Load() {
			mints = append(mints, mint)
		}
	}
	return mints
}

// Close stops all session workers. In-flight liquidations are allowed to
// finish; no new work is scheduled.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.claimed.CompareAndSwap(false, true) {
			close(s.cancelled)
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.cancel()
}

func (m *Manager) startSession(s *session, ttl time.Duration) {
	s.timer = time.NewTimer(ttl)
	m.wg.Add(1)
	go m.run(s)
}

// run is the session worker: one goroutine per session, waiting for whichever
// terminal transition wins the claim.
func (m *Manager) run(s *session) {
	defer m.wg.Done()

	select {
	case e := <-s.trigger:
		s.timer.Stop()
		m.executeTrigger(s, e)
	case <-s.timer.C:
		if s.claimed.CompareAndSwap(false, true) {
			m.expire(s)
			return
		}
		// Lost the claim race at the deadline; finish whichever
		// transition won.
		select {
		case e := <-s.trigger:
			m.executeTrigger(s, e)
		case <-s.cancelled:
		}
	case <-s.cancelled:
		s.timer.Stop()
	}
}

func (m *Manager) executeTrigger(s *session, e *domain.TradeEvent) {
	s.setTerminal(domain.StatusTriggered, e.Signature, time.Now().UTC())
	m.persist(m.baseCtx, s)
	observability.RecordTriggerFired()

	rec := s.snapshot()
	outcome, err := m.liquidator.Liquidate(m.baseCtx, &rec, e)
	if err != nil {
		m.log.Error("liquidation failed",
			zap.String("session_id", rec.SessionID),
			zap.String("token_mint", rec.TokenMint),
			zap.Error(err))
	} else if outcome != nil {
		m.log.Info("liquidation complete",
			zap.String("session_id", rec.SessionID),
			zap.String("token_mint", rec.TokenMint),
			zap.Int("success_count", outcome.SuccessCount),
			zap.Uint64("total_native_received", outcome.TotalNativeReceived),
			zap.Duration("duration", outcome.Duration))
	}
	m.notifyTerminal(s, domain.StatusTriggered)
}

func (m *Manager) expire(s *session) {
	s.setTerminal(domain.StatusExpired, "", time.Now().UTC())
	m.persist(m.baseCtx, s)
	observability.RecordSessionExpired()
	rec := s.snapshot()
	m.log.Info("session expired",
		zap.String("session_id", rec.SessionID),
		zap.String("token_mint", rec.TokenMint))
	m.notifyTerminal(s, domain.StatusExpired)
}

// retireLocked cancels a still-live session being replaced by a new arm for
// the same token. Caller holds m.mu.
func (m *Manager) retireLocked(s *session) {
	if !s.claimed.CompareAndSwap(false, true) {
		return
	}
	close(s.cancelled)
	s.setTerminal(domain.StatusCancelled, "", time.Now().UTC())
	go func() {
		m.persist(m.baseCtx, s)
		m.notifyTerminal(s, domain.StatusCancelled)
	}()
	observability.RecordSessionCancelled()
	m.log.Info("session retired by re-arm", zap.String("session_id", s.rec.SessionID))
}

func (m *Manager) persist(ctx context.Context, s *session) {
	rec := s.snapshot()
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := m.store.Update(pctx, &rec); err != nil {
		m.log.Error("persist session state",
			zap.String("session_id", rec.SessionID),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
	}
}

func (m *Manager) notifyTerminal(s *session, status domain.SessionStatus) {
	if m.onTerminal == nil {
		return
	}
	rec := s.snapshot()
	m.onTerminal(rec.SessionID, rec.TokenMint, status)
}

func validateArm(p *ArmParams) error {
	if err := solana.ValidateAddress(p.TokenMint); err != nil {
		return fmt.Errorf("%w: token mint: %v", domain.ErrConfigInvalid, err)
	}
	if p.Thresholds.MaxSupplyFraction <= 0 || p.Thresholds.MaxSupplyFraction >= 1 {
		return fmt.Errorf("%w: max_supply_fraction must be in (0,1)", domain.ErrConfigInvalid)
	}
	if p.Thresholds.MaxNativeAmount == 0 {
		return fmt.Errorf("%w: max_native_amount must be positive", domain.ErrConfigInvalid)
	}
	if p.WindowSlots <= 0 {
		return fmt.Errorf("%w: window_slots must be positive", domain.ErrConfigInvalid)
	}
	if p.LaunchSlot < 0 {
		return fmt.Errorf("%w: launch_slot must be non-negative", domain.ErrConfigInvalid)
	}
	if len(p.Targets) == 0 {
		return fmt.Errorf("%w: at least one sell target required", domain.ErrConfigInvalid)
	}
	for _, t := range p.Targets {
		if err := solana.ValidateAddress(t.Wallet); err != nil {
			return fmt.Errorf("%w: target wallet %s: %v", domain.ErrConfigInvalid, t.Wallet, err)
		}
		if t.SellFraction <= 0 || t.SellFraction > 1 {
			return fmt.Errorf("%w: sell_fraction must be in (0,1]", domain.ErrConfigInvalid)
		}
	}
	for _, w := range p.IgnoreSet {
		if err := solana.ValidateAddress(w); err != nil {
			return fmt.Errorf("%w: ignore wallet %s: %v", domain.ErrConfigInvalid, w, err)
		}
	}
	return nil
}
