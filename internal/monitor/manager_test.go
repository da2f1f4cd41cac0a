package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"launch-guard/internal/domain"
	"launch-guard/internal/solana"
	"launch-guard/internal/storage"
	"launch-guard/internal/storage/memory"
)

type supplyRPC struct {
	solana.RPCClient
	supply uint64
	err    error
}

func (r *supplyRPC) GetTokenSupply(_ context.Context, _ string) (*solana.TokenAmount, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &solana.TokenAmount{Amount: r.supply, Decimals: 6}, nil
}

type fakeLiquidator struct {
	mu    sync.Mutex
	calls int
	last  *domain.TradeEvent
	done  chan struct{}
}

func newFakeLiquidator() *fakeLiquidator {
	return &fakeLiquidator{done: make(chan struct{}, 16)}
}

func (f *fakeLiquidator) Liquidate(_ context.Context, rec *domain.SessionRecord, e *domain.TradeEvent) (*domain.LiquidationOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.last = e
	f.mu.Unlock()
	f.done <- struct{}{}
	return &domain.LiquidationOutcome{
		SessionID:    rec.SessionID,
		TokenMint:    rec.TokenMint,
		Trigger:      *e,
		SuccessCount: 1,
	}, nil
}

func (f *fakeLiquidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLiquidator) waitForCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for liquidation")
	}
}

func newAddr() string {
	return solanago.NewWallet().PublicKey().String()
}

func newTestManager(t *testing.T, store storage.SessionStore, liq Liquidator, opts ...Option) *Manager {
	t.Helper()
	rpc := &supplyRPC{supply: 1_000_000_000_000}
	opts = append([]Option{WithSlotDuration(time.Millisecond)}, opts...)
	m := NewManager(zap.NewNop(), rpc, store, liq, opts...)
	t.Cleanup(m.Close)
	return m
}

func armParams(mint string) ArmParams {
	return ArmParams{
		TokenMint: mint,
		Thresholds: domain.Thresholds{
			MaxSupplyFraction: 0.02,
			MaxNativeAmount:   5_000_000_000,
		},
		LaunchSlot:  100,
		WindowSlots: MaxWindowSlots,
		Targets:     []domain.SellTarget{{Wallet: newAddr(), SellFraction: 1.0}},
	}
}

func buyEvent(trader string, native, asset uint64) *domain.TradeEvent {
	return &domain.TradeEvent{
		Signature:    "sig-" + trader[:8],
		Slot:         105,
		Trader:       trader,
		Direction:    domain.DirectionBuy,
		NativeAmount: native,
		AssetAmount:  asset,
		ObservedAt:   time.Now().UTC(),
	}
}

func TestManagerArmValidation(t *testing.T) {
	mint := newAddr()
	wallet := newAddr()

	cases := []struct {
		name   string
		mutate func(*ArmParams)
	}{
		{"bad mint", func(p *ArmParams) { p.TokenMint = "not-an-address" }},
		{"zero supply fraction", func(p *ArmParams) { p.Thresholds.MaxSupplyFraction = 0 }},
		{"supply fraction at one", func(p *ArmParams) { p.Thresholds.MaxSupplyFraction = 1 }},
		{"zero native threshold", func(p *ArmParams) { p.Thresholds.MaxNativeAmount = 0 }},
		{"zero window", func(p *ArmParams) { p.WindowSlots = 0 }},
		{"negative launch slot", func(p *ArmParams) { p.LaunchSlot = -1 }},
		{"no targets", func(p *ArmParams) { p.Targets = nil }},
		{"bad target wallet", func(p *ArmParams) { p.Targets = []domain.SellTarget{{Wallet: "nope", SellFraction: 1}} }},
		{"zero sell fraction", func(p *ArmParams) {
			p.Targets = []domain.SellTarget{{Wallet: wallet, SellFraction: 0}}
		}},
		{"sell fraction above one", func(p *ArmParams) {
			p.Targets = []domain.SellTarget{{Wallet: wallet, SellFraction: 1.5}}
		}},
		{"bad ignore wallet", func(p *ArmParams) { p.IgnoreSet = []string{"nope"} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, memory.NewSessionStore(), newFakeLiquidator())
			p := armParams(mint)
			tc.mutate(&p)
			_, err := m.Arm(context.Background(), p)
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestManagerArmWindowClamp(t *testing.T) {
	store := memory.NewSessionStore()
	m := newTestManager(t, store, newFakeLiquidator())
	mint := newAddr()

	p := armParams(mint)
	p.WindowSlots = 10_000
	res, err := m.Arm(context.Background(), p)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}

	rec, err := store.GetByID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.Window.WindowSlots != MaxWindowSlots {
		t.Fatalf("window slots = %d, want %d", rec.Window.WindowSlots, MaxWindowSlots)
	}
	want := rec.Window.StartedAt.Add(MaxWindowSlots * time.Millisecond)
	if !rec.Window.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", rec.Window.ExpiresAt, want)
	}
}

func TestManagerArmSupplyFetchError(t *testing.T) {
	rpc := &supplyRPC{err: errors.New("rpc down")}
	m := NewManager(zap.NewNop(), rpc, memory.NewSessionStore(), newFakeLiquidator())
	defer m.Close()

	_, err := m.Arm(context.Background(), armParams(newAddr()))
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestManagerTriggerExactlyOnce(t *testing.T) {
	liq := newFakeLiquidator()
	m := newTestManager(t, memory.NewSessionStore(), liq)
	mint := newAddr()

	if _, err := m.Arm(context.Background(), armParams(mint)); err != nil {
		t.Fatalf("arm: %v", err)
	}

	// Same qualifying event delivered concurrently from both the push and
	// poll paths: only one trigger may proceed to liquidation.
	sniper := newAddr()
	e := buyEvent(sniper, 6_000_000_000, 1_000_000)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Feed(context.Background(), mint, e)
		}()
	}
	wg.Wait()
	liq.waitForCall(t)

	// Give a duplicate worker dispatch a chance to surface before counting.
	time.Sleep(50 * time.Millisecond)
	if got := liq.callCount(); got != 1 {
		t.Fatalf("liquidate called %d times, want 1", got)
	}

	info, err := m.Status(context.Background(), mint)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info.Status != domain.StatusTriggered {
		t.Fatalf("status = %s, want triggered", info.Status)
	}
	if info.TriggeredBy != e.Signature {
		t.Fatalf("triggered_by = %s, want %s", info.TriggeredBy, e.Signature)
	}
}

func TestManagerSupplyFractionTrigger(t *testing.T) {
	liq := newFakeLiquidator()
	m := newTestManager(t, memory.NewSessionStore(), liq)
	mint := newAddr()

	if _, err := m.Arm(context.Background(), armParams(mint)); err != nil {
		t.Fatalf("arm: %v", err)
	}

	// Native amount below threshold, asset amount above 2% of the
	// 1e12 supply.
	m.Feed(context.Background(), mint, buyEvent(newAddr(), 1_000_000, 30_000_000_000))
	liq.waitForCall(t)
}

func TestManagerThresholdBoundaryDoesNotTrigger(t *testing.T) {
	liq := newFakeLiquidator()
	m := newTestManager(t, memory.NewSessionStore(), liq)
	mint := newAddr()

	if _, err := m.Arm(context.Background(), armParams(mint)); err != nil {
		t.Fatalf("arm: %v", err)
	}

	// Exactly at both thresholds: comparisons are strict.
	m.Feed(context.Background(), mint, buyEvent(newAddr(), 5_000_000_000, 20_000_000_000))

	time.Sleep(20 * time.Millisecond)
	if liq.callCount() != 0 {
		t.Fatal("boundary event must not trigger")
	}
	info, _ := m.Status(context.Background(), mint)
	if info.Status != domain.StatusMonitoring {
		t.Fatalf("status = %s, want monitoring", info.Status)
	}
}

func TestManagerIgnoreSetNeverTriggers(t *testing.T) {
	liq := newFakeLiquidator()
	m := newTestManager(t, memory.NewSessionStore(), liq)
	mint := newAddr()
	operator := newAddr()

	p := armParams(mint)
	p.IgnoreSet = []string{operator}
	if _, err := m.Arm(context.Background(), p); err != nil {
		t.Fatalf("arm: %v", err)
	}

	m.Feed(context.Background(), mint, buyEvent(operator, 50_000_000_000, 500_000_000_000))

	time.Sleep(20 * time.Millisecond)
	if liq.callCount() != 0 {
		t.Fatal("ignored wallet must never trigger")
	}
	info, _ := m.Status(context.Background(), mint)
	if info.Status != domain.StatusMonitoring {
		t.Fatalf("status = %s, want monitoring", info.Status)
	}
}

func TestManagerSellEventDiscarded(t *testing.T) {
	liq := newFakeLiquidator()
	m := newTestManager(t, memory.NewSessionStore(), liq)
	mint := newAddr()

	if _, err := m.Arm(context.Background(), armParams(mint)); err != nil {
		t.Fatalf("arm: %v", err)
	}

	e := buyEvent(newAddr(), 50_000_000_000, 500_000_000_000)
	e.Direction = domain.DirectionSell
	m.Feed(context.Background(), mint, e)

	time.Sleep(20 * time.Millisecond)
	if liq.callCount() != 0 {
		t.Fatal("sell event must not trigger")
	}
}

func TestManagerExpiryMonotonic(t *testing.T) {
	liq := newFakeLiquidator()
	store := memory.NewSessionStore()
	m := newTestManager(t, store, liq)
	mint := newAddr()

	p := armParams(mint)
	p.WindowSlots = 5 // 5ms at the test slot duration
	res, err := m.Arm(context.Background(), p)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := m.Status(context.Background(), mint)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if info.Status == domain.StatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never expired, status %s", info.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Once expired, no feed can move the session to triggered.
	m.Feed(context.Background(), mint, buyEvent(newAddr(), 50_000_000_000, 500_000_000_000))
	time.Sleep(20 * time.Millisecond)
	if liq.callCount() != 0 {
		t.Fatal("expired session must not trigger")
	}

	rec, err := store.GetByID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.Status != domain.StatusExpired {
		t.Fatalf("persisted status = %s, want expired", rec.Status)
	}
}

func TestManagerCancel(t *testing.T) {
	liq := newFakeLiquidator()
	store := memory.NewSessionStore()
	m := newTestManager(t, store, liq)
	mint := newAddr()

	res, err := m.Arm(context.Background(), armParams(mint))
	if err != nil {
		t.Fatalf("arm: %v", err)
	}

	if err := m.Cancel(context.Background(), mint); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	info, err := m.Status(context.Background(), mint)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", info.Status)
	}

	if err := m.Cancel(context.Background(), mint); !errors.Is(err, domain.ErrSessionTerminal) {
		t.Fatalf("second cancel = %v, want ErrSessionTerminal", err)
	}

	rec, err := store.GetByID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.Status != domain.StatusCancelled {
		t.Fatalf("persisted status = %s, want cancelled", rec.Status)
	}

	// Cancelled session cannot trigger.
	m.Feed(context.Background(), mint, buyEvent(newAddr(), 50_000_000_000, 500_000_000_000))
	time.Sleep(20 * time.Millisecond)
	if liq.callCount() != 0 {
		t.Fatal("cancelled session must not trigger")
	}
}

func TestManagerCancelAfterTrigger(t *testing.T) {
	liq := newFakeLiquidator()
	m := newTestManager(t, memory.NewSessionStore(), liq)
	mint := newAddr()

	if _, err := m.Arm(context.Background(), armParams(mint)); err != nil {
		t.Fatalf("arm: %v", err)
	}
	m.Feed(context.Background(), mint, buyEvent(newAddr(), 50_000_000_000, 500_000_000_000))
	liq.waitForCall(t)

	// The session exists but is terminal: the caller must be able to tell
	// this apart from an unknown token.
	if err := m.Cancel(context.Background(), mint); !errors.Is(err, domain.ErrSessionTerminal) {
		t.Fatalf("cancel after trigger = %v, want ErrSessionTerminal", err)
	}

	info, err := m.Status(context.Background(), mint)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info.Status != domain.StatusTriggered {
		t.Fatalf("status = %s, want triggered", info.Status)
	}
}

func TestManagerStatusUnknownToken(t *testing.T) {
	m := newTestManager(t, memory.NewSessionStore(), newFakeLiquidator())
	_, err := m.Status(context.Background(), newAddr())
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerRearmRetiresOldSession(t *testing.T) {
	store := memory.NewSessionStore()
	m := newTestManager(t, store, newFakeLiquidator())
	mint := newAddr()

	first, err := m.Arm(context.Background(), armParams(mint))
	if err != nil {
		t.Fatalf("first arm: %v", err)
	}
	second, err := m.Arm(context.Background(), armParams(mint))
	if err != nil {
		t.Fatalf("second arm: %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Fatal("re-arm must create a new session")
	}

	info, err := m.Status(context.Background(), mint)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info.SessionID != second.SessionID || info.Status != domain.StatusMonitoring {
		t.Fatalf("live session = %s (%s), want %s monitoring", info.SessionID, info.Status, second.SessionID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		old, err := store.GetByID(context.Background(), first.SessionID)
		if err != nil {
			t.Fatalf("get old session: %v", err)
		}
		if old.Status == domain.StatusCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("old session status = %s, want cancelled", old.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerRecover(t *testing.T) {
	store := memory.NewSessionStore()
	ctx := context.Background()
	now := time.Now().UTC()
	mintLive := newAddr()
	mintStale := newAddr()

	live := &domain.SessionRecord{
		SessionID:  "sess-live",
		TokenMint:  mintLive,
		Thresholds: domain.Thresholds{MaxSupplyFraction: 0.02, MaxNativeAmount: 5_000_000_000},
		Window: domain.Window{
			LaunchSlot: 100, WindowSlots: 150,
			StartedAt: now, ExpiresAt: now.Add(time.Minute),
		},
		Targets:     []domain.SellTarget{{Wallet: newAddr(), SellFraction: 1}},
		TotalSupply: 1_000_000_000_000,
		Status:      domain.StatusMonitoring,
		CreatedAt:   now, UpdatedAt: now,
	}
	stale := &domain.SessionRecord{
		SessionID:  "sess-stale",
		TokenMint:  mintStale,
		Thresholds: live.Thresholds,
		Window: domain.Window{
			LaunchSlot: 50, WindowSlots: 150,
			StartedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Hour + time.Minute),
		},
		Targets:     live.Targets,
		TotalSupply: 1_000_000_000_000,
		Status:      domain.StatusMonitoring,
		CreatedAt:   now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}
	if err := store.Insert(ctx, live); err != nil {
		t.Fatalf("insert live: %v", err)
	}
	if err := store.Insert(ctx, stale); err != nil {
		t.Fatalf("insert stale: %v", err)
	}

	liq := newFakeLiquidator()
	m := newTestManager(t, store, liq)
	if err := m.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	info, err := m.Status(ctx, mintLive)
	if err != nil {
		t.Fatalf("status live: %v", err)
	}
	if info.Status != domain.StatusMonitoring {
		t.Fatalf("live status = %s, want monitoring", info.Status)
	}
	if info.RemainingMS <= 0 {
		t.Fatal("recovered session must report remaining time")
	}

	got, err := store.GetByID(ctx, "sess-stale")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("stale status = %s, want expired", got.Status)
	}

	mints := m.ActiveMints()
	if len(mints) != 1 || mints[0] != mintLive {
		t.Fatalf("active mints = %v, want [%s]", mints, mintLive)
	}

	// Recovered session still triggers.
	m.Feed(ctx, mintLive, buyEvent(newAddr(), 50_000_000_000, 500_000_000_000))
	liq.waitForCall(t)
}
