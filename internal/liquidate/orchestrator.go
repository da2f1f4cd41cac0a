package liquidate

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"launch-guard/internal/bundle"
	"launch-guard/internal/domain"
	"launch-guard/internal/observability"
	"launch-guard/internal/pricing"
	"launch-guard/internal/secrets"
	"launch-guard/internal/solana"
	"launch-guard/internal/storage"
)

const (
	// DefaultDustFloorLamports is the native worth below which a projected
	// remainder is not worth keeping: 0.005 SOL.
	DefaultDustFloorLamports = 5_000_000

	// DefaultSellRetries is the per-wallet retry budget on the sequential
	// fallback path.
	DefaultSellRetries = 2

	// interChunkDelay spaces consecutive bundle groups when a liquidation
	// spans more wallets than one bundle can carry.
	interChunkDelay = 200 * time.Millisecond
)

// Executor is the submission backend, satisfied by bundle.Executor.
type Executor interface {
	Execute(ctx context.Context, instrs []bundle.Instruction, opts bundle.Opts) (*bundle.ExecResult, error)
	DynamicTip(ctx context.Context) uint64
}

// Orchestrator turns a triggered session into per-wallet sell submissions
// and a persisted LiquidationOutcome.
type Orchestrator struct {
	rpc      solana.RPCClient
	pricing  pricing.Client
	secrets  secrets.Provider
	exec     Executor
	outcomes storage.OutcomeStore
	log      *zap.Logger

	dustFloor  uint64
	retries    int
	chunkDelay time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDustFloor sets the dust threshold in lamports.
func WithDustFloor(lamports uint64) Option {
	return func(o *Orchestrator) { o.dustFloor = lamports }
}

// WithSellRetries sets the per-wallet fallback retry budget.
func WithSellRetries(n int) Option {
	return func(o *Orchestrator) { o.retries = n }
}

// WithChunkDelay sets the delay between consecutive bundle groups.
func WithChunkDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.chunkDelay = d }
}

// NewOrchestrator creates a liquidation orchestrator.
func NewOrchestrator(
	log *zap.Logger,
	rpc solana.RPCClient,
	pricingClient pricing.Client,
	secretsProvider secrets.Provider,
	exec Executor,
	outcomes storage.OutcomeStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		rpc:        rpc,
		pricing:    pricingClient,
		secrets:    secretsProvider,
		exec:       exec,
		outcomes:   outcomes,
		log:        log.Named("liquidate"),
		dustFloor:  DefaultDustFloorLamports,
		retries:    DefaultSellRetries,
		chunkDelay: interChunkDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sellPlan is one wallet's prepared submission.
type sellPlan struct {
	target      int // index into rec.Targets
	amount      uint64
	estimate    uint64 // quoted native proceeds
	instruction bundle.Instruction
}

// Liquidate sells the session's targets. Every wallet is processed even when
// earlier ones fail; the outcome reports each independently.
func (o *Orchestrator) Liquidate(ctx context.Context, rec *domain.SessionRecord, trigger *domain.TradeEvent) (*domain.LiquidationOutcome, error) {
	start := time.Now().UTC()
	outcome := &domain.LiquidationOutcome{
		OutcomeID: uuid.NewString(),
		SessionID: rec.SessionID,
		TokenMint: rec.TokenMint,
		Trigger:   *trigger,
		Results:   make([]domain.ExecutionResult, len(rec.Targets)),
		StartedAt: start,
	}

	o.log.Warn("liquidation started",
		zap.String("session_id", rec.SessionID),
		zap.String("token_mint", rec.TokenMint),
		zap.String("trigger_signature", trigger.Signature),
		zap.Int("targets", len(rec.Targets)))

	tip := o.exec.DynamicTip(ctx)

	var plans []sellPlan
	for i, target := range rec.Targets {
		plan, result := o.prepare(ctx, rec.TokenMint, target, tip)
		if plan != nil {
			plan.target = i
			plans = append(plans, *plan)
			continue
		}
		outcome.Results[i] = *result
	}

	o.submitPlans(ctx, plans, outcome)

	outcome.Duration = time.Since(start)
	outcome.Finalize()
	for _, r := range outcome.Results {
		observability.RecordWalletLiquidation(r.Success)
	}
	observability.RecordLiquidationLatency(outcome.Duration.Seconds())

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.outcomes.Insert(pctx, outcome); err != nil {
		o.log.Error("persist liquidation outcome",
			zap.String("outcome_id", outcome.OutcomeID),
			zap.Error(err))
	}

	return outcome, nil
}

// prepare resolves a wallet's balance, sizes the sell with the dust rule and
// builds the submission closure. Exactly one of (plan, result) is non-nil.
func (o *Orchestrator) prepare(ctx context.Context, mint string, target domain.SellTarget, tip uint64) (*sellPlan, *domain.ExecutionResult) {
	balance, err := o.resolveBalance(ctx, target.Wallet, mint)
	if err != nil {
		return nil, &domain.ExecutionResult{
			Wallet: target.Wallet,
			Error:  fmt.Sprintf("balance lookup: %v", err),
		}
	}
	if balance == 0 {
		// Nothing to sell is a success with zero amounts, not an error.
		o.log.Info("nothing to sell",
			zap.String("wallet", target.Wallet),
			zap.String("token_mint", mint))
		return nil, &domain.ExecutionResult{Wallet: target.Wallet, Success: true}
	}

	amount := fractionalAmount(balance, target.SellFraction)
	quote, err := o.pricing.Quote(ctx, mint, solana.WSOLMint, amount)
	if err != nil {
		return nil, &domain.ExecutionResult{
			Wallet: target.Wallet,
			Error:  fmt.Sprintf("quote: %v", err),
		}
	}

	if full := applyDustRule(balance, amount, quote.ValueOf(balance-amount), o.dustFloor); full != amount {
		o.log.Info("dust remainder, selling full balance",
			zap.String("wallet", target.Wallet),
			zap.Uint64("fractional", amount),
			zap.Uint64("balance", balance))
		amount = full
		quote, err = o.pricing.Quote(ctx, mint, solana.WSOLMint, amount)
		if err != nil {
			return nil, &domain.ExecutionResult{
				Wallet: target.Wallet,
				Error:  fmt.Sprintf("re-quote full balance: %v", err),
			}
		}
	}

	signer, err := o.secrets.Signer(ctx, target.Wallet)
	if err != nil {
		return nil, &domain.ExecutionResult{
			Wallet: target.Wallet,
			Error:  fmt.Sprintf("signer: %v", err),
		}
	}

	wallet := target.Wallet
	return &sellPlan{
		amount:   amount,
		estimate: quote.OutAmount,
		instruction: bundle.Instruction{
			Wallet: wallet,
			Build: func(bctx context.Context) (*bundle.SignedTx, error) {
				return o.buildSigned(bctx, quote, wallet, signer, tip)
			},
		},
	}, nil
}

// buildSigned fetches a fresh unsigned sell transaction, pins it to a fresh
// blockhash and signs it. Called once per submission attempt.
func (o *Orchestrator) buildSigned(ctx context.Context, quote *pricing.Quote, wallet string, signer secrets.Signer, tip uint64) (*bundle.SignedTx, error) {
	txBase64, err := o.pricing.BuildSellTransaction(ctx, quote, wallet, tip)
	if err != nil {
		return nil, fmt.Errorf("build sell transaction: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, fmt.Errorf("decode sell transaction: %w", err)
	}
	tx, err := solanago.TransactionFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse sell transaction: %w", err)
	}

	bh, err := o.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}
	hash, err := solanago.HashFromBase58(bh.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("parse blockhash: %w", err)
	}
	tx.Message.RecentBlockhash = hash

	if err := signer.Sign(tx); err != nil {
		return nil, err
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("transaction for %s has no signature", wallet)
	}

	signed, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize signed transaction: %w", err)
	}
	return &bundle.SignedTx{
		Base64:    base64.StdEncoding.EncodeToString(signed),
		Signature: tx.Signatures[0].String(),
	}, nil
}

// submitPlans executes the prepared sells in bundle-sized groups and writes
// the per-wallet results into the outcome.
func (o *Orchestrator) submitPlans(ctx context.Context, plans []sellPlan, outcome *domain.LiquidationOutcome) {
	for offset := 0; offset < len(plans); offset += bundle.MaxBundleSize {
		if offset > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.chunkDelay):
			}
		}

		end := offset + bundle.MaxBundleSize
		if end > len(plans) {
			end = len(plans)
		}
		chunk := plans[offset:end]

		instrs := make([]bundle.Instruction, len(chunk))
		for i, p := range chunk {
			instrs[i] = p.instruction
		}

		res, err := o.exec.Execute(ctx, instrs, bundle.Opts{
			Retries:            o.retries,
			SequentialFallback: true,
		})
		if err != nil {
			for _, p := range chunk {
				outcome.Results[p.target] = domain.ExecutionResult{
					Wallet: p.instruction.Wallet,
					Error:  err.Error(),
				}
			}
			continue
		}

		for i, r := range res.Results {
			p := chunk[i]
			er := domain.ExecutionResult{
				Wallet:    r.Wallet,
				Success:   r.Success,
				Signature: r.Signature,
			}
			if r.Success {
				er.AssetSold = p.amount
				er.NativeReceived = p.estimate
			} else if r.Err != nil {
				er.Error = r.Err.Error()
			}
			outcome.Results[p.target] = er
		}
	}
}

// resolveBalance derives the wallet's associated token account under both
// custody program variants and returns the first balance found.
func (o *Orchestrator) resolveBalance(ctx context.Context, wallet, mint string) (uint64, error) {
	for _, program := range []string{solana.TokenProgramID, solana.Token2022ProgramID} {
		ata, err := solana.DeriveAssociatedTokenAccount(wallet, mint, program)
		if err != nil {
			return 0, fmt.Errorf("derive token account: %w", err)
		}
		amount, err := o.rpc.GetTokenAccountBalance(ctx, ata)
		if err != nil {
			return 0, fmt.Errorf("%w: token balance: %w", domain.ErrTransport, err)
		}
		if amount != nil {
			return amount.Amount, nil
		}
	}
	return 0, nil
}

// fractionalAmount sizes the sell; a fraction that floors to zero rounds up
// to the full balance, since anything smaller is below dust anyway.
func fractionalAmount(balance uint64, fraction float64) uint64 {
	amount := uint64(math.Floor(float64(balance) * fraction))
	if amount == 0 || amount > balance {
		return balance
	}
	return amount
}

// applyDustRule sells the entire balance when the projected remainder is
// worth less than the dust floor, so no economically meaningless remainder
// is left behind.
func applyDustRule(balance, sellAmount, remainderWorth, dustFloor uint64) uint64 {
	if sellAmount >= balance {
		return balance
	}
	if remainderWorth < dustFloor {
		return balance
	}
	return sellAmount
}
