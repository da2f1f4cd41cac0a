package bundle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"launch-guard/internal/domain"
	"launch-guard/internal/observability"
	"launch-guard/internal/solana"
)

const (
	// MaxBundleSize is the relay's atomic group limit. Chunking larger
	// liquidations into multiple groups is the caller's job.
	MaxBundleSize = 5

	// DefaultBaseTip is the floor relay tip in lamports.
	DefaultBaseTip = 200_000

	DefaultAttemptTimeout  = 8 * time.Second
	DefaultConfirmInterval = 500 * time.Millisecond
)

// SignedTx is one freshly built and signed transaction ready for submission.
type SignedTx struct {
	Base64    string
	Signature string
}

// BuildFunc constructs and signs a fresh transaction. It is invoked once per
// submission attempt so a retry always carries a fresh blockhash instead of
// resubmitting a stale payload.
type BuildFunc func(ctx context.Context) (*SignedTx, error)

// Instruction is one wallet's pending submission.
type Instruction struct {
	Wallet string
	Build  BuildFunc
}

// Opts control one Execute call.
type Opts struct {
	// Retries is the per-transaction retry budget on the sequential
	// fallback path, in addition to the first attempt.
	Retries int

	// SequentialFallback enables independent per-transaction submission
	// when the atomic group fails. It only gates the fall-back from a
	// failed atomic attempt; an executor without a relay always submits
	// sequentially.
	SequentialFallback bool
}

// Result is one instruction's outcome.
type Result struct {
	Wallet    string
	Success   bool
	Signature string
	Err       error
}

// ExecResult aggregates one Execute call. Success means every instruction
// landed; partial outcomes are reported per instruction, never as an error.
type ExecResult struct {
	Success bool
	Atomic  bool
	Results []Result
}

// Relay submits atomic transaction groups.
type Relay interface {
	// SubmitBundle submits base64 transactions for all-or-nothing
	// inclusion and returns the relay's bundle identifier.
	SubmitBundle(ctx context.Context, txs []string) (string, error)
}

// Executor submits signed sell transactions, atomically when the relay
// cooperates and independently per wallet when it does not.
type Executor struct {
	rpc   solana.RPCClient
	relay Relay
	log   *zap.Logger

	baseTip         uint64
	attemptTimeout  time.Duration
	confirmInterval time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBaseTip sets the floor relay tip in lamports.
func WithBaseTip(lamports uint64) ExecutorOption {
	return func(e *Executor) { e.baseTip = lamports }
}

// WithAttemptTimeout bounds each submission attempt.
func WithAttemptTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.attemptTimeout = d }
}

// WithConfirmInterval sets the confirmation polling interval.
func WithConfirmInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.confirmInterval = d }
}

// NewExecutor creates an executor. A nil relay skips the atomic path and goes
// straight to sequential submission.
func NewExecutor(log *zap.Logger, rpc solana.RPCClient, relay Relay, opts ...ExecutorOption) *Executor {
	e := &Executor{
		rpc:             rpc,
		relay:           relay,
		log:             log.Named("bundle"),
		baseTip:         DefaultBaseTip,
		attemptTimeout:  DefaultAttemptTimeout,
		confirmInterval: DefaultConfirmInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DynamicTip derives the relay tip from recent prioritization fees: 1.5x the
// average positive fee, clamped to [baseTip, 5*baseTip].
func (e *Executor) DynamicTip(ctx context.Context) uint64 {
	fees, err := e.rpc.GetRecentPrioritizationFees(ctx)
	if err != nil || len(fees) == 0 {
		return e.baseTip
	}

	var total uint64
	var count int
	for _, f := range fees {
		if f.PrioritizationFee > 0 {
			total += f.PrioritizationFee
			count++
		}
	}
	if count == 0 {
		return e.baseTip
	}

	tip := uint64(float64(total/uint64(count)) * 1.5)
	if tip < e.baseTip {
		return e.baseTip
	}
	if tip > e.baseTip*5 {
		return e.baseTip * 5
	}
	return tip
}

// Execute submits a group of at most MaxBundleSize instructions.
func (e *Executor) Execute(ctx context.Context, instrs []Instruction, opts Opts) (*ExecResult, error) {
	if len(instrs) == 0 {
		return &ExecResult{Success: true}, nil
	}
	if len(instrs) > MaxBundleSize {
		return nil, fmt.Errorf("%w: group of %d exceeds bundle limit %d", domain.ErrConfigInvalid, len(instrs), MaxBundleSize)
	}

	start := time.Now()
	defer func() {
		observability.RecordSubmissionLatency(time.Since(start).Seconds())
	}()

	// Without a relay the sequential path is the only submission path.
	if e.relay == nil {
		return e.executeSequential(ctx, instrs, opts.Retries), nil
	}

	if res := e.executeAtomic(ctx, instrs); res != nil {
		return res, nil
	}

	if !opts.SequentialFallback {
		results := make([]Result, len(instrs))
		for i, in := range instrs {
			results[i] = Result{Wallet: in.Wallet, Err: domain.ErrSubmissionFailed}
		}
		return &ExecResult{Results: results}, nil
	}

	return e.executeSequential(ctx, instrs, opts.Retries), nil
}

// executeAtomic attempts one all-or-nothing relay submission. Returns nil
// when the attempt failed and the caller should fall back.
func (e *Executor) executeAtomic(ctx context.Context, instrs []Instruction) *ExecResult {
	actx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	txs := make([]string, len(instrs))
	sigs := make([]string, len(instrs))
	for i, in := range instrs {
		signed, err := in.Build(actx)
		if err != nil {
			e.log.Warn("bundle build failed", zap.String("wallet", in.Wallet), zap.Error(err))
			observability.RecordBundleSubmission("build_failed")
			return nil
		}
		sim, err := e.rpc.SimulateTransaction(actx, signed.Base64)
		if err != nil || sim.Failed() {
			e.log.Warn("bundle simulation failed",
				zap.String("wallet", in.Wallet),
				zap.Any("sim_err", simError(sim, err)))
			observability.RecordBundleSubmission("sim_failed")
			return nil
		}
		txs[i] = signed.Base64
		sigs[i] = signed.Signature
	}

	bundleID, err := e.relay.SubmitBundle(actx, txs)
	if err != nil {
		e.log.Warn("bundle submission failed", zap.Error(err))
		observability.RecordBundleSubmission("rejected")
		return nil
	}

	if err := e.awaitConfirmation(actx, sigs); err != nil {
		e.log.Warn("bundle not confirmed",
			zap.String("bundle_id", bundleID),
			zap.Error(err))
		observability.RecordBundleSubmission("unconfirmed")
		return nil
	}

	observability.RecordBundleSubmission("landed")
	e.log.Info("bundle landed",
		zap.String("bundle_id", bundleID),
		zap.Int("transactions", len(txs)))

	results := make([]Result, len(instrs))
	for i, in := range instrs {
		results[i] = Result{Wallet: in.Wallet, Success: true, Signature: sigs[i]}
	}
	return &ExecResult{Success: true, Atomic: true, Results: results}
}

// executeSequential submits each instruction independently. One wallet's
// failure never blocks another's attempt.
func (e *Executor) executeSequential(ctx context.Context, instrs []Instruction, retries int) *ExecResult {
	results := make([]Result, len(instrs))
	allOK := true
	for i, in := range instrs {
		results[i] = e.submitWithRetry(ctx, in, retries)
		if results[i].Success {
			observability.RecordFallbackSell("landed")
		} else {
			observability.RecordFallbackSell("failed")
			allOK = false
		}
	}
	return &ExecResult{Success: allOK, Results: results}
}

func (e *Executor) submitWithRetry(ctx context.Context, in Instruction, retries int) Result {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		sig, err := e.submitOnce(ctx, in)
		if err == nil {
			return Result{Wallet: in.Wallet, Success: true, Signature: sig}
		}
		lastErr = err
		e.log.Warn("sequential attempt failed",
			zap.String("wallet", in.Wallet),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return Result{
		Wallet: in.Wallet,
		Err:    fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, lastErr),
	}
}

func (e *Executor) submitOnce(ctx context.Context, in Instruction) (string, error) {
	actx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	signed, err := in.Build(actx)
	if err != nil {
		return "", fmt.Errorf("build: %w", err)
	}

	sim, err := e.rpc.SimulateTransaction(actx, signed.Base64)
	if err != nil {
		return "", fmt.Errorf("simulate: %w", err)
	}
	if sim.Failed() {
		return "", fmt.Errorf("simulation error: %v", sim.Err)
	}

	sig, err := e.rpc.SendTransaction(actx, signed.Base64)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	if err := e.awaitConfirmation(actx, []string{sig}); err != nil {
		return "", fmt.Errorf("confirm %s: %w", sig, err)
	}
	return sig, nil
}

// awaitConfirmation polls signature statuses until every signature reaches
// confirmed commitment or the attempt context expires.
func (e *Executor) awaitConfirmation(ctx context.Context, sigs []string) error {
	ticker := time.NewTicker(e.confirmInterval)
	defer ticker.Stop()

	for {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, sigs)
		if err == nil {
			if err := statusesError(statuses); err != nil {
				return err
			}
			if allConfirmed(statuses, len(sigs)) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func allConfirmed(statuses []*solana.SignatureStatus, want int) bool {
	if len(statuses) != want {
		return false
	}
	for _, s := range statuses {
		if !s.Confirmed() {
			return false
		}
	}
	return true
}

// statusesError surfaces an on-chain execution error early; waiting longer
// cannot turn a failed transaction into a confirmed one.
func statusesError(statuses []*solana.SignatureStatus) error {
	for _, s := range statuses {
		if s != nil && s.Err != nil {
			return fmt.Errorf("transaction failed on chain: %v", s.Err)
		}
	}
	return nil
}

func simError(sim *solana.SimulationResult, err error) any {
	if err != nil {
		return err.Error()
	}
	if sim != nil {
		return sim.Err
	}
	return nil
}
