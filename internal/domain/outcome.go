package domain

import "time"

// ExecutionResult records one wallet's part of a defensive liquidation.
// A wallet with nothing to sell is a success with zero amounts, not an error.
type ExecutionResult struct {
	Wallet         string
	Success        bool
	Signature      string
	AssetSold      uint64
	NativeReceived uint64
	Error          string
}

// LiquidationOutcome aggregates the per-wallet results of one trigger.
// It is appended to the audit store and never mutated afterwards.
type LiquidationOutcome struct {
	OutcomeID string
	SessionID string
	TokenMint string

	// Trigger is the trade that tripped the session thresholds.
	Trigger TradeEvent

	Results []ExecutionResult

	SuccessCount        int
	TotalAssetSold      uint64
	TotalNativeReceived uint64

	StartedAt time.Time
	Duration  time.Duration
}

// Success reports whether at least one wallet's sell landed.
func (o *LiquidationOutcome) Success() bool { return o.SuccessCount > 0 }

// Finalize recomputes the aggregate fields from the per-wallet results.
func (o *LiquidationOutcome) Finalize() {
	o.SuccessCount = 0
	o.TotalAssetSold = 0
	o.TotalNativeReceived = 0
	for _, r := range o.Results {
		if !r.Success {
			continue
		}
		o.SuccessCount++
		o.TotalAssetSold += r.AssetSold
		o.TotalNativeReceived += r.NativeReceived
	}
}
