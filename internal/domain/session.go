package domain

import "time"

// SessionStatus is the externally visible state of a monitor session.
type SessionStatus string

const (
	StatusMonitoring SessionStatus = "monitoring"
	StatusTriggered  SessionStatus = "triggered"
	StatusExpired    SessionStatus = "expired"
	StatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further state transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusTriggered || s == StatusExpired || s == StatusCancelled
}

// Thresholds define what counts as a sniper-sized buy. Both comparisons are
// strictly greater-than; a buy exactly at a threshold does not trigger.
type Thresholds struct {
	// MaxSupplyFraction is the largest tolerated single-buy share of total
	// supply, in (0,1).
	MaxSupplyFraction float64

	// MaxNativeAmount is the largest tolerated single-buy cost in lamports.
	MaxNativeAmount uint64
}

// Window bounds a session's monitoring lifetime in slots and wall time.
type Window struct {
	LaunchSlot  int64
	WindowSlots int64
	StartedAt   time.Time
	ExpiresAt   time.Time
}

// SellTarget names one wallet to liquidate on trigger.
type SellTarget struct {
	Wallet string

	// SellFraction is the share of the wallet's balance to sell, in (0,1].
	SellFraction float64
}

// SessionRecord is the persisted mirror of a monitor session. It carries only
// what is needed to recover status and trigger state after a restart; live
// scheduling state (timers, subscriptions) is rebuilt, never stored.
type SessionRecord struct {
	SessionID   string
	TokenMint   string
	Thresholds  Thresholds
	Window      Window
	IgnoreSet   []string
	Targets     []SellTarget
	TotalSupply uint64
	Status      SessionStatus

	// TriggeredBy is the signature of the qualifying trade, set exactly once.
	TriggeredBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IgnoreContains reports whether wallet is excluded from triggering.
func (r *SessionRecord) IgnoreContains(wallet string) bool {
	for _, w := range r.IgnoreSet {
		if w == wallet {
			return true
		}
	}
	return false
}
