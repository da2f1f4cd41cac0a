package domain

import "time"

// Direction classifies which side of a trade the attributed account was on.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// TradeEvent is a fully attributed trade derived from on-chain transaction
// detail. An event is only constructed once both the token delta and the
// native (lamport) delta have been pinned to a single account index; partial
// parses are discarded by the classifier rather than guessed at.
type TradeEvent struct {
	// Signature uniquely identifies the source transaction.
	Signature string

	// Slot orders the event on the chain's coarse clock.
	Slot int64

	// Trader is the wallet that gained (buy) or lost (sell) the token.
	Trader string

	Direction Direction

	// NativeAmount is the lamport delta magnitude at the trader's account index.
	NativeAmount uint64

	// AssetAmount is the raw token delta magnitude (no decimals applied).
	AssetAmount uint64

	// ObservedAt is when this process first saw the event, not block time.
	ObservedAt time.Time
}

// IsBuy reports whether the event is a purchase of the watched token.
func (e *TradeEvent) IsBuy() bool { return e.Direction == DirectionBuy }
