package classify

import "strings"

// LaunchpadProgramID is the bonding-curve launchpad whose trades are watched.
const LaunchpadProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Log markers emitted by the launchpad program for its trade instructions.
const (
	buyLogMarker  = "Instruction: Buy"
	sellLogMarker = "Instruction: Sell"
)

// MatchesTradeLogs reports whether the log lines look like a launchpad trade.
// It is only a cheap gate in front of the detail fetch: a match proves
// nothing, and the balance-delta classification decides what actually
// happened. Notifications without logs (the polling path) always pass,
// since absence of logs is absence of information.
func MatchesTradeLogs(logs []string) bool {
	if len(logs) == 0 {
		return true
	}
	for _, line := range logs {
		if strings.Contains(line, buyLogMarker) || strings.Contains(line, sellLogMarker) {
			return true
		}
	}
	return false
}
