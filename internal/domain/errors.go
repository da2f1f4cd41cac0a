package domain

import "errors"

// Error taxonomy for the engine. Transport and submission failures are
// handled locally with retry/backoff and only surface once terminal;
// ambiguity is discarded without retry because re-fetching immutable
// transaction detail cannot resolve it.
var (
	// ErrTransport covers feed connect/send failures.
	ErrTransport = errors.New("transport failure")

	// ErrAmbiguous marks a transaction whose trade could not be attributed
	// to a single account with confidence.
	ErrAmbiguous = errors.New("classification ambiguous")

	// ErrInsufficientBalance marks a liquidation target with nothing to sell.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSubmissionFailed marks an execution attempt that exhausted retries.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrConfigInvalid marks malformed caller-supplied thresholds or window.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrSessionNotFound marks a status/cancel call for an unknown token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal marks a cancel call for a session that already
	// triggered, expired or was cancelled.
	ErrSessionTerminal = errors.New("session already terminal")
)

// ErrorCode maps an engine error to the stable code exposed on the control
// surface. Unrecognized errors map to "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrConfigInvalid):
		return "config_invalid"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrSessionTerminal):
		return "already_terminal"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrSubmissionFailed):
		return "submission_failed"
	default:
		return "internal"
	}
}
