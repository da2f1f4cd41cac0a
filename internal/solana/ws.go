package solana

import "context"

// WSConn is a single WebSocket session to a Solana PubSub endpoint. It does
// not reconnect; when the underlying connection fails, Done is closed and the
// owner decides whether to dial again.
type WSConn interface {
	// SubscribeLogs subscribes to logs mentioning the filter's addresses and
	// returns the server-assigned subscription ID plus the delivery channel.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (int64, <-chan LogNotification, error)

	// UnsubscribeLogs cancels a live subscription.
	UnsubscribeLogs(ctx context.Context, subID int64) error

	// Ping sends a ping frame. The peer's pong refreshes LastActivity.
	Ping() error

	// LastActivity reports when the connection last received any frame.
	LastActivity() int64

	// Done is closed once the connection is no longer usable.
	Done() <-chan struct{}

	// Err reports why the connection died, nil after a clean Close.
	Err() error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these addresses.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
