package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConnConfig configures a single WebSocket session.
type WSConnConfig struct {
	// HandshakeTimeout bounds the initial dial.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds waiting for a subscription confirmation.
	SubscribeTimeout time.Duration
	// NotifyBuffer is the per-subscription channel depth.
	NotifyBuffer int
}

// DefaultWSConnConfig returns default WebSocket session configuration.
func DefaultWSConnConfig() WSConnConfig {
	return WSConnConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		SubscribeTimeout: 15 * time.Second,
		NotifyBuffer:     1024,
	}
}

// wsConn implements WSConn over gorilla/websocket. One reader goroutine
// dispatches confirmations and notifications; all writes hold writeMu.
type wsConn struct {
	conn   *websocket.Conn
	config WSConnConfig

	writeMu   sync.Mutex
	requestID atomic.Uint64

	// pending maps request ID to a channel awaiting the call result.
	pending   map[uint64]chan wsCallResult
	pendingMu sync.Mutex

	// subs maps subscription ID to its delivery channel.
	subs   map[int64]chan LogNotification
	subsMu sync.Mutex

	lastActivity atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

var _ WSConn = (*wsConn)(nil)

// DialWS opens a WebSocket session to a Solana PubSub endpoint.
func DialWS(ctx context.Context, endpoint string, config *WSConnConfig) (WSConn, error) {
	cfg := DefaultWSConnConfig()
	if config != nil {
		cfg = *config
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &wsConn{
		conn:    conn,
		config:  cfg,
		pending: make(map[uint64]chan wsCallResult),
		subs:    make(map[int64]chan LogNotification),
		done:    make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().UnixNano())

	conn.SetPongHandler(func(string) error {
		c.lastActivity.Store(time.Now().UnixNano())
		return nil
	})

	go c.readLoop()

	return c, nil
}

type wsCallResult struct {
	result json.RawMessage
	err    error
}

// SubscribeLogs subscribes to logs mentioning the filter's addresses.
func (c *wsConn) SubscribeLogs(ctx context.Context, filter LogsFilter) (int64, <-chan LogNotification, error) {
	mentionsFilter := make(map[string]interface{})
	if len(filter.Mentions) > 0 {
		mentionsFilter["mentions"] = filter.Mentions
	} else {
		mentionsFilter["all"] = nil
	}

	raw, err := c.call(ctx, "logsSubscribe", []interface{}{
		mentionsFilter,
		map[string]string{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, nil, err
	}

	var subID int64
	if err := json.Unmarshal(raw, &subID); err != nil {
		return 0, nil, fmt.Errorf("parse subscription id: %w", err)
	}

	ch := make(chan LogNotification, c.config.NotifyBuffer)
	c.subsMu.Lock()
	c.subs[subID] = ch
	c.subsMu.Unlock()

	return subID, ch, nil
}

// UnsubscribeLogs cancels a live subscription.
func (c *wsConn) UnsubscribeLogs(ctx context.Context, subID int64) error {
	c.subsMu.Lock()
	if ch, ok := c.subs[subID]; ok {
		delete(c.subs, subID)
		close(ch)
	}
	c.subsMu.Unlock()

	_, err := c.call(ctx, "logsUnsubscribe", []interface{}{subID})
	return err
}

// call issues one request/response round trip over the socket.
func (c *wsConn) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, fmt.Errorf("connection closed: %w", c.Err())
	default:
	}

	reqID := c.requestID.Add(1)
	confirmCh := make(chan wsCallResult, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = confirmCh
	c.pendingMu.Unlock()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()

	if err != nil {
		c.dropPending(reqID)
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case res := <-confirmCh:
		return res.result, res.err
	case <-time.After(c.config.SubscribeTimeout):
		c.dropPending(reqID)
		return nil, fmt.Errorf("%s: confirmation timeout", method)
	case <-c.done:
		return nil, fmt.Errorf("connection closed: %w", c.Err())
	case <-ctx.Done():
		c.dropPending(reqID)
		return nil, ctx.Err()
	}
}

func (c *wsConn) dropPending(reqID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// Ping sends a ping frame.
func (c *wsConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// LastActivity reports the UnixNano instant of the last received frame.
func (c *wsConn) LastActivity() int64 {
	return c.lastActivity.Load()
}

// Done is closed once the connection is no longer usable.
func (c *wsConn) Done() <-chan struct{} { return c.done }

// Err reports why the connection died.
func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close tears the connection down.
func (c *wsConn) Close() error {
	c.shutdown(nil)
	return nil
}

// shutdown records the terminal error and releases all waiters, once.
func (c *wsConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.writeMu.Unlock()

		close(c.done)

		c.subsMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subsMu.Unlock()

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			ch <- wsCallResult{err: fmt.Errorf("connection closed")}
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
}

// readLoop reads frames and dispatches until the connection dies.
func (c *wsConn) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally; keep the nil error from Close.
				return
			default:
			}
			c.shutdown(fmt.Errorf("websocket read: %w", err))
			return
		}

		c.lastActivity.Store(time.Now().UnixNano())
		c.handleMessage(message)
	}
}

// handleMessage routes one frame to either a pending call or a subscription.
func (c *wsConn) handleMessage(message []byte) {
	var envelope struct {
		ID     uint64                `json:"id"`
		Method string                `json:"method"`
		Result json.RawMessage       `json:"result"`
		Error  *rpcError             `json:"error"`
		Params *wsNotificationParams `json:"params"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		return
	}

	if envelope.Method == "logsNotification" && envelope.Params != nil {
		c.dispatchNotification(envelope.Params)
		return
	}

	if envelope.ID == 0 {
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[envelope.ID]
	if ok {
		delete(c.pending, envelope.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return
	}

	if envelope.Error != nil {
		ch <- wsCallResult{err: envelope.Error}
		return
	}
	ch <- wsCallResult{result: envelope.Result}
}

// dispatchNotification forwards one logs notification to its subscriber.
// Delivery is non-blocking: a subscriber that cannot keep up loses the
// oldest pending frame, and the poller path covers the gap.
func (c *wsConn) dispatchNotification(params *wsNotificationParams) {
	notif := LogNotification{
		Signature: params.Result.Value.Signature,
		Logs:      params.Result.Value.Logs,
		Err:       params.Result.Value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	// Held across the send so Unsubscribe cannot close the channel mid-dispatch.
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	ch, ok := c.subs[params.Subscription]
	if !ok {
		return
	}

	select {
	case ch <- notif:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- notif:
		default:
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
