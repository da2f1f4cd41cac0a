package feed

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Subscriber owns one Handle per topic. Topics are arbitrary keys; in
// practice the monitored token mint, with the subscription mentioning both
// the mint and the launchpad program.
type Subscriber struct {
	cfg  Config
	dial DialFunc
	log  *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithDialer overrides the WebSocket dialer, used by tests.
func WithDialer(dial DialFunc) SubscriberOption {
	return func(s *Subscriber) { s.dial = dial }
}

// NewSubscriber creates a Subscriber with the given reconnect tuning.
func NewSubscriber(cfg Config, log *zap.Logger, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		cfg:     cfg,
		dial:    defaultDial,
		log:     log.Named("feed"),
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts a subscription for topic mentioning the given addresses.
// One handle per topic: opening an already-open topic is an error.
func (s *Subscriber) Open(topic string, mentions []string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.handles[topic]; ok && existing.State() != StateClosed {
		return nil, fmt.Errorf("topic %s already subscribed", topic)
	}

	h := newHandle(topic, mentions, s.cfg, s.dial, s.log)
	s.handles[topic] = h
	return h, nil
}

// Get returns the live handle for topic, if any.
func (s *Subscriber) Get(topic string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[topic]
	return h, ok
}

// Close tears down the handle for topic. Unknown topics are a no-op.
func (s *Subscriber) Close(ctx context.Context, topic string) error {
	s.mu.Lock()
	h, ok := s.handles[topic]
	if ok {
		delete(s.handles, topic)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Close(ctx)
}

// CloseAll tears down every handle, collecting the first error.
func (s *Subscriber) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for topic, h := range s.handles {
		handles = append(handles, h)
		delete(s.handles, topic)
	}
	s.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := h.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
