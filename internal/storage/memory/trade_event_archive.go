package memory

import (
	"context"
	"sort"
	"sync"

	"launch-guard/internal/domain"
	"launch-guard/internal/storage"
)

// TradeEventArchive is an in-memory implementation of storage.TradeEventArchive.
type TradeEventArchive struct {
	mu   sync.RWMutex
	data map[string][]domain.TradeEvent // keyed by session_id
}

// NewTradeEventArchive creates a new in-memory trade event archive.
func NewTradeEventArchive() *TradeEventArchive {
	return &TradeEventArchive{
		data: make(map[string][]domain.TradeEvent),
	}
}

// Insert appends one classified event tagged with its session.
func (s *TradeEventArchive) Insert(_ context.Context, sessionID string, e *domain.TradeEvent) error {
	if sessionID == "" || e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sessionID] = append(s.data[sessionID], *e)
	return nil
}

// InsertBulk appends multiple events.
func (s *TradeEventArchive) InsertBulk(ctx context.Context, sessionID string, events []*domain.TradeEvent) error {
	for _, e := range events {
		if err := s.Insert(ctx, sessionID, e); err != nil {
			return err
		}
	}
	return nil
}

// GetBySessionID retrieves archived events for a session, slot ASC.
func (s *TradeEventArchive) GetBySessionID(_ context.Context, sessionID string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.data[sessionID]
	result := make([]*domain.TradeEvent, len(events))
	for i := range events {
		cp := events[i]
		result[i] = &cp
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Slot < result[j].Slot
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.TradeEventArchive = (*TradeEventArchive)(nil)
