package memory

import (
	"context"
	"sort"
	"sync"

	"launch-guard/internal/domain"
	"launch-guard/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LiquidationOutcome // keyed by outcome_id
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		data: make(map[string]*domain.LiquidationOutcome),
	}
}

// Insert appends an outcome. Returns ErrDuplicateKey if outcome_id exists.
func (s *OutcomeStore) Insert(_ context.Context, o *domain.LiquidationOutcome) error {
	if o == nil || o.OutcomeID == "" || o.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.OutcomeID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[o.OutcomeID] = copyOutcome(o)
	return nil
}

// GetBySessionID retrieves all outcomes for a session, started_at ASC.
func (s *OutcomeStore) GetBySessionID(_ context.Context, sessionID string) ([]*domain.LiquidationOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LiquidationOutcome
	for _, o := range s.data {
		if o.SessionID == sessionID {
			result = append(result, copyOutcome(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})

	return result, nil
}

func copyOutcome(o *domain.LiquidationOutcome) *domain.LiquidationOutcome {
	cp := *o
	if o.Results != nil {
		cp.Results = append([]domain.ExecutionResult(nil), o.Results...)
	}
	return &cp
}

// Verify interface compliance at compile time.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)
