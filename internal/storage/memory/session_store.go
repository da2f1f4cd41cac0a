package memory

import (
	"context"
	"sort"
	"sync"

	"launch-guard/internal/domain"
	"launch-guard/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SessionRecord // keyed by session_id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*domain.SessionRecord),
	}
}

// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
func (s *SessionStore) Insert(_ context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.SessionID == "" || rec.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.SessionID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	s.data[rec.SessionID] = copySession(rec)
	return nil
}

// Update overwrites a session. Returns ErrNotFound if session_id does not exist.
func (s *SessionStore) Update(_ context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.SessionID]; !exists {
		return storage.ErrNotFound
	}

	s.data[rec.SessionID] = copySession(rec)
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(_ context.Context, sessionID string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[sessionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copySession(rec), nil
}

// GetActiveByMint retrieves the non-terminal session for a mint.
func (s *SessionStore) GetActiveByMint(_ context.Context, mint string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.data {
		if rec.TokenMint == mint && !rec.Status.Terminal() {
			return copySession(rec), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListActive retrieves all non-terminal sessions, created_at ASC.
func (s *SessionStore) ListActive(_ context.Context) ([]*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SessionRecord
	for _, rec := range s.data {
		if !rec.Status.Terminal() {
			result = append(result, copySession(rec))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// copySession deep-copies a record, slices included.
func copySession(rec *domain.SessionRecord) *domain.SessionRecord {
	cp := *rec
	if rec.IgnoreSet != nil {
		cp.IgnoreSet = append([]string(nil), rec.IgnoreSet...)
	}
	if rec.Targets != nil {
		cp.Targets = append([]domain.SellTarget(nil), rec.Targets...)
	}
	return &cp
}

// Verify interface compliance at compile time.
var _ storage.SessionStore = (*SessionStore)(nil)
