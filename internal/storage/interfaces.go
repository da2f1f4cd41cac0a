package storage

import (
	"context"

	"launch-guard/internal/domain"
)

// SessionStore mirrors monitor session state so sessions survive a restart.
// Live scheduling state (timers, subscriptions) is never persisted; the
// mirror carries exactly what recovery needs.
type SessionStore interface {
	// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
	Insert(ctx context.Context, s *domain.SessionRecord) error

	// Update overwrites a session's mutable fields (status, trigger,
	// updated_at). Returns ErrNotFound if session_id does not exist.
	Update(ctx context.Context, s *domain.SessionRecord) error

	// GetByID retrieves a session by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// GetActiveByMint retrieves the non-terminal session for a mint, if any.
	// Returns ErrNotFound when no live session exists.
	GetActiveByMint(ctx context.Context, mint string) (*domain.SessionRecord, error)

	// ListActive retrieves all non-terminal sessions, for startup recovery.
	ListActive(ctx context.Context) ([]*domain.SessionRecord, error)
}

// OutcomeStore is the append-only audit log of liquidation outcomes.
type OutcomeStore interface {
	// Insert appends an outcome. Returns ErrDuplicateKey if outcome_id exists.
	Insert(ctx context.Context, o *domain.LiquidationOutcome) error

	// GetBySessionID retrieves all outcomes recorded for a session.
	GetBySessionID(ctx context.Context, sessionID string) ([]*domain.LiquidationOutcome, error)
}

// TradeEventArchive is the append-only forensic record of every classified
// trade, queryable per session for post-incident analysis.
type TradeEventArchive interface {
	// Insert appends one classified event tagged with its session.
	Insert(ctx context.Context, sessionID string, e *domain.TradeEvent) error

	// InsertBulk appends multiple events in one round trip.
	InsertBulk(ctx context.Context, sessionID string, events []*domain.TradeEvent) error

	// GetBySessionID retrieves archived events for a session, slot ascending.
	GetBySessionID(ctx context.Context, sessionID string) ([]*domain.TradeEvent, error)
}
