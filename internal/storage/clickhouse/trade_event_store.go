package clickhouse

import (
	"context"
	"fmt"

	"launch-guard/internal/domain"
	"launch-guard/internal/storage"
)

// TradeEventStore implements storage.TradeEventArchive using ClickHouse.
// MergeTree does not enforce uniqueness, which suits an append-only forensic
// log: duplicates from replay overlap are deduplicated at read time instead.
type TradeEventStore struct {
	conn *Conn
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(conn *Conn) *TradeEventStore {
	return &TradeEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeEventArchive = (*TradeEventStore)(nil)

// Insert appends one classified event tagged with its session.
func (s *TradeEventStore) Insert(ctx context.Context, sessionID string, e *domain.TradeEvent) error {
	return s.InsertBulk(ctx, sessionID, []*domain.TradeEvent{e})
}

// InsertBulk appends multiple events in one batch.
func (s *TradeEventStore) InsertBulk(ctx context.Context, sessionID string, events []*domain.TradeEvent) error {
	if sessionID == "" {
		return storage.ErrInvalidInput
	}
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.Signature == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events (
			session_id, signature, slot, trader, direction,
			native_amount, asset_amount, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			sessionID, e.Signature, e.Slot, e.Trader, string(e.Direction),
			e.NativeAmount, e.AssetAmount, e.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySessionID retrieves archived events for a session, slot ASC. Rows with
// the same signature are collapsed to one.
func (s *TradeEventStore) GetBySessionID(ctx context.Context, sessionID string) ([]*domain.TradeEvent, error) {
	query := `
		SELECT signature, any(slot), any(trader), any(direction),
		       any(native_amount), any(asset_amount), any(observed_at)
		FROM trade_events
		WHERE session_id = ?
		GROUP BY signature
		ORDER BY any(slot) ASC, signature ASC
	`

	rows, err := s.conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query by session id: %w", err)
	}
	defer rows.Close()

	var events []*domain.TradeEvent
	for rows.Next() {
		var e domain.TradeEvent
		var direction string

		err := rows.Scan(
			&e.Signature, &e.Slot, &e.Trader, &direction,
			&e.NativeAmount, &e.AssetAmount, &e.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}

		e.Direction = domain.Direction(direction)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}

	return events, nil
}
