package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launch-guard/internal/domain"
	"launch-guard/internal/storage"
)

func tradeEvent(sig string, slot int64, direction domain.Direction) *domain.TradeEvent {
	return &domain.TradeEvent{
		Signature:    sig,
		Slot:         slot,
		Trader:       "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Direction:    direction,
		NativeAmount: 2_000_000_000,
		AssetAmount:  150_000_000,
		ObservedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTradeEventStore_Insert(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeEventStore(conn)
	ctx := context.Background()

	err := store.Insert(ctx, "sess-1", tradeEvent("sig-1", 100, domain.DirectionBuy))
	require.NoError(t, err)

	got, err := store.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sig-1", got[0].Signature)
	assert.Equal(t, int64(100), got[0].Slot)
	assert.Equal(t, domain.DirectionBuy, got[0].Direction)
	assert.Equal(t, uint64(2_000_000_000), got[0].NativeAmount)
	assert.Equal(t, uint64(150_000_000), got[0].AssetAmount)
	assert.True(t, got[0].ObservedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestTradeEventStore_Insert_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeEventStore(conn)
	ctx := context.Background()

	err := store.Insert(ctx, "", tradeEvent("sig-1", 100, domain.DirectionBuy))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Insert(ctx, "sess-1", nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Insert(ctx, "sess-1", &domain.TradeEvent{Slot: 100})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestTradeEventStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeEventStore(conn)
	ctx := context.Background()

	// Empty batch is a no-op
	require.NoError(t, store.InsertBulk(ctx, "sess-1", nil))

	events := []*domain.TradeEvent{
		tradeEvent("sig-3", 300, domain.DirectionSell),
		tradeEvent("sig-1", 100, domain.DirectionBuy),
		tradeEvent("sig-2", 200, domain.DirectionBuy),
	}
	require.NoError(t, store.InsertBulk(ctx, "sess-1", events))

	got, err := store.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Slot ascending regardless of insert order
	assert.Equal(t, "sig-1", got[0].Signature)
	assert.Equal(t, "sig-2", got[1].Signature)
	assert.Equal(t, "sig-3", got[2].Signature)
}

func TestTradeEventStore_GetBySessionID_Isolation(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeEventStore(conn)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "sess-1", tradeEvent("sig-1", 100, domain.DirectionBuy)))
	require.NoError(t, store.Insert(ctx, "sess-2", tradeEvent("sig-2", 200, domain.DirectionSell)))

	got, err := store.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sig-1", got[0].Signature)

	got, err = store.GetBySessionID(ctx, "sess-999")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTradeEventStore_DuplicateSignatureCollapsed(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeEventStore(conn)
	ctx := context.Background()

	// Replay overlap can archive the same event twice; reads collapse it.
	e := tradeEvent("sig-1", 100, domain.DirectionBuy)
	require.NoError(t, store.Insert(ctx, "sess-1", e))
	require.NoError(t, store.Insert(ctx, "sess-1", e))

	got, err := store.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sig-1", got[0].Signature)
}

func TestTradeEventStore_ManySessions(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeEventStore(conn)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		var events []*domain.TradeEvent
		for j := 0; j < 10; j++ {
			events = append(events, tradeEvent(
				fmt.Sprintf("sig-%d-%d", i, j), int64(j*10), domain.DirectionBuy))
		}
		require.NoError(t, store.InsertBulk(ctx, fmt.Sprintf("sess-%d", i), events))
	}

	for i := 0; i < 5; i++ {
		got, err := store.GetBySessionID(ctx, fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		assert.Len(t, got, 10)
	}
}
