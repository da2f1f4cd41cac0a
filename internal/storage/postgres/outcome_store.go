package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"launch-guard/internal/domain"
	"launch-guard/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

// Insert appends an outcome. Returns ErrDuplicateKey if outcome_id exists.
func (s *OutcomeStore) Insert(ctx context.Context, o *domain.LiquidationOutcome) error {
	if o == nil || o.OutcomeID == "" || o.SessionID == "" {
		return storage.ErrInvalidInput
	}

	results, err := json.Marshal(o.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	query := `
		INSERT INTO liquidation_outcomes (
			outcome_id, session_id, token_mint,
			trigger_signature, trigger_slot, trigger_trader, trigger_direction,
			trigger_native_amount, trigger_asset_amount, trigger_observed_at,
			results, success_count, total_asset_sold, total_native_received,
			started_at, duration_ms
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)
	`

	_, err = s.pool.Exec(ctx, query,
		o.OutcomeID, o.SessionID, o.TokenMint,
		o.Trigger.Signature, o.Trigger.Slot, o.Trigger.Trader, string(o.Trigger.Direction),
		numericFromUint64(o.Trigger.NativeAmount), numericFromUint64(o.Trigger.AssetAmount), o.Trigger.ObservedAt,
		results, o.SuccessCount, numericFromUint64(o.TotalAssetSold), numericFromUint64(o.TotalNativeReceived),
		o.StartedAt, o.Duration.Milliseconds(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// GetBySessionID retrieves all outcomes for a session, started_at ASC.
func (s *OutcomeStore) GetBySessionID(ctx context.Context, sessionID string) ([]*domain.LiquidationOutcome, error) {
	query := `
		SELECT
			outcome_id, session_id, token_mint,
			trigger_signature, trigger_slot, trigger_trader, trigger_direction,
			trigger_native_amount, trigger_asset_amount, trigger_observed_at,
			results, success_count, total_asset_sold, total_native_received,
			started_at, duration_ms
		FROM liquidation_outcomes
		WHERE session_id = $1
		ORDER BY started_at ASC
	`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get outcomes by session: %w", err)
	}
	defer rows.Close()

	var result []*domain.LiquidationOutcome
	for rows.Next() {
		var o domain.LiquidationOutcome
		var direction string
		var nativeAmount, assetAmount, totalSold, totalReceived pgtype.Numeric
		var durationMs int64
		var resultsRaw []byte

		err := rows.Scan(
			&o.OutcomeID, &o.SessionID, &o.TokenMint,
			&o.Trigger.Signature, &o.Trigger.Slot, &o.Trigger.Trader, &direction,
			&nativeAmount, &assetAmount, &o.Trigger.ObservedAt,
			&resultsRaw, &o.SuccessCount, &totalSold, &totalReceived,
			&o.StartedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}

		o.Trigger.Direction = domain.Direction(direction)
		if o.Trigger.NativeAmount, err = uint64FromNumeric(nativeAmount); err != nil {
			return nil, fmt.Errorf("trigger_native_amount: %w", err)
		}
		if o.Trigger.AssetAmount, err = uint64FromNumeric(assetAmount); err != nil {
			return nil, fmt.Errorf("trigger_asset_amount: %w", err)
		}
		if o.TotalAssetSold, err = uint64FromNumeric(totalSold); err != nil {
			return nil, fmt.Errorf("total_asset_sold: %w", err)
		}
		if o.TotalNativeReceived, err = uint64FromNumeric(totalReceived); err != nil {
			return nil, fmt.Errorf("total_native_received: %w", err)
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		if len(resultsRaw) > 0 {
			if err := json.Unmarshal(resultsRaw, &o.Results); err != nil {
				return nil, fmt.Errorf("unmarshal results: %w", err)
			}
		}
		result = append(result, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return result, nil
}
