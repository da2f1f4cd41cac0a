package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"launch-guard/internal/domain"
	"launch-guard/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

const sessionColumns = `
	session_id, token_mint,
	max_supply_fraction, max_native_amount,
	launch_slot, window_slots, started_at, expires_at,
	ignore_set, targets, total_supply,
	status, triggered_by, created_at, updated_at
`

// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
func (s *SessionStore) Insert(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.SessionID == "" || rec.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	targets, err := json.Marshal(rec.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}

	query := `
		INSERT INTO monitor_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = s.pool.Exec(ctx, query,
		rec.SessionID, rec.TokenMint,
		rec.Thresholds.MaxSupplyFraction, numericFromUint64(rec.Thresholds.MaxNativeAmount),
		rec.Window.LaunchSlot, rec.Window.WindowSlots, rec.Window.StartedAt, rec.Window.ExpiresAt,
		rec.IgnoreSet, targets, numericFromUint64(rec.TotalSupply),
		string(rec.Status), rec.TriggeredBy, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Update overwrites a session's mutable fields. Returns ErrNotFound if the
// session does not exist.
func (s *SessionStore) Update(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE monitor_sessions
		SET status = $2, triggered_by = $3, updated_at = $4
		WHERE session_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		rec.SessionID, string(rec.Status), rec.TriggeredBy, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM monitor_sessions WHERE session_id = $1`

	row := s.pool.QueryRow(ctx, query, sessionID)
	rec, err := scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return rec, nil
}

// GetActiveByMint retrieves the non-terminal session for a mint.
func (s *SessionStore) GetActiveByMint(ctx context.Context, mint string) (*domain.SessionRecord, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM monitor_sessions
		WHERE token_mint = $1 AND status = 'monitoring'
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, mint)
	rec, err := scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get active session by mint: %w", err)
	}
	return rec, nil
}

// ListActive retrieves all non-terminal sessions, created_at ASC.
func (s *SessionStore) ListActive(ctx context.Context) ([]*domain.SessionRecord, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM monitor_sessions
		WHERE status = 'monitoring'
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var result []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

// scanSession reads one session row in sessionColumns order.
func scanSession(row pgx.Row) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var maxNative, totalSupply pgtype.Numeric
	var status string
	var targetsRaw []byte

	err := row.Scan(
		&rec.SessionID, &rec.TokenMint,
		&rec.Thresholds.MaxSupplyFraction, &maxNative,
		&rec.Window.LaunchSlot, &rec.Window.WindowSlots, &rec.Window.StartedAt, &rec.Window.ExpiresAt,
		&rec.IgnoreSet, &targetsRaw, &totalSupply,
		&status, &rec.TriggeredBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.Thresholds.MaxNativeAmount, err = uint64FromNumeric(maxNative); err != nil {
		return nil, fmt.Errorf("max_native_amount: %w", err)
	}
	if rec.TotalSupply, err = uint64FromNumeric(totalSupply); err != nil {
		return nil, fmt.Errorf("total_supply: %w", err)
	}
	rec.Status = domain.SessionStatus(status)
	if len(targetsRaw) > 0 {
		if err := json.Unmarshal(targetsRaw, &rec.Targets); err != nil {
			return nil, fmt.Errorf("unmarshal targets: %w", err)
		}
	}
	return &rec, nil
}
