package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the shared pgx connection pool the stores run their queries on.
type Pool struct {
	*pgxpool.Pool
}

// NewPool opens a connection pool for the given DSN. The server is pinged
// once so an unreachable database fails at startup, not on first query.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close releases the pool and its connections.
func (p *Pool) Close() {
	p.Pool.Close()
}

// unique_violation
const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// numericFromUint64 encodes a lamport or raw-token amount for a NUMERIC
// column. The full uint64 range round-trips; a BIGINT cast would corrupt
// values above 2^63-1.
func numericFromUint64(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

// uint64FromNumeric decodes an amount column. Postgres may normalize
// trailing zeros into a positive exponent, so the digits are scaled back
// before the range check.
func uint64FromNumeric(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.NaN || n.Int == nil {
		return 0, fmt.Errorf("amount is not a finite numeric")
	}
	if n.Exp < 0 {
		return 0, fmt.Errorf("amount has fractional digits (exp %d)", n.Exp)
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("amount %s outside uint64 range", v)
	}
	return v.Uint64(), nil
}
