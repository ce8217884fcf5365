package pgx

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
)

// Executor runs compiled statements. *DB is the pgx implementation.
type Executor interface {
	// QueryMaps returns every row as a column name to value map.
	QueryMaps(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
	// QueryInt64 scans a single integer column of a single row.
	QueryInt64(ctx context.Context, sql string, args ...any) (int64, error)
	// Exec returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// Estimate returns the planner's row estimate for a SELECT.
	Estimate(ctx context.Context, sql string, args ...any) (int64, error)
	// InTx runs fn inside a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(Executor) error) error
}

// ErrNoPlan is returned by Estimate when EXPLAIN yields no plan.
var ErrNoPlan = errors.New("explain returned no plan")

// DB implements Executor over a Conn.
type DB struct {
	conn Conn
}

// NewDB returns an Executor backed by conn (a pool, a connection or a tx).
func NewDB(conn Conn) *DB {
	return &DB{conn: conn}
}

func (db *DB) QueryMaps(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := db.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []map[string]any{}
	}
	return result, nil
}

func (db *DB) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := db.conn.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := db.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type explainPlan struct {
	Plan struct {
		PlanRows float64 `json:"Plan Rows"`
	} `json:"Plan"`
}

func (db *DB) Estimate(ctx context.Context, sql string, args ...any) (int64, error) {
	var plans []explainPlan
	if err := db.conn.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+sql, args...).Scan(&plans); err != nil {
		return 0, fmt.Errorf("explain: %w", err)
	}
	if len(plans) == 0 {
		return 0, ErrNoPlan
	}
	return int64(math.Round(plans[0].Plan.PlanRows)), nil
}

func (db *DB) InTx(ctx context.Context, fn func(Executor) error) error {
	tx, err := db.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&DB{conn: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
