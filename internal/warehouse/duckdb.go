// Package warehouse implements the Warehouse port against DuckDB.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"freight-insights/internal/domain"
)

// Compile-time check.
var _ domain.Warehouse = (*DuckDB)(nil)

// DuckDB executes compiled queries against an analytical DuckDB instance.
// The *sql.DB pool is owned here; no caller opens ad hoc connections.
type DuckDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDuckDB wraps an open DuckDB connection pool.
func NewDuckDB(db *sql.DB, logger *slog.Logger) *DuckDB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuckDB{db: db, logger: logger}
}

// Open opens a DuckDB database at path ("" for in-memory) and verifies the
// connection.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// Execute runs a query and materializes all rows.
func (w *DuckDB) Execute(ctx context.Context, query string, args []interface{}) (*domain.QueryResult, error) {
	start := time.Now()
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapExecError(err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, mapExecError(err)
	}
	w.logger.Debug("warehouse query executed",
		"rows", result.RowCount, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// Stream runs a query and returns a lazy cursor. The caller owns Close.
func (w *DuckDB) Stream(ctx context.Context, query string, args []interface{}) (domain.RowIterator, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapExecError(err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, mapExecError(err)
	}
	return &rowCursor{rows: rows, columns: cols}, nil
}

// Count runs a counting query and returns its single integer result.
func (w *DuckDB) Count(ctx context.Context, query string, args []interface{}) (int64, error) {
	var total int64
	if err := w.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, mapExecError(err)
	}
	return total, nil
}

// rowCursor adapts *sql.Rows to the RowIterator contract.
type rowCursor struct {
	rows    *sql.Rows
	columns []string
	current []interface{}
	err     error
}

func (c *rowCursor) Columns() []string { return c.columns }

func (c *rowCursor) Next() bool {
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	row, err := scanRow(c.rows, len(c.columns))
	if err != nil {
		c.err = err
		return false
	}
	c.current = row
	return true
}

func (c *rowCursor) Row() []interface{} { return c.current }
func (c *rowCursor) Err() error         { return c.err }
func (c *rowCursor) Close() error       { return c.rows.Close() }

func scanRows(rows *sql.Rows) (*domain.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	resultRows := [][]interface{}{}
	for rows.Next() {
		row, err := scanRow(rows, len(cols))
		if err != nil {
			return nil, err
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.QueryResult{
		Columns:  cols,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func scanRow(rows *sql.Rows, n int) ([]interface{}, error) {
	vals := make([]interface{}, n)
	ptrs := make([]interface{}, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	// Convert byte slices to strings for JSON serialization.
	row := make([]interface{}, n)
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			row[i] = string(b)
		} else {
			row[i] = v
		}
	}
	return row, nil
}

func mapExecError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout("warehouse query timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.ErrQueryExecution(err, "execute warehouse query")
}
