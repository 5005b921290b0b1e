package domain

import "time"

// QueryResult holds the structured output of an executed query.
type QueryResult struct {
	Columns  []string        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int             `json:"rowCount"`
}

// PaginatedResult is one page of query output plus paging metadata.
type PaginatedResult struct {
	Data      *QueryResult `json:"data"`
	Total     int64        `json:"total"`
	Page      int          `json:"page"`
	PageSize  int          `json:"pageSize"`
	PageCount int64        `json:"pageCount"`
}

// CachedResult is the cache store's value type: materialized rows plus the
// generation time and the TTL they were stored with.
type CachedResult struct {
	Columns     []string        `json:"columns"`
	Rows        [][]interface{} `json:"rows"`
	GeneratedAt time.Time       `json:"generatedAt"`
	TTLSeconds  int64           `json:"ttlSeconds"`
}

// Result converts a cached entry back to a QueryResult.
func (c *CachedResult) Result() *QueryResult {
	rows := c.Rows
	if rows == nil {
		rows = [][]interface{}{}
	}
	return &QueryResult{Columns: c.Columns, Rows: rows, RowCount: len(rows)}
}

// RowIterator is a lazy, finite, single-pass sequence of rows. Callers must
// Close it; Row() is only valid until the next call to Next().
type RowIterator interface {
	Columns() []string
	Next() bool
	Row() []interface{}
	Err() error
	Close() error
}

// sliceIterator adapts a materialized QueryResult to the RowIterator contract.
type sliceIterator struct {
	columns []string
	rows    [][]interface{}
	pos     int
}

// NewSliceIterator wraps already-materialized rows in a RowIterator.
func NewSliceIterator(columns []string, rows [][]interface{}) RowIterator {
	return &sliceIterator{columns: columns, rows: rows, pos: -1}
}

func (it *sliceIterator) Columns() []string { return it.columns }

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Row() []interface{} { return it.rows[it.pos] }
func (it *sliceIterator) Err() error         { return nil }
func (it *sliceIterator) Close() error       { return nil }
