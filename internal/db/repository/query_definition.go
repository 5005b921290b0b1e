package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"freight-insights/internal/domain"
)

// Compile-time check.
var _ domain.QueryRepository = (*QueryRepo)(nil)

// QueryRepo stores query definitions in the SQLite metastore. Structured
// columns (fields, filters, joins, ...) are serialized as JSON. Reads go
// through the concurrent read pool, writes through the single-connection
// write pool.
type QueryRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewQueryRepo creates a new QueryRepo.
func NewQueryRepo(write, read *sql.DB) *QueryRepo {
	return &QueryRepo{write: write, read: read}
}

const queryColumns = `id, name, type, collection, fields, filters, joins,
	aggregations, group_by, sort, limit_rows, offset_rows, parameters,
	created_by, created_at, updated_at`

// Create inserts a new query definition after validating its invariants.
func (r *QueryRepo) Create(ctx context.Context, def *domain.QueryDefinition) (*domain.QueryDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	id := newID()
	now := formatTime(time.Now())
	_, err := r.write.ExecContext(ctx, `
		INSERT INTO queries (id, name, type, collection, fields, filters, joins,
			aggregations, group_by, sort, limit_rows, offset_rows, parameters,
			created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, def.Name, string(def.Type), def.Collection,
		marshalJSON(def.Fields), marshalJSON(def.Filters), marshalJSON(def.Joins),
		marshalJSON(def.Aggregations), marshalJSON(def.GroupBy), marshalJSON(def.Sort),
		def.Limit, def.Offset, marshalJSON(def.Parameters),
		def.CreatedBy, now, now,
	)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, id)
}

// GetByID returns a query definition by its ID.
func (r *QueryRepo) GetByID(ctx context.Context, id string) (*domain.QueryDefinition, error) {
	row := r.read.QueryRowContext(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = ?`, id)
	def, err := scanQuery(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return def, nil
}

// List returns a page of query definitions ordered by name.
func (r *QueryRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.QueryDefinition, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT `+queryColumns+` FROM queries ORDER BY name LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	defs := make([]domain.QueryDefinition, 0)
	for rows.Next() {
		def, err := scanQuery(rows)
		if err != nil {
			return nil, 0, err
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return defs, total, nil
}

// Update applies partial updates using read-modify-write, then re-validates.
func (r *QueryRepo) Update(ctx context.Context, id string, req domain.UpdateQueryRequest) (*domain.QueryDefinition, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Type != nil {
		current.Type = *req.Type
	}
	if req.Collection != nil {
		current.Collection = *req.Collection
	}
	if req.Fields != nil {
		current.Fields = req.Fields
	}
	if req.Filters != nil {
		current.Filters = req.Filters
	}
	if req.Joins != nil {
		current.Joins = req.Joins
	}
	if req.Aggregations != nil {
		current.Aggregations = req.Aggregations
	}
	if req.GroupBy != nil {
		current.GroupBy = req.GroupBy
	}
	if req.Sort != nil {
		current.Sort = req.Sort
	}
	if req.Limit != nil {
		current.Limit = *req.Limit
	}
	if req.Offset != nil {
		current.Offset = *req.Offset
	}
	if req.Parameters != nil {
		current.Parameters = req.Parameters
	}

	if err := current.Validate(); err != nil {
		return nil, err
	}

	_, err = r.write.ExecContext(ctx, `
		UPDATE queries SET name = ?, type = ?, collection = ?, fields = ?,
			filters = ?, joins = ?, aggregations = ?, group_by = ?, sort = ?,
			limit_rows = ?, offset_rows = ?, parameters = ?, updated_at = ?
		WHERE id = ?`,
		current.Name, string(current.Type), current.Collection,
		marshalJSON(current.Fields), marshalJSON(current.Filters), marshalJSON(current.Joins),
		marshalJSON(current.Aggregations), marshalJSON(current.GroupBy), marshalJSON(current.Sort),
		current.Limit, current.Offset, marshalJSON(current.Parameters),
		formatTime(time.Now()), id,
	)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, id)
}

// Delete removes a query definition by ID.
func (r *QueryRepo) Delete(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `DELETE FROM queries WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("query %q not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuery(row rowScanner) (*domain.QueryDefinition, error) {
	var (
		def                                 domain.QueryDefinition
		typ                                 string
		fields, filters, joins              string
		aggregations, groupBy, sort, params string
		createdAt, updatedAt                string
	)
	err := row.Scan(&def.ID, &def.Name, &typ, &def.Collection,
		&fields, &filters, &joins, &aggregations, &groupBy, &sort,
		&def.Limit, &def.Offset, &params,
		&def.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	def.Type = domain.QueryType(typ)
	_ = json.Unmarshal([]byte(fields), &def.Fields)
	_ = json.Unmarshal([]byte(filters), &def.Filters)
	_ = json.Unmarshal([]byte(joins), &def.Joins)
	_ = json.Unmarshal([]byte(aggregations), &def.Aggregations)
	_ = json.Unmarshal([]byte(groupBy), &def.GroupBy)
	_ = json.Unmarshal([]byte(sort), &def.Sort)
	_ = json.Unmarshal([]byte(params), &def.Parameters)
	def.CreatedAt = parseTime(createdAt)
	def.UpdatedAt = parseTime(updatedAt)
	return &def, nil
}
