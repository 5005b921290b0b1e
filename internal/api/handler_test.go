package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight-insights/internal/cache"
	internaldb "freight-insights/internal/db"
	"freight-insights/internal/db/repository"
	"freight-insights/internal/domain"
	"freight-insights/internal/export"
	"freight-insights/internal/query"
)

// stubWarehouse returns a fixed result for any statement.
type stubWarehouse struct {
	result *domain.QueryResult
}

func (s *stubWarehouse) Execute(context.Context, string, []interface{}) (*domain.QueryResult, error) {
	return s.result, nil
}

func (s *stubWarehouse) Stream(context.Context, string, []interface{}) (domain.RowIterator, error) {
	return domain.NewSliceIterator(s.result.Columns, s.result.Rows), nil
}

func (s *stubWarehouse) Count(context.Context, string, []interface{}) (int64, error) {
	return int64(s.result.RowCount), nil
}

func setupServer(t *testing.T) http.Handler {
	t.Helper()

	writeDB, readDB := internaldb.OpenTestSQLite(t)
	queryRepo := repository.NewQueryRepo(writeDB, readDB)
	jobRepo := repository.NewExportJobRepo(writeDB, readDB)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	wh := &stubWarehouse{result: &domain.QueryResult{
		Columns:  []string{"id", "status"},
		Rows:     [][]interface{}{{"L-1", "DELIVERED"}, {"L-2", "DELIVERED"}},
		RowCount: 2,
	}}

	queries := query.NewService(queryRepo, wh, cache.NewRedisStore(client), query.Config{}, nil)
	exports := export.NewManager(jobRepo, queryRepo, queries, nil, nil, export.ManagerConfig{
		ArtifactRoot: t.TempDir(),
		Retention:    time.Hour,
	}, nil)

	h := NewHandler(queries, exports, nil, nil)
	return NewRouter(h, RouterConfig{})
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func createDefinition(t *testing.T, srv http.Handler, name string) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/v1/queries", map[string]interface{}{
		"name":       name,
		"type":       "TABLE",
		"collection": "loads",
		"fields":     []map[string]string{{"expr": "id"}, {"expr": "status"}},
		"filters": []map[string]interface{}{
			{"field": "status", "operator": "EQUALS", "value": "DELIVERED"},
		},
		"limit": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var def domain.QueryDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	require.NotEmpty(t, def.ID)
	return def.ID
}

func TestHealthz(t *testing.T) {
	srv := setupServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueriesCRUD(t *testing.T) {
	srv := setupServer(t)
	id := createDefinition(t, srv, "delivered-loads")

	rec := doJSON(t, srv, http.MethodGet, "/v1/queries/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var def domain.QueryDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.Equal(t, "delivered-loads", def.Name)

	rec = doJSON(t, srv, http.MethodGet, "/v1/queries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)

	rec = doJSON(t, srv, http.MethodPut, "/v1/queries/"+id, map[string]interface{}{"limit": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.Equal(t, 5, def.Limit)

	rec = doJSON(t, srv, http.MethodDelete, "/v1/queries/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/queries/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueriesValidationAndConflict(t *testing.T) {
	srv := setupServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/queries", map[string]interface{}{
		"name": "no-fields", "type": "TABLE", "collection": "loads",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	createDefinition(t, srv, "dup")
	rec = doJSON(t, srv, http.MethodPost, "/v1/queries", map[string]interface{}{
		"name": "dup", "type": "TABLE", "collection": "loads",
		"fields": []map[string]string{{"expr": "id"}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExecuteQueryModes(t *testing.T) {
	srv := setupServer(t)
	id := createDefinition(t, srv, "delivered-loads")

	// Default rows mode.
	rec := doJSON(t, srv, http.MethodPost, "/v1/queries/"+id+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res domain.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, []string{"id", "status"}, res.Columns)

	// Paginated mode.
	rec = doJSON(t, srv, http.MethodPost, "/v1/queries/"+id+"/execute", map[string]interface{}{
		"mode": "paginated", "page": 1, "pageSize": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paged domain.PaginatedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paged))
	assert.Equal(t, int64(2), paged.Total)
	assert.Equal(t, 1, paged.Page)

	// Bad page window.
	rec = doJSON(t, srv, http.MethodPost, "/v1/queries/"+id+"/execute", map[string]interface{}{
		"mode": "paginated", "page": 0, "pageSize": 10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Stream mode emits NDJSON.
	rec = doJSON(t, srv, http.MethodPost, "/v1/queries/"+id+"/execute", map[string]interface{}{
		"mode": "stream",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	var row map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, "L-1", row["id"])

	// Unknown mode.
	rec = doJSON(t, srv, http.MethodPost, "/v1/queries/"+id+"/execute", map[string]interface{}{
		"mode": "firehose",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing definition.
	rec = doJSON(t, srv, http.MethodPost, "/v1/queries/missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidateCache(t *testing.T) {
	srv := setupServer(t)
	id := createDefinition(t, srv, "delivered-loads")

	// Populate the cache.
	rec := doJSON(t, srv, http.MethodPost, "/v1/queries/"+id+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/cache/invalidate", map[string]string{
		"pattern": "query:" + id + ":*",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body["invalidated"])

	rec = doJSON(t, srv, http.MethodPost, "/v1/cache/invalidate", map[string]string{"pattern": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportsLifecycle(t *testing.T) {
	srv := setupServer(t)
	id := createDefinition(t, srv, "delivered-loads")

	// Synchronous export returns a terminal job.
	rec := doJSON(t, srv, http.MethodPost, "/v1/exports?sync=true", map[string]interface{}{
		"format": "csv", "queryId": id, "fileName": "delivered loads",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job domain.ExportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, domain.ExportStatusCompleted, job.Status)
	assert.Equal(t, int64(2), job.RowCount)

	// Download the artifact.
	rec = doJSON(t, srv, http.MethodGet, "/v1/exports/"+job.ID+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "delivered_loads.csv")
	assert.Contains(t, rec.Body.String(), "DELIVERED")

	rec = doJSON(t, srv, http.MethodGet, "/v1/exports/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/exports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)

	rec = doJSON(t, srv, http.MethodDelete, "/v1/exports/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExportsAsyncAndProcess(t *testing.T) {
	srv := setupServer(t)
	id := createDefinition(t, srv, "delivered-loads")

	// Without a queue the job stays PENDING until processed explicitly.
	rec := doJSON(t, srv, http.MethodPost, "/v1/exports", map[string]interface{}{
		"format": "json", "queryId": id, "fileName": "loads",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job domain.ExportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, domain.ExportStatusPending, job.Status)

	// Downloading before completion conflicts.
	rec = doJSON(t, srv, http.MethodGet, "/v1/exports/"+job.ID+"/download", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/exports/"+job.ID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, domain.ExportStatusCompleted, job.Status)

	// A second process call loses the swap.
	rec = doJSON(t, srv, http.MethodPost, "/v1/exports/"+job.ID+"/process", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExportsRejectsBadSpec(t *testing.T) {
	srv := setupServer(t)
	id := createDefinition(t, srv, "delivered-loads")

	rec := doJSON(t, srv, http.MethodPost, "/v1/exports", map[string]interface{}{
		"format": "parquet", "queryId": id, "fileName": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/exports", map[string]interface{}{
		"format": "csv", "fileName": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/exports", map[string]interface{}{
		"format": "csv", "queryId": "missing", "fileName": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
