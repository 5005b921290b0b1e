package query

import (
	"context"
	"sync"
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
)

type fakeWarehouse struct {
	mu         sync.Mutex
	execCalls  int
	countCalls int
	result     *domain.QueryResult
	total      int64
	err        error
	gate       chan struct{} // when non-nil, Execute blocks until closed
}

func (w *fakeWarehouse) Execute(ctx context.Context, query string, args []interface{}) (*domain.QueryResult, error) {
	w.mu.Lock()
	w.execCalls++
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.result, nil
}

func (w *fakeWarehouse) Stream(ctx context.Context, query string, args []interface{}) (domain.RowIterator, error) {
	if w.err != nil {
		return nil, w.err
	}
	return domain.NewSliceIterator(w.result.Columns, w.result.Rows), nil
}

func (w *fakeWarehouse) Count(ctx context.Context, query string, args []interface{}) (int64, error) {
	w.mu.Lock()
	w.countCalls++
	w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	return w.total, nil
}

func (w *fakeWarehouse) executions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.execCalls
}

// brokenCache fails every operation, modelling a cache outage.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, &domain.CacheError{Message: "cache get", Err: context.DeadlineExceeded}
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return &domain.CacheError{Message: "cache set", Err: context.DeadlineExceeded}
}
func (brokenCache) ScanKeys(context.Context, string) ([]string, error) {
	return nil, &domain.CacheError{Message: "cache scan", Err: context.DeadlineExceeded}
}
func (brokenCache) Delete(context.Context, ...string) error {
	return &domain.CacheError{Message: "cache delete", Err: context.DeadlineExceeded}
}

func testResult() *domain.QueryResult {
	return &domain.QueryResult{
		Columns:  []string{"id", "status"},
		Rows:     [][]interface{}{{"L-1", "DELIVERED"}, {"L-2", "DELIVERED"}},
		RowCount: 2,
	}
}

func testDefinition(id string) *domain.QueryDefinition {
	return &domain.QueryDefinition{
		ID:         id,
		Name:       "delivered-loads",
		Type:       domain.QueryTypeTable,
		Collection: "loads",
		Fields:     []domain.QueryField{{Expr: "id"}, {Expr: "status"}},
		Filters: []domain.QueryFilter{
			{Field: "status", Operator: domain.OpEquals, Value: "DELIVERED"},
		},
		Limit: 10,
	}
}

func newRedisStore(t *testing.T) *cache.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisStore(client)
}

func TestService_ExecuteCachesResult(t *testing.T) {
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, newRedisStore(t), Config{}, nil)
	ctx := context.Background()
	def := testDefinition("q1")

	first, err := svc.Execute(ctx, def, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, first.RowCount)

	second, err := svc.Execute(ctx, def, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Columns, second.Columns)
	assert.Equal(t, first.Rows, second.Rows)

	assert.Equal(t, 1, wh.executions(), "second call must come from cache")
}

func TestService_ExecuteDistinctParametersMiss(t *testing.T) {
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, newRedisStore(t), Config{}, nil)
	ctx := context.Background()

	def := testDefinition("q1")
	def.Filters = []domain.QueryFilter{
		{Field: "status", Operator: domain.OpEquals, Value: ":wanted"},
	}
	def.Parameters = domain.RuntimeParameters{"wanted": "DELIVERED"}

	_, err := svc.Execute(ctx, def, nil)
	require.NoError(t, err)
	_, err = svc.Execute(ctx, def, domain.RuntimeParameters{"wanted": "IN_TRANSIT"})
	require.NoError(t, err)

	assert.Equal(t, 2, wh.executions(), "different parameters must not share a cache entry")
}

func TestService_ExecuteCoalescesConcurrent(t *testing.T) {
	gate := make(chan struct{})
	wh := &fakeWarehouse{result: testResult(), gate: gate}
	svc := NewService(nil, wh, newRedisStore(t), Config{}, nil)
	def := testDefinition("q1")

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Execute(context.Background(), def, nil)
		}(i)
	}

	// Give all callers time to pile up on the same flight.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, wh.executions(), "identical concurrent executions must coalesce")
}

func TestService_ExecuteSurvivesCacheOutage(t *testing.T) {
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, brokenCache{}, Config{}, nil)
	ctx := context.Background()
	def := testDefinition("q1")

	for i := 0; i < 2; i++ {
		res, err := svc.Execute(ctx, def, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.RowCount)
	}
	assert.Equal(t, 2, wh.executions(), "a broken cache degrades to direct execution")
}

func TestService_ExecuteCompileErrorSkipsWarehouse(t *testing.T) {
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, newRedisStore(t), Config{}, nil)

	def := testDefinition("q1")
	def.Fields = nil

	_, err := svc.Execute(context.Background(), def, nil)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, wh.executions())
}

func TestService_ExecuteNoCacheConfigured(t *testing.T) {
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, nil, Config{}, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Execute(context.Background(), testDefinition("q1"), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, wh.executions())
}

func TestService_Invalidate(t *testing.T) {
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, newRedisStore(t), Config{}, nil)
	ctx := context.Background()

	_, err := svc.Execute(ctx, testDefinition("q1"), nil)
	require.NoError(t, err)
	_, err = svc.Execute(ctx, testDefinition("q2"), nil)
	require.NoError(t, err)

	n, err := svc.Invalidate(ctx, InvalidationPattern("q1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// q1 misses and re-executes, q2 is still cached.
	_, err = svc.Execute(ctx, testDefinition("q1"), nil)
	require.NoError(t, err)
	_, err = svc.Execute(ctx, testDefinition("q2"), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, wh.executions())
}

func TestService_InvalidateNoMatches(t *testing.T) {
	svc := NewService(nil, &fakeWarehouse{result: testResult()}, newRedisStore(t), Config{}, nil)

	n, err := svc.Invalidate(context.Background(), "query:missing:*")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_ExecutePaginated(t *testing.T) {
	wh := &fakeWarehouse{result: testResult(), total: 25}
	svc := NewService(nil, wh, nil, Config{}, nil)

	res, err := svc.ExecutePaginated(context.Background(), testDefinition("q1"), nil, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Total)
	assert.Equal(t, 2, res.Page)
	assert.Equal(t, 10, res.PageSize)
	assert.Equal(t, int64(3), res.PageCount)
	assert.Equal(t, 2, res.Data.RowCount)
	assert.Equal(t, 1, wh.countCalls)
}

func TestService_ExecutePaginatedRejectsBadWindow(t *testing.T) {
	svc := NewService(nil, &fakeWarehouse{result: testResult()}, nil, Config{}, nil)
	ctx := context.Background()
	def := testDefinition("q1")

	var verr *domain.ValidationError
	_, err := svc.ExecutePaginated(ctx, def, nil, 0, 10)
	require.ErrorAs(t, err, &verr)
	_, err = svc.ExecutePaginated(ctx, def, nil, 1, 0)
	require.ErrorAs(t, err, &verr)
}

func TestService_ExecuteStream(t *testing.T) {
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, newRedisStore(t), Config{}, nil)

	it, err := svc.ExecuteStream(context.Background(), testDefinition("q1"), nil)
	require.NoError(t, err)
	defer it.Close()

	var rows int
	for it.Next() {
		rows++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 2, rows)

	// Streaming bypasses the cache entirely.
	_, err = svc.Execute(context.Background(), testDefinition("q1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, wh.executions())
}

func TestService_ExecuteTTLExpiryHitsWarehouseAgain(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(nil, wh, cache.NewRedisStore(client), Config{CacheTTL: time.Minute}, nil)
	ctx := context.Background()
	def := testDefinition("q1")

	_, err := svc.Execute(ctx, def, nil)
	require.NoError(t, err)
	_, err = svc.Execute(ctx, def, nil)
	require.NoError(t, err)
	require.Equal(t, 1, wh.executions())

	// Past the TTL the entry is gone and execution goes back to the
	// warehouse.
	mr.FastForward(time.Minute + time.Second)

	_, err = svc.Execute(ctx, def, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, wh.executions())
}

func TestService_UpdateDefinitionInvalidatesCache(t *testing.T) {
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	repo := repository.NewQueryRepo(writeDB, readDB)
	wh := &fakeWarehouse{result: testResult()}
	svc := NewService(repo, wh, newRedisStore(t), Config{}, nil)
	ctx := context.Background()

	def := testDefinition("")
	created, err := svc.CreateDefinition(ctx, def)
	require.NoError(t, err)

	_, err = svc.ExecuteByID(ctx, created.ID, nil)
	require.NoError(t, err)
	_, err = svc.ExecuteByID(ctx, created.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, wh.executions())

	limit := 5
	_, err = svc.UpdateDefinition(ctx, created.ID, domain.UpdateQueryRequest{Limit: &limit})
	require.NoError(t, err)

	// The stale entry is gone, so execution hits the warehouse again.
	_, err = svc.ExecuteByID(ctx, created.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, wh.executions())
}

func TestService_DeleteDefinition(t *testing.T) {
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	repo := repository.NewQueryRepo(writeDB, readDB)
	svc := NewService(repo, &fakeWarehouse{result: testResult()}, newRedisStore(t), Config{}, nil)
	ctx := context.Background()

	created, err := svc.CreateDefinition(ctx, testDefinition(""))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDefinition(ctx, created.ID))

	var nerr *domain.NotFoundError
	_, err = svc.GetDefinition(ctx, created.ID)
	require.ErrorAs(t, err, &nerr)
}
