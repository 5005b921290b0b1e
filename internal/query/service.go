// Package query is the execution layer: it compiles stored or ad hoc
// definitions, runs them against the warehouse, and fronts the warehouse
// with a shared TTL cache. Cache failures never fail a query.
package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"freight-insights/internal/compiler"
	"freight-insights/internal/domain"
)

const (
	// DefaultTTL applies when no cache TTL is configured.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds a single warehouse execution.
	DefaultTimeout = 30 * time.Second
)

// Config carries the tunables of the execution layer.
type Config struct {
	CacheTTL     time.Duration
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultTTL
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultTimeout
	}
	return c
}

// Service owns query definition CRUD and query execution.
type Service struct {
	repo      domain.QueryRepository
	warehouse domain.Warehouse
	cache     domain.CacheStore
	compiler  *compiler.Compiler
	cfg       Config
	logger    *slog.Logger
	group     singleflight.Group
}

// NewService creates a query Service. cache may be nil, which disables
// caching entirely.
func NewService(repo domain.QueryRepository, warehouse domain.Warehouse, cache domain.CacheStore, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		warehouse: warehouse,
		cache:     cache,
		compiler:  compiler.New(logger),
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// CreateDefinition stores a new query definition.
func (s *Service) CreateDefinition(ctx context.Context, def *domain.QueryDefinition) (*domain.QueryDefinition, error) {
	return s.repo.Create(ctx, def)
}

// GetDefinition returns a stored definition by ID.
func (s *Service) GetDefinition(ctx context.Context, id string) (*domain.QueryDefinition, error) {
	return s.repo.GetByID(ctx, id)
}

// ListDefinitions returns a page of stored definitions.
func (s *Service) ListDefinitions(ctx context.Context, page domain.PageRequest) ([]domain.QueryDefinition, int64, error) {
	return s.repo.List(ctx, page)
}

// UpdateDefinition applies a partial update and invalidates every cached
// execution of the definition, since prior results no longer reflect it.
func (s *Service) UpdateDefinition(ctx context.Context, id string, req domain.UpdateQueryRequest) (*domain.QueryDefinition, error) {
	updated, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.Invalidate(ctx, InvalidationPattern(id)); err != nil {
		s.logger.Warn("cache invalidation after update failed", "query_id", id, "error", err)
	}
	return updated, nil
}

// DeleteDefinition removes a stored definition and its cached executions.
func (s *Service) DeleteDefinition(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := s.Invalidate(ctx, InvalidationPattern(id)); err != nil {
		s.logger.Warn("cache invalidation after delete failed", "query_id", id, "error", err)
	}
	return nil
}

// ExecuteByID runs a stored definition with the given runtime parameters.
func (s *Service) ExecuteByID(ctx context.Context, id string, params domain.RuntimeParameters) (*domain.QueryResult, error) {
	def, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, def, params)
}

// Execute compiles and runs a definition, serving from cache when possible.
// Concurrent executions with the same cache key coalesce into one warehouse
// query.
func (s *Service) Execute(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters) (*domain.QueryResult, error) {
	compiled, err := s.compiler.Compile(def, params)
	if err != nil {
		return nil, err
	}

	if s.cache == nil {
		return s.runWarehouse(ctx, compiled)
	}

	key, err := CacheKey(def, params)
	if err != nil {
		return nil, err
	}

	if res := s.cacheGet(ctx, key); res != nil {
		return res, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// A coalesced follower may land here after the leader populated
		// the cache in a previous flight.
		if res := s.cacheGet(ctx, key); res != nil {
			return res, nil
		}
		res, err := s.runWarehouse(ctx, compiled)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.QueryResult), nil
}

// ExecutePaginated runs a definition windowed to one page, replacing the
// definition's own limit/offset. Pages are 1-based; a page beyond the data
// returns an empty result with accurate totals.
func (s *Service) ExecutePaginated(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters, page, pageSize int) (*domain.PaginatedResult, error) {
	if page < 1 {
		return nil, domain.ErrValidation("page must be >= 1, got %d", page)
	}
	if pageSize < 1 {
		return nil, domain.ErrValidation("pageSize must be >= 1, got %d", pageSize)
	}

	compiled, err := s.compiler.Compile(def, params)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	total, err := s.warehouse.Count(qctx, compiled.CountSQL(), compiled.Args)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * pageSize
	data, err := s.warehouse.Execute(qctx, compiled.PageSQL(pageSize, offset), compiled.Args)
	if err != nil {
		return nil, err
	}

	pageCount := (total + int64(pageSize) - 1) / int64(pageSize)
	return &domain.PaginatedResult{
		Data:      data,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		PageCount: pageCount,
	}, nil
}

// ExecuteStream compiles a definition and returns a lazy row cursor. Results
// never enter the cache; cancellation of ctx stops the scan.
func (s *Service) ExecuteStream(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters) (domain.RowIterator, error) {
	compiled, err := s.compiler.Compile(def, params)
	if err != nil {
		return nil, err
	}
	return s.warehouse.Stream(ctx, compiled.SQL(), compiled.Args)
}

// Invalidate removes all cached entries matching the given pattern and
// returns how many were deleted.
func (s *Service) Invalidate(ctx context.Context, pattern string) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	keys, err := s.cache.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Service) runWarehouse(ctx context.Context, compiled *compiler.CompiledQuery) (*domain.QueryResult, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.warehouse.Execute(qctx, compiled.SQL(), compiled.Args)
}

// cacheGet returns the cached result for key, or nil on miss. Store errors
// degrade to a miss so the warehouse stays reachable during cache outages.
func (s *Service) cacheGet(ctx context.Context, key string) *domain.QueryResult {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed, querying warehouse", "key", key, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var cached domain.CachedResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil
	}
	return cached.Result()
}

func (s *Service) cacheSet(ctx context.Context, key string, res *domain.QueryResult) {
	entry := domain.CachedResult{
		Columns:     res.Columns,
		Rows:        res.Rows,
		GeneratedAt: time.Now().UTC(),
		TTLSeconds:  int64(s.cfg.CacheTTL / time.Second),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("cache entry serialization failed", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
