package domain

import (
	"context"
	"time"
)

// Warehouse executes compiled SQL against the analytical store. It never
// opens ad hoc connections; the pool is owned by the implementation.
type Warehouse interface {
	// Execute runs a query and materializes all rows.
	Execute(ctx context.Context, query string, args []interface{}) (*QueryResult, error)
	// Stream runs a query and returns a lazy cursor over its rows.
	Stream(ctx context.Context, query string, args []interface{}) (RowIterator, error)
	// Count runs a COUNT query and returns its single integer result.
	Count(ctx context.Context, query string, args []interface{}) (int64, error)
}

// CacheStore is an external TTL key/value store shared by all callers.
// Get returns (nil, nil) on a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// ReportSource supplies pre-aggregated rows for reportId-based exports.
// Report orchestration itself lives outside this core.
type ReportSource interface {
	Rows(ctx context.Context, reportID string, params RuntimeParameters) (*QueryResult, error)
}

// ArtifactStore optionally persists rendered artifacts beyond local disk.
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, name string) (url string, err error)
}

// QueryRepository stores query definitions durably.
type QueryRepository interface {
	Create(ctx context.Context, def *QueryDefinition) (*QueryDefinition, error)
	GetByID(ctx context.Context, id string) (*QueryDefinition, error)
	List(ctx context.Context, page PageRequest) ([]QueryDefinition, int64, error)
	Update(ctx context.Context, id string, req UpdateQueryRequest) (*QueryDefinition, error)
	Delete(ctx context.Context, id string) error
}

// ExportJobRepository stores export jobs durably and owns their status
// transitions. MarkProcessing is the PENDING→PROCESSING compare-and-swap:
// it returns AlreadyProcessingError when the job is not PENDING.
type ExportJobRepository interface {
	Create(ctx context.Context, job *ExportJob) (*ExportJob, error)
	GetByID(ctx context.Context, id string) (*ExportJob, error)
	List(ctx context.Context, page PageRequest) ([]ExportJob, int64, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, filePath, fileURL string, rowCount, fileSize int64) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkExpired(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]ExportJob, error)
	ListPending(ctx context.Context) ([]ExportJob, error)
	Delete(ctx context.Context, id string) error
}
