package export

import (
	"context"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "freight-insights/internal/db"
	"freight-insights/internal/db/repository"
	"freight-insights/internal/domain"
)

type fakeRowSource struct {
	rows domain.RowIterator
	err  error
}

func (s *fakeRowSource) ExecuteStream(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters) (domain.RowIterator, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

type managerFixture struct {
	manager *Manager
	jobs    *repository.ExportJobRepo
	queryID string
	source  *fakeRowSource
}

func setupManager(t *testing.T) *managerFixture {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	queries := repository.NewQueryRepo(writeDB, readDB)
	jobs := repository.NewExportJobRepo(writeDB, readDB)

	def, err := queries.Create(context.Background(), &domain.QueryDefinition{
		Name:       "delivered-loads",
		Type:       domain.QueryTypeTable,
		Collection: "loads",
		Fields:     []domain.QueryField{{Expr: "id"}, {Expr: "status"}},
	})
	require.NoError(t, err)

	source := &fakeRowSource{rows: loadRows()}
	manager := NewManager(jobs, queries, source, nil, nil, ManagerConfig{
		ArtifactRoot: t.TempDir(),
		Retention:    time.Hour,
	}, nil)
	return &managerFixture{manager: manager, jobs: jobs, queryID: def.ID, source: source}
}

func (f *managerFixture) spec(format domain.ExportFormat) domain.ExportSpec {
	return domain.ExportSpec{
		Format:   format,
		QueryID:  f.queryID,
		FileName: "delivered loads",
	}
}

func TestManager_CreateValidates(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, domain.ExportSpec{Format: "parquet", QueryID: f.queryID, FileName: "x"})
	var uerr *domain.UnsupportedFormatError
	require.ErrorAs(t, err, &uerr)

	_, err = f.manager.Create(ctx, domain.ExportSpec{Format: domain.FormatCSV, FileName: "x"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.manager.Create(ctx, domain.ExportSpec{Format: domain.FormatCSV, QueryID: "missing", FileName: "x"})
	var nerr *domain.NotFoundError
	require.ErrorAs(t, err, &nerr)

	// No job record survives a rejected create.
	jobsList, total, err := f.manager.ListJobs(ctx, domain.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, jobsList)
}

func TestManager_CreateAndProcess(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	job, err := f.manager.CreateAndProcess(ctx, f.spec(domain.FormatCSV))
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusCompleted, job.Status)
	assert.Equal(t, int64(2), job.RowCount)
	assert.Positive(t, job.FileSize)

	info, err := os.Stat(job.FilePath)
	require.NoError(t, err)
	assert.Equal(t, job.FileSize, info.Size())

	art, err := f.manager.Artifact(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "delivered_loads.csv", art.FileName)
	assert.Equal(t, "text/csv", art.MimeType)
	assert.Equal(t, job.FilePath, art.FilePath)
}

func TestManager_ProcessFailureMarksFailed(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	f.source.err = domain.ErrQueryExecution(nil, "warehouse unavailable")

	job, err := f.manager.CreateAndProcess(ctx, f.spec(domain.FormatCSV))
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusFailed, job.Status)
	assert.Contains(t, job.Error, "warehouse unavailable")
	assert.Empty(t, job.FilePath)

	// A failed job has no artifact.
	_, err = f.manager.Artifact(ctx, job.ID)
	var cerr *domain.ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestManager_ProcessIsSingleWinner(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	job, err := f.manager.Create(ctx, f.spec(domain.FormatJSON))
	require.NoError(t, err)

	done, err := f.manager.Process(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusCompleted, done.Status)

	_, err = f.manager.Process(ctx, job.ID)
	var aerr *domain.AlreadyProcessingError
	require.ErrorAs(t, err, &aerr)
}

func TestManager_ArtifactNotReady(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	job, err := f.manager.Create(ctx, f.spec(domain.FormatCSV))
	require.NoError(t, err)

	_, err = f.manager.Artifact(ctx, job.ID)
	var cerr *domain.ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestManager_ArtifactExpiresLazily(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	job, err := f.manager.CreateAndProcess(ctx, f.spec(domain.FormatCSV))
	require.NoError(t, err)

	// Retention lapses before the sweeper has run.
	f.manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = f.manager.Artifact(ctx, job.ID)
	var nerr *domain.NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestManager_Sweep(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	job, err := f.manager.CreateAndProcess(ctx, f.spec(domain.FormatCSV))
	require.NoError(t, err)

	// Nothing lapsed yet.
	swept, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	f.manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	swept, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := f.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusExpired, got.Status)

	_, err = os.Stat(job.FilePath)
	assert.True(t, os.IsNotExist(err))

	// A second sweep finds nothing.
	swept, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestManager_DeleteJobRemovesArtifact(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	job, err := f.manager.CreateAndProcess(ctx, f.spec(domain.FormatCSV))
	require.NoError(t, err)

	require.NoError(t, f.manager.DeleteJob(ctx, job.ID))

	_, err = os.Stat(job.FilePath)
	assert.True(t, os.IsNotExist(err))

	var nerr *domain.NotFoundError
	_, err = f.manager.GetJob(ctx, job.ID)
	require.ErrorAs(t, err, &nerr)
}

func TestManager_ReportExportsUnconfigured(t *testing.T) {
	f := setupManager(t)

	_, err := f.manager.Create(context.Background(), domain.ExportSpec{
		Format:   domain.FormatCSV,
		ReportID: "r1",
		FileName: "report",
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
