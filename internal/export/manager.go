package export

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"freight-insights/internal/domain"
)

// DefaultRetention is how long a COMPLETED artifact stays downloadable.
const DefaultRetention = 24 * time.Hour

// RowSource supplies the rows behind a queryId-based export. The query
// service satisfies it.
type RowSource interface {
	ExecuteStream(ctx context.Context, def *domain.QueryDefinition, params domain.RuntimeParameters) (domain.RowIterator, error)
}

// ManagerConfig carries the tunables of the export pipeline.
type ManagerConfig struct {
	// ArtifactRoot is the local directory artifacts are written under.
	ArtifactRoot string
	// Retention is the artifact lifetime after completion.
	Retention time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.ArtifactRoot == "" {
		c.ArtifactRoot = filepath.Join(os.TempDir(), "exports")
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// Manager owns the export job lifecycle: creating PENDING jobs, processing
// them through a renderer, and expiring finished artifacts.
type Manager struct {
	jobs    domain.ExportJobRepository
	queries domain.QueryRepository
	source  RowSource
	reports domain.ReportSource  // nil disables reportId exports
	uploads domain.ArtifactStore // nil keeps artifacts local only
	cfg     ManagerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates an export Manager. reports and uploads may be nil.
func NewManager(jobs domain.ExportJobRepository, queries domain.QueryRepository, source RowSource, reports domain.ReportSource, uploads domain.ArtifactStore, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:    jobs,
		queries: queries,
		source:  source,
		reports: reports,
		uploads: uploads,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// Create validates the spec and records a PENDING job. The renderer and the
// referenced query are resolved up front so an invalid request never leaves
// a job behind.
func (m *Manager) Create(ctx context.Context, spec domain.ExportSpec) (*domain.ExportJob, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if _, err := RendererFor(spec.Format); err != nil {
		return nil, err
	}
	if spec.QueryID != "" {
		if _, err := m.queries.GetByID(ctx, spec.QueryID); err != nil {
			return nil, err
		}
	} else if m.reports == nil {
		return nil, domain.ErrValidation("reportId exports are not configured")
	}

	job := &domain.ExportJob{
		Format:     spec.Format,
		QueryID:    spec.QueryID,
		ReportID:   spec.ReportID,
		FileName:   spec.FileName,
		Parameters: spec.Parameters,
		Status:     domain.ExportStatusPending,
		CreatedBy:  spec.CreatedBy,
		ExpiresAt:  m.now().Add(m.cfg.Retention),
	}
	return m.jobs.Create(ctx, job)
}

// Process runs one PENDING job to a terminal state. Query or render
// failures are captured on the job as FAILED and do not error the call;
// only infrastructure problems (missing job, a lost PENDING→PROCESSING
// swap, metastore errors) do.
func (m *Manager) Process(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	job, err := m.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Resolve the renderer before touching job state.
	renderer, err := RendererFor(job.Format)
	if err != nil {
		return nil, err
	}

	if err := m.jobs.MarkProcessing(ctx, jobID); err != nil {
		return nil, err
	}

	rows, err := m.openRows(ctx, job)
	if err != nil {
		return m.fail(ctx, job, err)
	}
	defer rows.Close()

	path := artifactPath(m.cfg.ArtifactRoot, job.ID, job.FileName, job.Format, m.now())
	count, size, err := m.renderToFile(ctx, renderer, rows, job, path)
	if err != nil {
		return m.fail(ctx, job, err)
	}

	var url string
	if m.uploads != nil {
		url, err = m.uploads.Upload(ctx, path, downloadName(job.FileName, job.Format))
		if err != nil {
			// The local artifact is intact, so an upload failure only
			// loses the remote copy.
			m.logger.Warn("artifact upload failed, keeping local copy",
				"job_id", job.ID, "path", path, "error", err)
			url = ""
		}
	}

	if err := m.jobs.MarkCompleted(ctx, jobID, path, url, count, size); err != nil {
		return nil, err
	}
	m.logger.Info("export completed",
		"job_id", job.ID, "format", string(job.Format), "rows", count, "bytes", size)
	return m.jobs.GetByID(ctx, jobID)
}

// CreateAndProcess is the synchronous path: the caller gets a terminal job,
// never a PROCESSING one.
func (m *Manager) CreateAndProcess(ctx context.Context, spec domain.ExportSpec) (*domain.ExportJob, error) {
	job, err := m.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	return m.Process(ctx, job.ID)
}

// GetJob returns a job by ID.
func (m *Manager) GetJob(ctx context.Context, id string) (*domain.ExportJob, error) {
	return m.jobs.GetByID(ctx, id)
}

// ListJobs returns a page of jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context, page domain.PageRequest) ([]domain.ExportJob, int64, error) {
	return m.jobs.List(ctx, page)
}

// DeleteJob removes a job record and its artifact file.
func (m *Manager) DeleteJob(ctx context.Context, id string) error {
	job, err := m.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.jobs.Delete(ctx, id); err != nil {
		return err
	}
	m.removeArtifact(job)
	return nil
}

// Artifact returns the downloadable view of a COMPLETED job. Jobs that are
// not finished yet or that failed are a conflict; lapsed retention is
// reported as not found even before the sweeper runs.
func (m *Manager) Artifact(ctx context.Context, id string) (*domain.ExportArtifact, error) {
	job, err := m.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.ExportStatusPending, domain.ExportStatusProcessing:
		return nil, domain.ErrConflict("export job %q is not finished", id)
	case domain.ExportStatusFailed:
		return nil, domain.ErrConflict("export job %q failed: %s", id, job.Error)
	case domain.ExportStatusExpired:
		return nil, domain.ErrNotFound("artifact for export job %q has expired", id)
	}
	if job.Expired(m.now()) {
		return nil, domain.ErrNotFound("artifact for export job %q has expired", id)
	}
	return &domain.ExportArtifact{
		FilePath: job.FilePath,
		FileName: downloadName(job.FileName, job.Format),
		MimeType: job.Format.MimeType(),
	}, nil
}

// Sweep expires every COMPLETED job whose retention lapsed, deleting the
// artifact file first. Returns how many jobs were expired.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.jobs.ListExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	var swept int
	for i := range expired {
		job := &expired[i]
		m.removeArtifact(job)
		if err := m.jobs.MarkExpired(ctx, job.ID); err != nil {
			m.logger.Warn("marking job expired failed", "job_id", job.ID, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		m.logger.Info("expired artifacts swept", "count", swept)
	}
	return swept, nil
}

func (m *Manager) openRows(ctx context.Context, job *domain.ExportJob) (domain.RowIterator, error) {
	if job.QueryID != "" {
		def, err := m.queries.GetByID(ctx, job.QueryID)
		if err != nil {
			return nil, err
		}
		return m.source.ExecuteStream(ctx, def, job.Parameters)
	}
	if m.reports == nil {
		return nil, domain.ErrValidation("reportId exports are not configured")
	}
	res, err := m.reports.Rows(ctx, job.ReportID, job.Parameters)
	if err != nil {
		return nil, err
	}
	return domain.NewSliceIterator(res.Columns, res.Rows), nil
}

// renderToFile writes the artifact, removing the partial file on failure.
func (m *Manager) renderToFile(ctx context.Context, renderer Renderer, rows domain.RowIterator, job *domain.ExportJob, path string) (int64, int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, 0, domain.ErrRender(err, "create artifact directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, 0, domain.ErrRender(err, "create artifact file")
	}

	count, rerr := renderer.Render(ctx, f, rows, RenderSpec{
		Title:     job.FileName,
		CreatedBy: job.CreatedBy,
	})
	cerr := f.Close()
	if rerr == nil {
		rerr = cerr
	}
	if rerr != nil {
		_ = os.Remove(path)
		return 0, 0, rerr
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, domain.ErrRender(err, "stat artifact file")
	}
	return count, info.Size(), nil
}

// fail records the error on the job and returns the FAILED record. The
// processing error travels in the job, not the return value. The terminal
// transition uses a detached context so a canceled export still lands in
// FAILED instead of being stranded in PROCESSING.
func (m *Manager) fail(ctx context.Context, job *domain.ExportJob, cause error) (*domain.ExportJob, error) {
	m.logger.Error("export failed",
		"job_id", job.ID, "format", string(job.Format), "error", cause)
	ctx = context.WithoutCancel(ctx)
	if err := m.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		return nil, err
	}
	return m.jobs.GetByID(ctx, job.ID)
}

func (m *Manager) removeArtifact(job *domain.ExportJob) {
	if job.FilePath == "" {
		return
	}
	if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("artifact file removal failed",
			"job_id", job.ID, "path", job.FilePath, "error", err)
	}
}
