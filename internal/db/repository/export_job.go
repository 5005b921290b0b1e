package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"freight-insights/internal/domain"
)

// Compile-time check.
var _ domain.ExportJobRepository = (*ExportJobRepo)(nil)

// ExportJobRepo stores export jobs in the SQLite metastore and owns their
// status transitions. Reads go through the concurrent read pool, writes and
// the status compare-and-swap through the single-connection write pool.
type ExportJobRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewExportJobRepo creates a new ExportJobRepo.
func NewExportJobRepo(write, read *sql.DB) *ExportJobRepo {
	return &ExportJobRepo{write: write, read: read}
}

const exportColumns = `id, format, query_id, report_id, file_name, parameters,
	status, file_path, file_url, row_count, file_size, error,
	created_by, created_at, updated_at, expires_at`

// Create inserts a new job. Status and timestamps come from the job value,
// so the manager controls the initial PENDING state and expiry.
func (r *ExportJobRepo) Create(ctx context.Context, job *domain.ExportJob) (*domain.ExportJob, error) {
	id := job.ID
	if id == "" {
		id = newID()
	}
	now := formatTime(time.Now())
	_, err := r.write.ExecContext(ctx, `
		INSERT INTO export_jobs (id, format, query_id, report_id, file_name,
			parameters, status, created_by, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(job.Format), job.QueryID, job.ReportID, job.FileName,
		marshalJSON(job.Parameters), string(job.Status),
		job.CreatedBy, now, now, formatTime(job.ExpiresAt),
	)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, id)
}

// GetByID returns a job by its ID.
func (r *ExportJobRepo) GetByID(ctx context.Context, id string) (*domain.ExportJob, error) {
	row := r.read.QueryRowContext(ctx,
		`SELECT `+exportColumns+` FROM export_jobs WHERE id = ?`, id)
	job, err := scanExportJob(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return job, nil
}

// List returns a page of jobs, newest first.
func (r *ExportJobRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.ExportJob, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM export_jobs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT `+exportColumns+` FROM export_jobs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs, err := collectExportJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// MarkProcessing is the PENDING→PROCESSING compare-and-swap. When the job is
// not PENDING the swap fails: AlreadyProcessingError for a live job,
// NotFoundError when no such job exists.
func (r *ExportJobRepo) MarkProcessing(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `
		UPDATE export_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.ExportStatusProcessing), formatTime(time.Now()),
		id, string(domain.ExportStatusPending),
	)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return &domain.AlreadyProcessingError{JobID: id}
	}
	return nil
}

// MarkCompleted records artifact metadata and moves the job to COMPLETED.
func (r *ExportJobRepo) MarkCompleted(ctx context.Context, id string, filePath, fileURL string, rowCount, fileSize int64) error {
	return r.transition(ctx, id, `
		UPDATE export_jobs SET status = ?, file_path = ?, file_url = ?,
			row_count = ?, file_size = ?, updated_at = ?
		WHERE id = ?`,
		string(domain.ExportStatusCompleted), filePath, fileURL,
		rowCount, fileSize, formatTime(time.Now()), id)
}

// MarkFailed records the captured error and moves the job to FAILED.
func (r *ExportJobRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.transition(ctx, id, `
		UPDATE export_jobs SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(domain.ExportStatusFailed), errMsg, formatTime(time.Now()), id)
}

// MarkExpired moves a COMPLETED job to EXPIRED.
func (r *ExportJobRepo) MarkExpired(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE export_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.ExportStatusExpired), formatTime(time.Now()),
		id, string(domain.ExportStatusCompleted))
}

func (r *ExportJobRepo) transition(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := r.write.ExecContext(ctx, query, args...)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("export job %q not found", id)
	}
	return nil
}

// ListExpired returns COMPLETED jobs whose retention lapsed before now.
func (r *ExportJobRepo) ListExpired(ctx context.Context, now time.Time) ([]domain.ExportJob, error) {
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+exportColumns+` FROM export_jobs WHERE status = ? AND expires_at < ?`,
		string(domain.ExportStatusCompleted), formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExportJobs(rows)
}

// ListPending returns PENDING jobs, oldest first, for startup recovery.
func (r *ExportJobRepo) ListPending(ctx context.Context) ([]domain.ExportJob, error) {
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+exportColumns+` FROM export_jobs WHERE status = ? ORDER BY created_at, id`,
		string(domain.ExportStatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExportJobs(rows)
}

// Delete removes a job record. Returns NotFoundError if no such job exists.
func (r *ExportJobRepo) Delete(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `DELETE FROM export_jobs WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("export job %q not found", id)
	}
	return nil
}

func collectExportJobs(rows *sql.Rows) ([]domain.ExportJob, error) {
	jobs := make([]domain.ExportJob, 0)
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanExportJob(row rowScanner) (*domain.ExportJob, error) {
	var (
		job                             domain.ExportJob
		format, status, params          string
		createdAt, updatedAt, expiresAt string
	)
	err := row.Scan(&job.ID, &format, &job.QueryID, &job.ReportID, &job.FileName,
		&params, &status, &job.FilePath, &job.FileURL, &job.RowCount, &job.FileSize,
		&job.Error, &job.CreatedBy, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	job.Format = domain.ExportFormat(format)
	job.Status = domain.ExportStatus(status)
	_ = json.Unmarshal([]byte(params), &job.Parameters)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	job.ExpiresAt = parseTime(expiresAt)
	return &job, nil
}
