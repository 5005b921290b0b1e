package domain

import (
	"strings"
	"time"
)

// ExportFormat identifies an artifact file format.
type ExportFormat string

// Supported export formats.
const (
	FormatCSV   ExportFormat = "csv"
	FormatExcel ExportFormat = "xlsx"
	FormatPDF   ExportFormat = "pdf"
	FormatJSON  ExportFormat = "json"
)

// ValidExportFormat reports whether f is a member of the closed format set.
func ValidExportFormat(f ExportFormat) bool {
	switch f {
	case FormatCSV, FormatExcel, FormatPDF, FormatJSON:
		return true
	}
	return false
}

// MimeType returns the download content type for the format.
func (f ExportFormat) MimeType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// ExportStatus is the lifecycle state of an export job.
type ExportStatus string

// Export job lifecycle statuses. Transitions are forward-only:
// PENDING → PROCESSING → {COMPLETED, FAILED}; COMPLETED → EXPIRED
// (time-triggered only). FAILED is terminal.
const (
	ExportStatusPending    ExportStatus = "PENDING"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusCompleted  ExportStatus = "COMPLETED"
	ExportStatusFailed     ExportStatus = "FAILED"
	ExportStatusExpired    ExportStatus = "EXPIRED"
)

// ExportSpec is the caller-supplied request to create an export job.
// Exactly one of QueryID/ReportID must be set.
type ExportSpec struct {
	Format     ExportFormat      `json:"format"`
	QueryID    string            `json:"queryId,omitempty"`
	ReportID   string            `json:"reportId,omitempty"`
	FileName   string            `json:"fileName"`
	Parameters RuntimeParameters `json:"parameters,omitempty"`
	CreatedBy  string            `json:"createdBy,omitempty"`
}

// Validate checks the spec invariants before any job record is created.
func (s *ExportSpec) Validate() error {
	if !ValidExportFormat(s.Format) {
		return &UnsupportedFormatError{Format: string(s.Format)}
	}
	hasQuery := strings.TrimSpace(s.QueryID) != ""
	hasReport := strings.TrimSpace(s.ReportID) != ""
	if hasQuery == hasReport {
		return ErrValidation("exactly one of queryId or reportId must be set")
	}
	if strings.TrimSpace(s.FileName) == "" {
		return ErrValidation("fileName must not be empty")
	}
	return nil
}

// ExportJob is the durable record tracking the lifecycle of turning query or
// report results into a downloadable artifact.
type ExportJob struct {
	ID         string            `json:"id"`
	Format     ExportFormat      `json:"format"`
	QueryID    string            `json:"queryId,omitempty"`
	ReportID   string            `json:"reportId,omitempty"`
	FileName   string            `json:"fileName"`
	Parameters RuntimeParameters `json:"parameters,omitempty"`
	Status     ExportStatus      `json:"status"`
	FilePath   string            `json:"filePath,omitempty"`
	FileURL    string            `json:"fileUrl,omitempty"`
	RowCount   int64             `json:"rowCount"`
	FileSize   int64             `json:"fileSize"`
	Error      string            `json:"error,omitempty"`
	CreatedBy  string            `json:"createdBy,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// Expired reports whether a COMPLETED job's artifact retention has lapsed.
func (j *ExportJob) Expired(now time.Time) bool {
	return j.Status == ExportStatusCompleted && now.After(j.ExpiresAt)
}

// ExportArtifact is the downloadable view of a COMPLETED job.
type ExportArtifact struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}
