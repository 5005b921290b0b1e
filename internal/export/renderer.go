// Package export turns query results into downloadable artifacts and runs
// the job pipeline around them: a durable job record, an in-process worker
// pool, and a retention sweep for finished artifacts.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"

	"freight-insights/internal/domain"
)

// RenderSpec carries the per-job rendering options shared by all formats.
type RenderSpec struct {
	// Title appears in document metadata and, for PDF, as the page heading.
	Title string
	// Delimiter separates CSV cells. Zero means comma.
	Delimiter rune
	// OmitHeader suppresses the column header row where the format has one.
	OmitHeader bool
	// CreatedBy is recorded in document metadata when the format supports it.
	CreatedBy string
}

// Renderer writes one artifact format. Implementations consume the iterator
// fully and report how many data rows they wrote.
type Renderer interface {
	Render(ctx context.Context, w io.Writer, rows domain.RowIterator, spec RenderSpec) (int64, error)
}

// RendererFor maps a format to its renderer. The format set is closed:
// anything else is an UnsupportedFormatError, raised before any job state
// changes.
func RendererFor(format domain.ExportFormat) (Renderer, error) {
	switch format {
	case domain.FormatCSV:
		return &csvRenderer{}, nil
	case domain.FormatExcel:
		return &excelRenderer{}, nil
	case domain.FormatPDF:
		return &pdfRenderer{}, nil
	case domain.FormatJSON:
		return &jsonRenderer{}, nil
	default:
		return nil, &domain.UnsupportedFormatError{Format: string(format)}
	}
}

// columnTitle turns a result column name into a human heading:
// "pickupDate" and "pickup_date" both become "Pickup Date".
func columnTitle(name string) string {
	if name == "" {
		return ""
	}
	var b strings.Builder
	newWord := true
	for i, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.' || r == ' ':
			b.WriteRune(' ')
			newWord = true
		case unicode.IsUpper(r) && i > 0:
			b.WriteRune(' ')
			b.WriteRune(r)
			newWord = false
		case newWord:
			b.WriteRune(unicode.ToUpper(r))
			newWord = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// cellString formats a cell value for text-oriented formats.
func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
