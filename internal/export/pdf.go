package export

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"

	"freight-insights/internal/domain"
)

const (
	pdfMargin    = 10.0
	pdfRowHeight = 7.0
	pdfMaxCell   = 60 // characters before truncation
)

// pdfRenderer produces a landscape table: title block, repeated header row
// on every page, and a page-numbered footer. Empty results render a
// placeholder line instead of a bare table.
type pdfRenderer struct{}

func (r *pdfRenderer) Render(ctx context.Context, w io.Writer, rows domain.RowIterator, spec RenderSpec) (int64, error) {
	columns := rows.Columns()

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin+pdfRowHeight)
	pdf.SetTitle(spec.Title, false)
	pdf.SetAuthor(spec.CreatedBy, false)
	pdf.SetCreationDate(time.Now())

	pdf.SetFooterFunc(func() {
		pdf.SetY(-pdfMargin - 2)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()),
			"", 0, "C", false, 0, "")
	})
	pdf.AliasNbPages("")

	pageWidth, _ := pdf.GetPageSize()
	usable := pageWidth - 2*pdfMargin
	colWidth := usable
	if len(columns) > 0 {
		colWidth = usable / float64(len(columns))
	}

	writeHeader := func() {
		if spec.OmitHeader {
			return
		}
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(68, 114, 196)
		pdf.SetTextColor(255, 255, 255)
		for _, c := range columns {
			pdf.CellFormat(colWidth, pdfRowHeight, truncate(columnTitle(c), pdfMaxCell),
				"1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.SetHeaderFunc(func() {
		if spec.Title != "" && pdf.PageNo() == 1 {
			pdf.SetFont("Helvetica", "B", 14)
			pdf.CellFormat(0, 10, spec.Title, "", 1, "L", false, 0, "")
			pdf.Ln(2)
		}
		writeHeader()
	})
	pdf.AddPage()

	var count int64
	fill := false
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		row := rows.Row()
		pdf.SetFillColor(240, 244, 250)
		for i := range columns {
			var v interface{}
			if i < len(row) {
				v = row[i]
			}
			pdf.CellFormat(colWidth, pdfRowHeight, truncate(cellString(v), pdfMaxCell),
				"1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
		fill = !fill
		count++
	}
	if err := rows.Err(); err != nil {
		return count, domain.ErrRender(err, "read rows for pdf")
	}

	if count == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, pdfRowHeight, "No data available", "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return count, domain.ErrRender(err, "write pdf")
	}
	return count, nil
}

// truncate cuts on rune boundaries so multi-byte characters never end up
// split into an invalid sequence.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
