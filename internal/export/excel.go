package export

import (
	"context"
	"io"

	"github.com/xuri/excelize/v2"

	"freight-insights/internal/domain"
)

const (
	excelSheet    = "Sheet1"
	minColWidth   = 12.0
	maxColWidth   = 48.0
	widthPerChar  = 1.2
	widthPadding  = 4.0
	maxSampleRows = 50
)

// excelRenderer produces a styled workbook: bold filled header, frozen top
// row, filterable columns, and widths sized to the sampled content.
type excelRenderer struct{}

func (r *excelRenderer) Render(ctx context.Context, w io.Writer, rows domain.RowIterator, spec RenderSpec) (int64, error) {
	f := excelize.NewFile()
	defer f.Close()

	columns := rows.Columns()

	// StreamWriter requires widths before any row, so buffer a sample
	// first and size columns from it.
	var buffered [][]interface{}
	for len(buffered) < maxSampleRows && rows.Next() {
		row := rows.Row()
		copied := make([]interface{}, len(row))
		copy(copied, row)
		buffered = append(buffered, copied)
	}
	if err := rows.Err(); err != nil {
		return 0, domain.ErrRender(err, "read rows for excel")
	}

	sw, err := f.NewStreamWriter(excelSheet)
	if err != nil {
		return 0, domain.ErrRender(err, "open stream writer")
	}
	for i, width := range columnWidths(columns, buffered) {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			return 0, domain.ErrRender(err, "set column width")
		}
	}

	// Panes must go through the stream writer before the first row;
	// worksheet mutations after Flush are discarded on write.
	if !spec.OmitHeader {
		if err := sw.SetPanes(&excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return 0, domain.ErrRender(err, "freeze header row")
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return 0, domain.ErrRender(err, "create header style")
	}

	rowNum := 1
	if !spec.OmitHeader {
		header := make([]interface{}, len(columns))
		for i, c := range columns {
			header[i] = excelize.Cell{StyleID: headerStyle, Value: columnTitle(c)}
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := sw.SetRow(cell, header); err != nil {
			return 0, domain.ErrRender(err, "write excel header")
		}
		rowNum++
	}

	var count int64
	writeRow := func(row []interface{}) error {
		cells := make([]interface{}, len(columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := sw.SetRow(cell, cells); err != nil {
			return domain.ErrRender(err, "write excel row %d", count+1)
		}
		rowNum++
		count++
		return nil
	}

	for _, row := range buffered {
		if err := writeRow(row); err != nil {
			return count, err
		}
	}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := writeRow(rows.Row()); err != nil {
			return count, err
		}
	}
	if err := rows.Err(); err != nil {
		return count, domain.ErrRender(err, "read rows for excel")
	}

	// The table supplies the header filter buttons. It reads column names
	// from the rows already written, so it must come after them and needs
	// at least one data row under the header.
	if !spec.OmitHeader && len(columns) > 0 && count > 0 {
		last, _ := excelize.CoordinatesToCellName(len(columns), rowNum-1)
		if err := sw.AddTable(&excelize.Table{Range: "A1:" + last}); err != nil {
			return count, domain.ErrRender(err, "add filter table")
		}
	}

	if err := sw.Flush(); err != nil {
		return count, domain.ErrRender(err, "flush excel stream")
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   spec.Title,
		Creator: spec.CreatedBy,
	}); err != nil {
		return count, domain.ErrRender(err, "set document properties")
	}

	if err := f.Write(w); err != nil {
		return count, domain.ErrRender(err, "write workbook")
	}
	return count, nil
}

// columnWidths sizes each column to the longest of its title and sampled
// cell values, clamped to a readable range.
func columnWidths(columns []string, sample [][]interface{}) []float64 {
	widths := make([]float64, len(columns))
	for i, c := range columns {
		widths[i] = float64(len(columnTitle(c)))
	}
	for _, row := range sample {
		for i := range columns {
			if i >= len(row) {
				continue
			}
			if l := float64(len(cellString(row[i]))); l > widths[i] {
				widths[i] = l
			}
		}
	}
	for i := range widths {
		w := widths[i]*widthPerChar + widthPadding
		if w < minColWidth {
			w = minColWidth
		}
		if w > maxColWidth {
			w = maxColWidth
		}
		widths[i] = w
	}
	return widths
}
