package export

import (
	"context"
	"encoding/csv"
	"io"

	"freight-insights/internal/domain"
)

// csvRenderer streams rows through encoding/csv, one record at a time, so
// large result sets never materialize in memory.
type csvRenderer struct{}

func (r *csvRenderer) Render(ctx context.Context, w io.Writer, rows domain.RowIterator, spec RenderSpec) (int64, error) {
	cw := csv.NewWriter(w)
	if spec.Delimiter != 0 {
		cw.Comma = spec.Delimiter
	}

	columns := rows.Columns()
	if !spec.OmitHeader {
		header := make([]string, len(columns))
		for i, c := range columns {
			header[i] = columnTitle(c)
		}
		if err := cw.Write(header); err != nil {
			return 0, domain.ErrRender(err, "write csv header")
		}
	}

	var count int64
	record := make([]string, len(columns))
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		row := rows.Row()
		for i := range record {
			if i < len(row) {
				record[i] = cellString(row[i])
			} else {
				record[i] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return count, domain.ErrRender(err, "write csv row %d", count+1)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, domain.ErrRender(err, "read rows for csv")
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, domain.ErrRender(err, "flush csv")
	}
	return count, nil
}
