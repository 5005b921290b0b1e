package export

import (
	"context"
	"encoding/json"
	"io"

	"freight-insights/internal/domain"
)

// jsonRenderer writes an array of objects keyed by column name, streaming
// one row per encode call.
type jsonRenderer struct{}

func (r *jsonRenderer) Render(ctx context.Context, w io.Writer, rows domain.RowIterator, spec RenderSpec) (int64, error) {
	columns := rows.Columns()

	if _, err := io.WriteString(w, "[\n"); err != nil {
		return 0, domain.ErrRender(err, "write json opening")
	}

	enc := json.NewEncoder(w)
	var count int64
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if count > 0 {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return count, domain.ErrRender(err, "write json separator")
			}
		}
		row := rows.Row()
		obj := make(map[string]interface{}, len(columns))
		for i, c := range columns {
			if i < len(row) {
				obj[c] = row[i]
			} else {
				obj[c] = nil
			}
		}
		if err := enc.Encode(obj); err != nil {
			return count, domain.ErrRender(err, "encode json row %d", count+1)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, domain.ErrRender(err, "read rows for json")
	}

	if _, err := io.WriteString(w, "]\n"); err != nil {
		return count, domain.ErrRender(err, "write json closing")
	}
	return count, nil
}
