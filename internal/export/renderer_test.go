package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"freight-insights/internal/domain"
)

func loadRows() domain.RowIterator {
	return domain.NewSliceIterator(
		[]string{"loadId", "origin_city", "status", "revenue"},
		[][]interface{}{
			{"L-1", "Chicago", "DELIVERED", 1250.50},
			{"L-2", "Dallas", "DELIVERED", nil},
		},
	)
}

func TestRendererFor(t *testing.T) {
	for _, f := range []domain.ExportFormat{domain.FormatCSV, domain.FormatExcel, domain.FormatPDF, domain.FormatJSON} {
		r, err := RendererFor(f)
		require.NoError(t, err, string(f))
		require.NotNil(t, r)
	}

	_, err := RendererFor("parquet")
	var uerr *domain.UnsupportedFormatError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "parquet", uerr.Format)
}

func TestColumnTitle(t *testing.T) {
	assert.Equal(t, "Pickup Date", columnTitle("pickupDate"))
	assert.Equal(t, "Pickup Date", columnTitle("pickup_date"))
	assert.Equal(t, "Status", columnTitle("status"))
	assert.Equal(t, "", columnTitle(""))
}

func TestCSVRenderer(t *testing.T) {
	var buf bytes.Buffer
	count, err := (&csvRenderer{}).Render(context.Background(), &buf, loadRows(), RenderSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Load Id,Origin City,Status,Revenue", lines[0])
	assert.Equal(t, "L-1,Chicago,DELIVERED,1250.5", lines[1])
	// nil cells render empty.
	assert.Equal(t, "L-2,Dallas,DELIVERED,", lines[2])
}

func TestCSVRendererOptions(t *testing.T) {
	var buf bytes.Buffer
	count, err := (&csvRenderer{}).Render(context.Background(), &buf, loadRows(),
		RenderSpec{Delimiter: ';', OmitHeader: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "L-1;Chicago;DELIVERED;1250.5", lines[0])
}

func TestJSONRenderer(t *testing.T) {
	var buf bytes.Buffer
	count, err := (&jsonRenderer{}).Render(context.Background(), &buf, loadRows(), RenderSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "L-1", decoded[0]["loadId"])
	assert.Equal(t, "DELIVERED", decoded[0]["status"])
	assert.Nil(t, decoded[1]["revenue"])
}

func TestJSONRendererEmpty(t *testing.T) {
	var buf bytes.Buffer
	empty := domain.NewSliceIterator([]string{"id"}, nil)
	count, err := (&jsonRenderer{}).Render(context.Background(), &buf, empty, RenderSpec{})
	require.NoError(t, err)
	assert.Zero(t, count)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Empty(t, decoded)
}

func TestExcelRenderer(t *testing.T) {
	var buf bytes.Buffer
	count, err := (&excelRenderer{}).Render(context.Background(), &buf, loadRows(),
		RenderSpec{Title: "Delivered Loads", CreatedBy: "dispatcher"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(excelSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Load Id", "Origin City", "Status", "Revenue"}, rows[0])
	assert.Equal(t, "L-1", rows[1][0])
	assert.Equal(t, "DELIVERED", rows[2][2])

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, "Delivered Loads", props.Title)
	assert.Equal(t, "dispatcher", props.Creator)

	// Header row stays visible while scrolling and carries filter buttons.
	panes, err := f.GetPanes(excelSheet)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)
	assert.Equal(t, "A2", panes.TopLeftCell)

	tables, err := f.GetTables(excelSheet)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "A1:D3", tables[0].Range)
}

func TestPDFRenderer(t *testing.T) {
	var buf bytes.Buffer
	count, err := (&pdfRenderer{}).Render(context.Background(), &buf, loadRows(),
		RenderSpec{Title: "Delivered Loads"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "long…", truncate("longer", 5))

	// Multi-byte characters must not be split mid-sequence.
	got := truncate("Zürich–Genève–Lausanne", 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "Zürich–Ge…", got)
}

func TestPDFRendererEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	empty := domain.NewSliceIterator([]string{"id", "status"}, nil)
	count, err := (&pdfRenderer{}).Render(context.Background(), &buf, empty, RenderSpec{})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "q3_loads", SanitizeFileName("q3 loads"))
	assert.Equal(t, "etcpasswd", SanitizeFileName("../../etc/passwd"))
	assert.Equal(t, "report-2026.08", SanitizeFileName("report-2026.08"))
	assert.Equal(t, "export", SanitizeFileName("///"))
	assert.Equal(t, "export", SanitizeFileName(""))
}

func TestArtifactPath(t *testing.T) {
	now := mustParseTime(t, "2026-08-23T10:00:00Z")
	path := artifactPath("/data/exports", "job-1", "Q3 Loads", domain.FormatCSV, now)
	assert.Equal(t, "/data/exports/2026-08-23/job-1_Q3_Loads.csv", path)

	// A client-supplied extension is not duplicated.
	path = artifactPath("/data/exports", "job-2", "loads.csv", domain.FormatCSV, now)
	assert.Equal(t, "/data/exports/2026-08-23/job-2_loads.csv", path)
}

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "Q3_Loads.xlsx", downloadName("Q3 Loads", domain.FormatExcel))
	assert.Equal(t, "loads.csv", downloadName("loads.csv", domain.FormatCSV))
}
