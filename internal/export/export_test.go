package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/storage"
)

func fptr(v float64) *float64 { return &v }

func sampleRecords() []storage.AnalysisRecord {
	return []storage.AnalysisRecord{
		{
			ID:         "a1",
			URL:        "https://example.com/",
			Strategy:   report.StrategyMobile,
			AnalyzedAt: "2024-05-10T09:00:00.000Z",
			Scores:     report.Scores{Performance: 91, Accessibility: 88, BestPractices: 100, SEO: 97},
			WebVitals:  report.WebVitals{LCP: fptr(1800), INP: fptr(120), CLS: fptr(0.02)},
			Audits: []report.Audit{
				{ID: "render-blocking-resources", Category: report.CategoryPerformance, Impact: report.ImpactHigh},
				{ID: "color-contrast", Category: report.CategoryAccessibility, Impact: report.ImpactMedium},
			},
		},
		{
			ID:         "a2",
			URL:        "https://example.com/",
			Strategy:   report.StrategyDesktop,
			AnalyzedAt: "2024-05-11T09:00:00.000Z",
			Scores:     report.Scores{Performance: 40},
			WebVitals:  report.WebVitals{LCP: fptr(5200)},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("Parquet")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestRows(t *testing.T) {
	rows := Rows(sampleRecords())
	require.Len(t, rows, 2)

	assert.Equal(t, "a1", rows[0].ID)
	assert.Equal(t, int32(91), rows[0].Performance)
	assert.Equal(t, int32(2), rows[0].AuditCount)
	assert.Equal(t, "render-blocking-resources;color-contrast", rows[0].AuditIDs)
	assert.Equal(t, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC), rows[0].AnalyzedAt)

	assert.Nil(t, rows[1].INP)
	assert.Equal(t, "", rows[1].AuditIDs)
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, sampleRecords()))

	sc := bufio.NewScanner(&buf)
	var got []storage.AnalysisRecord
	for sc.Scan() {
		var rec storage.AnalysisRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		got = append(got, rec)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[1].ID)
	assert.Len(t, got[0].Audits, 2)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords()))

	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, csvHeader, lines[0])
	assert.Equal(t, []string{
		"a1", "https://example.com/", "mobile", "2024-05-10T09:00:00Z",
		"91", "88", "100", "97", "1800", "120", "0.02", "2",
		"render-blocking-resources;color-contrast",
	}, lines[1])
	assert.Equal(t, "", lines[2][9], "missing INP is an empty cell")
}

func TestWriteCSV_EmptyHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "id,url,strategy,analyzed_at,performance,accessibility,best_practices,seo,lcp_ms,inp_ms,cls,audit_count,audit_ids\n", buf.String())
}

func TestRowStructTags(t *testing.T) {
	schema := parquet.SchemaOf(new(Row))
	require.NotNil(t, schema)

	for _, col := range csvHeader {
		_, ok := schema.Lookup(col)
		assert.True(t, ok, "column %s should exist in schema", col)
	}
}

func TestWriteFile_ParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.parquet")
	require.NoError(t, WriteFile(path, FormatParquet, sampleRecords()))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	reader := parquet.NewGenericReader[Row](file)
	defer reader.Close()

	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	require.Equal(t, 2, n)

	assert.Equal(t, "a1", rows[0].ID)
	assert.Equal(t, int32(100), rows[0].BestPractices)
	require.NotNil(t, rows[0].CLS)
	assert.InDelta(t, 0.02, *rows[0].CLS, 1e-9)
	assert.Nil(t, rows[1].INP)
	assert.Nil(t, rows[1].CLS)
	require.NotNil(t, rows[1].LCP)
	assert.InDelta(t, 5200, *rows[1].LCP, 1e-9)
}

func TestWriteFile_InvalidPath(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "out.csv"), FormatCSV, sampleRecords())
	assert.Error(t, err)
}
