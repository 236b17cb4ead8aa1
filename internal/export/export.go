// Package export writes stored analysis history in portable formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/kalambet/pagedoctor/internal/storage"
)

// Format names an export encoding.
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates s. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSONL, FormatCSV, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want jsonl, csv or parquet)", s)
}

// Row is one analysis flattened to scalar columns. Audits are reduced to a
// count and their IDs.
type Row struct {
	ID            string    `parquet:"id,snappy"`
	URL           string    `parquet:"url,snappy,dict"`
	Strategy      string    `parquet:"strategy,snappy,dict"`
	AnalyzedAt    time.Time `parquet:"analyzed_at,snappy"`
	Performance   int32     `parquet:"performance,snappy"`
	Accessibility int32     `parquet:"accessibility,snappy"`
	BestPractices int32     `parquet:"best_practices,snappy"`
	SEO           int32     `parquet:"seo,snappy"`
	LCP           *float64  `parquet:"lcp_ms,optional,snappy"`
	INP           *float64  `parquet:"inp_ms,optional,snappy"`
	CLS           *float64  `parquet:"cls,optional,snappy"`
	AuditCount    int32     `parquet:"audit_count,snappy"`
	AuditIDs      string    `parquet:"audit_ids,snappy"`
}

var csvHeader = []string{
	"id", "url", "strategy", "analyzed_at",
	"performance", "accessibility", "best_practices", "seo",
	"lcp_ms", "inp_ms", "cls", "audit_count", "audit_ids",
}

// Rows flattens records. An unparseable AnalyzedAt becomes the zero time.
func Rows(records []storage.AnalysisRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		at, _ := time.Parse(time.RFC3339Nano, rec.AnalyzedAt)
		ids := make([]string, 0, len(rec.Audits))
		for _, a := range rec.Audits {
			ids = append(ids, a.ID)
		}
		rows = append(rows, Row{
			ID:            rec.ID,
			URL:           rec.URL,
			Strategy:      string(rec.Strategy),
			AnalyzedAt:    at.UTC(),
			Performance:   int32(rec.Scores.Performance),
			Accessibility: int32(rec.Scores.Accessibility),
			BestPractices: int32(rec.Scores.BestPractices),
			SEO:           int32(rec.Scores.SEO),
			LCP:           rec.WebVitals.LCP,
			INP:           rec.WebVitals.INP,
			CLS:           rec.WebVitals.CLS,
			AuditCount:    int32(len(rec.Audits)),
			AuditIDs:      strings.Join(ids, ";"),
		})
	}
	return rows
}

// Write encodes records to w in format f.
func Write(w io.Writer, f Format, records []storage.AnalysisRecord) error {
	switch f {
	case FormatJSONL:
		return WriteJSONL(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatParquet:
		return WriteParquet(w, records)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// WriteJSONL writes one full record per line, audits included.
func WriteJSONL(w io.Writer, records []storage.AnalysisRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// WriteCSV writes a header and one flattened row per record. Missing web
// vitals are empty cells.
func WriteCSV(w io.Writer, records []storage.AnalysisRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range Rows(records) {
		if err := cw.Write([]string{
			r.ID,
			r.URL,
			r.Strategy,
			r.AnalyzedAt.Format(time.RFC3339Nano),
			strconv.Itoa(int(r.Performance)),
			strconv.Itoa(int(r.Accessibility)),
			strconv.Itoa(int(r.BestPractices)),
			strconv.Itoa(int(r.SEO)),
			formatOptional(r.LCP),
			formatOptional(r.INP),
			formatOptional(r.CLS),
			strconv.Itoa(int(r.AuditCount)),
			r.AuditIDs,
		}); err != nil {
			return fmt.Errorf("writing csv row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteParquet writes the flattened rows as a single Parquet file to w.
func WriteParquet(w io.Writer, records []storage.AnalysisRecord) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(Rows(records)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// WriteFile creates path and writes records to it in format f.
func WriteFile(path string, f Format, records []storage.AnalysisRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := Write(file, f, records); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
