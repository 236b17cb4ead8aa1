package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/pagedoctor/internal/report"
)

const analysisColumns = `id, url, strategy, analyzed_at, performance, accessibility, best_practices, seo, lcp, inp, cls, audits_json`

// SaveAnalysis appends a history record.
func (s *Store) SaveAnalysis(rec AnalysisRecord) error {
	audits := rec.Audits
	if audits == nil {
		audits = []report.Audit{}
	}
	auditsJSON, err := json.Marshal(audits)
	if err != nil {
		return fmt.Errorf("marshalling audits: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO analyses (`+analysisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.URL, string(rec.Strategy), rec.AnalyzedAt,
		rec.Scores.Performance, rec.Scores.Accessibility, rec.Scores.BestPractices, rec.Scores.SEO,
		nullFloat(rec.WebVitals.LCP), nullFloat(rec.WebVitals.INP), nullFloat(rec.WebVitals.CLS),
		string(auditsJSON),
	)
	return err
}

// GetAnalysis returns the record with the given id.
func (s *Store) GetAnalysis(id string) (AnalysisRecord, error) {
	row := s.db.QueryRow(`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return AnalysisRecord{}, ErrNotFound
	}
	return rec, err
}

// ListAnalysesByURL returns the history of url in ascending analysis order.
// A zero since returns the full history.
func (s *Store) ListAnalysesByURL(url string, since time.Time) ([]AnalysisRecord, error) {
	if since.IsZero() {
		return s.queryAnalyses(`SELECT `+analysisColumns+` FROM analyses
			WHERE url = ? ORDER BY analyzed_at ASC, rowid ASC`, url)
	}
	return s.queryAnalyses(`SELECT `+analysisColumns+` FROM analyses
		WHERE url = ? AND analyzed_at >= ? ORDER BY analyzed_at ASC, rowid ASC`,
		url, report.FormatTime(since))
}

// ListRecentAnalyses returns up to limit records, newest first.
func (s *Store) ListRecentAnalyses(limit int) ([]AnalysisRecord, error) {
	return s.queryAnalyses(`SELECT `+analysisColumns+` FROM analyses
		ORDER BY analyzed_at DESC, rowid DESC LIMIT ?`, limit)
}

// ListAllAnalyses returns every record in ascending analysis order.
func (s *Store) ListAllAnalyses() ([]AnalysisRecord, error) {
	return s.queryAnalyses(`SELECT ` + analysisColumns + ` FROM analyses ORDER BY analyzed_at ASC, rowid ASC`)
}

// LatestAnalysis returns the newest record for url.
func (s *Store) LatestAnalysis(url string) (AnalysisRecord, error) {
	row := s.db.QueryRow(`SELECT `+analysisColumns+` FROM analyses
		WHERE url = ? ORDER BY analyzed_at DESC, rowid DESC LIMIT 1`, url)
	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return AnalysisRecord{}, ErrNotFound
	}
	return rec, err
}

// ListAnalyzedURLs returns each distinct URL in history, most recently
// analyzed first.
func (s *Store) ListAnalyzedURLs() ([]string, error) {
	rows, err := s.db.Query(`SELECT url FROM analyses GROUP BY url ORDER BY MAX(analyzed_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// DeleteAnalysis removes one history record.
func (s *Store) DeleteAnalysis(id string) error {
	res, err := s.db.Exec(`DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryAnalyses(query string, args ...any) ([]AnalysisRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(sc scanner) (AnalysisRecord, error) {
	var rec AnalysisRecord
	var strategy, auditsJSON string
	var lcp, inp, cls sql.NullFloat64
	err := sc.Scan(&rec.ID, &rec.URL, &strategy, &rec.AnalyzedAt,
		&rec.Scores.Performance, &rec.Scores.Accessibility, &rec.Scores.BestPractices, &rec.Scores.SEO,
		&lcp, &inp, &cls, &auditsJSON)
	if err != nil {
		return AnalysisRecord{}, err
	}
	rec.Strategy = report.Strategy(strategy)
	rec.WebVitals = report.WebVitals{LCP: floatPtr(lcp), INP: floatPtr(inp), CLS: floatPtr(cls)}
	if err := json.Unmarshal([]byte(auditsJSON), &rec.Audits); err != nil {
		return AnalysisRecord{}, fmt.Errorf("parsing audits for analysis %s: %w", rec.ID, err)
	}
	if rec.Audits == nil {
		rec.Audits = []report.Audit{}
	}
	return rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
