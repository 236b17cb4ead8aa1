package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/kalambet/pagedoctor/internal/report"
)

const scheduleColumns = `id, url, strategy, interval, enabled, notify_on_complete, notify_on_budget_exceed, next_run_at, last_run_at, created_at`

// CreateSchedule inserts a new schedule.
func (s *Store) CreateSchedule(sc Schedule) error {
	_, err := s.db.Exec(`
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.URL, string(sc.Strategy), sc.Interval, sc.Enabled,
		sc.NotifyOnComplete, sc.NotifyOnBudgetExceed, sc.NextRunAt,
		nullString(sc.LastRunAt), sc.CreatedAt,
	)
	return err
}

// GetSchedule returns the schedule with the given id.
func (s *Store) GetSchedule(id string) (Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return Schedule{}, ErrNotFound
	}
	return sc, err
}

// GetScheduleByTarget returns the oldest schedule for (url, strategy).
func (s *Store) GetScheduleByTarget(url string, strategy report.Strategy) (Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules
		WHERE url = ? AND strategy = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`, url, string(strategy))
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return Schedule{}, ErrNotFound
	}
	return sc, err
}

// ListEnabledSchedules returns every enabled schedule in creation order.
func (s *Store) ListEnabledSchedules() ([]Schedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules
		WHERE enabled = 1 ORDER BY created_at ASC, rowid ASC`)
}

// ListSchedules returns every schedule in creation order.
func (s *Store) ListSchedules() ([]Schedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at ASC, rowid ASC`)
}

// ClaimSchedule moves next_run_at from expected to next only if the stored
// value still equals expected. It returns the number of rows changed: 1 for
// a successful claim, 0 when another runner got there first.
func (s *Store) ClaimSchedule(id, expected, next string) (int64, error) {
	res, err := s.db.Exec(`UPDATE schedules SET next_run_at = ? WHERE id = ? AND next_run_at = ?`, next, id, expected)
	if err != nil {
		return 0, fmt.Errorf("claiming schedule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking claimed rows: %w", err)
	}
	return n, nil
}

// UpdateSchedule applies the non-nil fields of patch.
func (s *Store) UpdateSchedule(id string, patch SchedulePatch) error {
	var sets []string
	var args []any
	if patch.Interval != nil {
		sets = append(sets, "interval = ?")
		args = append(args, *patch.Interval)
	}
	if patch.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *patch.Enabled)
	}
	if patch.NotifyOnComplete != nil {
		sets = append(sets, "notify_on_complete = ?")
		args = append(args, *patch.NotifyOnComplete)
	}
	if patch.NotifyOnBudgetExceed != nil {
		sets = append(sets, "notify_on_budget_exceed = ?")
		args = append(args, *patch.NotifyOnBudgetExceed)
	}
	if patch.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *patch.NextRunAt)
	}
	if patch.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, nullString(*patch.LastRunAt))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.Exec(`UPDATE schedules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
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

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(id string) error {
	res, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
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

func (s *Store) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Schedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func scanSchedule(row scanner) (Schedule, error) {
	var sc Schedule
	var strategy string
	var lastRunAt sql.NullString
	err := row.Scan(&sc.ID, &sc.URL, &strategy, &sc.Interval, &sc.Enabled,
		&sc.NotifyOnComplete, &sc.NotifyOnBudgetExceed, &sc.NextRunAt, &lastRunAt, &sc.CreatedAt)
	if err != nil {
		return Schedule{}, err
	}
	sc.Strategy = report.Strategy(strategy)
	sc.LastRunAt = lastRunAt.String
	return sc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
