package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kalambet/pagedoctor/internal/report"
	"github.com/kalambet/pagedoctor/internal/storage"
)

// ManagerStore is the schedule persistence the Manager needs.
// Implemented by storage.Store.
type ManagerStore interface {
	GetSchedule(id string) (storage.Schedule, error)
	GetScheduleByTarget(url string, strategy report.Strategy) (storage.Schedule, error)
	ListSchedules() ([]storage.Schedule, error)
	CreateSchedule(sc storage.Schedule) error
	UpdateSchedule(id string, patch storage.SchedulePatch) error
	DeleteSchedule(id string) error
}

// Options are the user-editable settings of a schedule.
type Options struct {
	Interval             Interval `json:"interval"`
	NotifyOnComplete     bool     `json:"notifyOnComplete"`
	NotifyOnBudgetExceed bool     `json:"notifyOnBudgetExceed"`
}

// Manager creates, edits and removes schedules.
type Manager struct {
	store    ManagerStore
	notifier Notifier
	clock    Clock
	logger   *slog.Logger
}

// NewManager creates a Manager. notifier may be nil.
func NewManager(store ManagerStore, notifier Notifier) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		clock:    realClock{},
		logger:   slog.Default(),
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ManagerStore, notifier Notifier, clock Clock) *Manager {
	m := NewManager(store, notifier)
	m.clock = clock
	return m
}

// Save creates the schedule for (url, strategy) or updates the existing one
// in place, so a target never has more than one schedule. Either way the
// schedule is enabled and its next run is one interval from now.
func (m *Manager) Save(ctx context.Context, url string, strategy report.Strategy, opts Options) (storage.Schedule, error) {
	if _, err := ParseInterval(string(opts.Interval)); err != nil {
		return storage.Schedule{}, err
	}
	if (opts.NotifyOnComplete || opts.NotifyOnBudgetExceed) && m.notifier != nil {
		if !m.notifier.RequestPermission(ctx) {
			m.logger.Warn("notifications unavailable; schedule saved without delivery", "url", url)
		}
	}

	now := m.clock.Now()
	next := FormatTimestamp(NextRunAt(opts.Interval, now))

	existing, err := m.store.GetScheduleByTarget(url, strategy)
	switch {
	case err == nil:
		interval := string(opts.Interval)
		enabled := true
		patch := storage.SchedulePatch{
			Interval:             &interval,
			Enabled:              &enabled,
			NotifyOnComplete:     &opts.NotifyOnComplete,
			NotifyOnBudgetExceed: &opts.NotifyOnBudgetExceed,
			NextRunAt:            &next,
		}
		if err := m.store.UpdateSchedule(existing.ID, patch); err != nil {
			return storage.Schedule{}, fmt.Errorf("updating schedule %s: %w", existing.ID, err)
		}
		return m.store.GetSchedule(existing.ID)
	case errors.Is(err, storage.ErrNotFound):
		sc := storage.Schedule{
			ID:                   uuid.New().String(),
			URL:                  url,
			Strategy:             strategy,
			Interval:             string(opts.Interval),
			Enabled:              true,
			NotifyOnComplete:     opts.NotifyOnComplete,
			NotifyOnBudgetExceed: opts.NotifyOnBudgetExceed,
			NextRunAt:            next,
			CreatedAt:            FormatTimestamp(now),
		}
		if err := m.store.CreateSchedule(sc); err != nil {
			return storage.Schedule{}, fmt.Errorf("creating schedule: %w", err)
		}
		return sc, nil
	default:
		return storage.Schedule{}, fmt.Errorf("looking up schedule: %w", err)
	}
}

// Get returns the schedule for (url, strategy) or storage.ErrNotFound.
func (m *Manager) Get(url string, strategy report.Strategy) (storage.Schedule, error) {
	return m.store.GetScheduleByTarget(url, strategy)
}

// List returns all schedules.
func (m *Manager) List() ([]storage.Schedule, error) {
	return m.store.ListSchedules()
}

// Delete removes a schedule by id.
func (m *Manager) Delete(id string) error {
	if err := m.store.DeleteSchedule(id); err != nil {
		return fmt.Errorf("deleting schedule %s: %w", id, err)
	}
	return nil
}
