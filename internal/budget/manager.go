package budget

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SettingsStore is the key/value store budgets are persisted in.
// Implemented by storage.Store.
type SettingsStore interface {
	GetSetting(key string) (value string, found bool, err error)
	PutSetting(key, value string) error
	DeleteSetting(key string) error
	ListSettings(prefix string) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const keyPrefix = "budget:"

// Key returns the settings key a URL's budget is stored under.
func Key(url string) string {
	return keyPrefix + url
}

type cacheEntry struct {
	budget   Budget
	found    bool
	loadedAt time.Time
}

// Manager provides cached access to budgets in the settings store.
type Manager struct {
	store  SettingsStore
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store SettingsStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store SettingsStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		logger: slog.Default(),
		cache:  map[string]cacheEntry{},
	}
}

// Get returns the budget for url. found is false when none is stored.
// A stored value that cannot be decoded is treated as absent.
func (m *Manager) Get(url string) (Budget, bool, error) {
	m.mu.RLock()
	e, ok := m.cache[url]
	m.mu.RUnlock()
	if ok && m.clock.Now().Before(e.loadedAt.Add(m.ttl)) {
		return e.budget, e.found, nil
	}

	raw, found, err := m.store.GetSetting(Key(url))
	if err != nil {
		return Budget{}, false, fmt.Errorf("loading budget for %q: %w", url, err)
	}
	if !found {
		m.remember(url, Budget{}, false)
		return Budget{}, false, nil
	}

	var b Budget
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		m.logger.Warn("ignoring malformed budget", "url", url, "error", err)
		m.remember(url, Budget{}, false)
		return Budget{}, false, nil
	}
	m.remember(url, b, true)
	return b, true, nil
}

// Save validates and stores b for url, replacing any previous budget.
func (m *Manager) Save(url string, b Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshalling budget: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.PutSetting(Key(url), string(data)); err != nil {
		return fmt.Errorf("saving budget for %q: %w", url, err)
	}
	delete(m.cache, url)
	return nil
}

// Delete removes the budget for url. Deleting a missing budget is not an error.
func (m *Manager) Delete(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.DeleteSetting(Key(url)); err != nil {
		return fmt.Errorf("deleting budget for %q: %w", url, err)
	}
	delete(m.cache, url)
	return nil
}

// List returns every stored budget keyed by URL. Malformed entries are skipped.
func (m *Manager) List() (map[string]Budget, error) {
	raw, err := m.store.ListSettings(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing budgets: %w", err)
	}
	out := make(map[string]Budget, len(raw))
	for key, value := range raw {
		var b Budget
		if err := json.Unmarshal([]byte(value), &b); err != nil {
			m.logger.Warn("ignoring malformed budget", "key", key, "error", err)
			continue
		}
		out[strings.TrimPrefix(key, keyPrefix)] = b
	}
	return out, nil
}

// PerformanceTarget returns the performance target for url, if any.
func (m *Manager) PerformanceTarget(url string) (int, bool, error) {
	b, found, err := m.Get(url)
	if err != nil || !found || b.Performance == nil {
		return 0, false, err
	}
	return *b.Performance, true, nil
}

func (m *Manager) remember(url string, b Budget, found bool) {
	m.mu.Lock()
	m.cache[url] = cacheEntry{budget: b, found: found, loadedAt: m.clock.Now()}
	m.mu.Unlock()
}
