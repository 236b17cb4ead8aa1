package budget

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error

	gets int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) GetSetting(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockStore) PutSetting(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockStore) DeleteSetting(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockStore) ListSettings(prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManager_SaveGetDelete(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)
	url := "https://example.com"

	if _, found, err := mgr.Get(url); err != nil || found {
		t.Fatalf("expected no budget, got found=%v err=%v", found, err)
	}

	if err := mgr.Save(url, Budget{Performance: intp(80)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := store.data["budget:https://example.com"]; got != `{"performance":80}` {
		t.Errorf("stored value = %q", got)
	}

	b, found, err := mgr.Get(url)
	if err != nil || !found {
		t.Fatalf("expected budget, got found=%v err=%v", found, err)
	}
	if b.Performance == nil || *b.Performance != 80 {
		t.Errorf("unexpected budget %+v", b)
	}

	target, ok, err := mgr.PerformanceTarget(url)
	if err != nil || !ok || target != 80 {
		t.Errorf("PerformanceTarget = %d, %v, %v", target, ok, err)
	}

	if err := mgr.Delete(url); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := mgr.Get(url); found {
		t.Error("budget still present after delete")
	}
}

func TestManager_SaveRejectsInvalid(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)
	if err := mgr.Save("u", Budget{SEO: intp(150)}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.data) != 0 {
		t.Error("invalid budget was persisted")
	}
}

func TestManager_CacheTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	store.data[Key("u")] = `{"seo":90}`
	for i := 0; i < 3; i++ {
		if _, _, err := mgr.Get("u"); err != nil {
			t.Fatal(err)
		}
	}
	if store.gets != 1 {
		t.Errorf("expected 1 store read, got %d", store.gets)
	}

	clock.Advance(2 * time.Minute)
	if _, _, err := mgr.Get("u"); err != nil {
		t.Fatal(err)
	}
	if store.gets != 2 {
		t.Errorf("expected cache refresh after TTL, got %d reads", store.gets)
	}
}

func TestManager_MalformedValueTreatedAsAbsent(t *testing.T) {
	store := newMockStore()
	store.data[Key("u")] = "{not json"
	mgr := NewManager(store)

	_, found, err := mgr.Get("u")
	if err != nil || found {
		t.Errorf("expected absent budget, got found=%v err=%v", found, err)
	}
}

func TestManager_StoreError(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("disk gone")
	mgr := NewManager(store)

	if _, _, err := mgr.Get("u"); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestManager_List(t *testing.T) {
	store := newMockStore()
	store.data["budget:https://a.example"] = `{"performance":90}`
	store.data["budget:https://b.example"] = `oops`
	store.data["theme"] = `dark`
	mgr := NewManager(store)

	all, err := mgr.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 budget, got %d: %+v", len(all), all)
	}
	b, ok := all["https://a.example"]
	if !ok || b.Performance == nil || *b.Performance != 90 {
		t.Errorf("unexpected budgets: %+v", all)
	}
}
