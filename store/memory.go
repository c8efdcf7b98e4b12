package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
)

type listKey struct {
	urlEnding string
	url       string
}

// Memory is an in-process Store and Preferences, used by tests and the
// "memory" driver.
type Memory struct {
	mu           sync.RWMutex
	records      map[string]models.Record
	names        map[string]string
	priorities   map[listKey]int
	dependencies map[listKey]string
	notes        map[listKey]string
	now          func() time.Time
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		records:      make(map[string]models.Record),
		names:        make(map[string]string),
		priorities:   make(map[listKey]int),
		dependencies: make(map[listKey]string),
		notes:        make(map[listKey]string),
		now:          time.Now,
	}
}

// Seed stores rec without validation, for staging legacy or incomplete rows.
func (m *Memory) Seed(rec models.Record) {
	m.mu.Lock()
	m.records[rec.Key] = withOwnTimestamp(rec)
	m.mu.Unlock()
}

func (m *Memory) GetMany(_ context.Context, keys []string) (map[string]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.Record, len(keys))
	for _, k := range keys {
		if rec, ok := m.records[k]; ok {
			out[k] = withOwnTimestamp(rec)
		}
	}
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, rec models.Record) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	if rec.LastUpdated == nil {
		now := m.now()
		rec.LastUpdated = &now
	}
	m.mu.Lock()
	m.records[rec.Key] = withOwnTimestamp(rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RecordName(_ context.Context, name, key string) error {
	m.mu.Lock()
	m.names[name] = key
	m.mu.Unlock()
	return nil
}

func (m *Memory) LookupName(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.names[name]
	return key, ok, nil
}

func (m *Memory) Priorities(_ context.Context, urlEnding string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for k, v := range m.priorities {
		if k.urlEnding == urlEnding {
			out[k.url] = v
		}
	}
	return out, nil
}

func (m *Memory) SetPriority(_ context.Context, urlEnding, url string, priority int) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	m.mu.Lock()
	m.priorities[listKey{urlEnding, url}] = priority
	m.mu.Unlock()
	return nil
}

func (m *Memory) Dependencies(_ context.Context, urlEnding string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pairsFor(m.dependencies, urlEnding), nil
}

func (m *Memory) SetDependency(_ context.Context, urlEnding, url, dependencyURL string) error {
	if err := checkDependency(url, dependencyURL); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if dependencyURL == "" {
		delete(m.dependencies, listKey{urlEnding, url})
		return nil
	}
	m.dependencies[listKey{urlEnding, url}] = dependencyURL
	return nil
}

func (m *Memory) Notes(_ context.Context, urlEnding string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pairsFor(m.notes, urlEnding), nil
}

func (m *Memory) SetNote(_ context.Context, urlEnding, url, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		delete(m.notes, listKey{urlEnding, url})
		return nil
	}
	m.notes[listKey{urlEnding, url}] = text
	return nil
}

func pairsFor(src map[listKey]string, urlEnding string) map[string]string {
	out := make(map[string]string)
	for k, v := range src {
		if k.urlEnding == urlEnding {
			out[k.url] = v
		}
	}
	return out
}
