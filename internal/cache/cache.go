// Package cache — короткоживущий key/value кэш перед X API.
// Два бэкенда: Memory (по умолчанию) и Redis (если задан REDIS_URL).
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store — общий контракт кэша.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	// Keys возвращает живые ключи с указанным префиксом.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Count считает живые ключи с префиксом (диагностика кэша X).
	Count(ctx context.Context, prefix string) (int, error)
}

type entry struct {
	value     []byte
	expiresAt time.Time
	setAt     time.Time
}

// Memory — кэш в памяти процесса с TTL на запись и лимитом ключей.
// При достижении лимита вытесняется запись, установленная раньше всех.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*entry
	maxKeys int
	now     func() time.Time
}

// NewMemory создаёт кэш с лимитом maxKeys (<= 0 — без лимита).
func NewMemory(maxKeys int) *Memory {
	return &Memory{
		items:   make(map[string]*entry),
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if m.expired(e) {
		delete(m.items, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.items[key]; !exists && m.maxKeys > 0 && len(m.items) >= m.maxKeys {
		m.pruneLocked()
		if len(m.items) >= m.maxKeys {
			m.evictOldestLocked()
		}
	}
	m.items[key] = &entry{value: value, expiresAt: now.Add(ttl), setAt: now}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]*entry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k, e := range m.items {
		if m.expired(e) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := m.Keys(ctx, prefix)
	return len(keys), err
}

// Prune удаляет просроченные записи. Вызывать не обязательно:
// просрочка проверяется и лениво при чтении.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked()
}

func (m *Memory) pruneLocked() int {
	removed := 0
	for k, e := range m.items {
		if m.expired(e) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

func (m *Memory) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range m.items {
		if oldestKey == "" || e.setAt.Before(oldest) {
			oldestKey, oldest = k, e.setAt
		}
	}
	if oldestKey != "" {
		delete(m.items, oldestKey)
	}
}

func (m *Memory) expired(e *entry) bool {
	return !m.now().Before(e.expiresAt)
}
