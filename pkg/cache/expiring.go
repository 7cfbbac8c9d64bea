package cache

import (
	"sync"
	"time"
)

type expiringItem[V any] struct {
	value     V
	expiresAt time.Time
}

// Expiring is a concurrency-safe map whose entries go stale after a TTL.
type Expiring[K comparable, V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[K]expiringItem[V]
}

func NewExpiring[K comparable, V any](ttl time.Duration) *Expiring[K, V] {
	return &Expiring[K, V]{ttl: ttl, items: map[K]expiringItem[V]{}}
}

// Get returns the value for key if it has not expired at now.
func (m *Expiring[K, V]) Get(key K, now time.Time) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
		return zero, false
	}
	return it.value, true
}

// Set stores value until now+TTL. A non-positive TTL never expires.
func (m *Expiring[K, V]) Set(key K, value V, now time.Time) {
	if m == nil {
		return
	}
	exp := time.Time{}
	if m.ttl > 0 {
		exp = now.Add(m.ttl)
	}
	m.mu.Lock()
	m.items[key] = expiringItem[V]{value: value, expiresAt: exp}
	m.mu.Unlock()
}

func (m *Expiring[K, V]) Delete(key K) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Purge drops every entry expired at now and reports how many were removed.
func (m *Expiring[K, V]) Purge(now time.Time) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n
}
