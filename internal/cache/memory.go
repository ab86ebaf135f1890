// Copyright 2024 Call Insights Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
	seq       uint64
}

// MemoryCache is a bounded in-process cache. Expired entries are swept on
// every access and the oldest inserted entry is evicted when full.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*memoryItem
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	seq        uint64
}

// NewMemoryCache creates a memory cache. A nil clock uses time.Now.
func NewMemoryCache(ttl time.Duration, maxEntries int, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		items:      make(map[string]*memoryItem),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
	}
}

// Get returns a copy of the entry stored under key
func (m *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep()
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := item.entry
	return &entry, true, nil
}

// Set stores a copy of entry, replacing any previous value
func (m *MemoryCache) Set(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep()
	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxEntries {
		m.evictOldest()
	}

	stored := *entry
	if stored.StoredAt.IsZero() {
		stored.StoredAt = now
	}
	m.seq++
	m.items[key] = &memoryItem{
		entry:     stored,
		expiresAt: now.Add(m.ttl),
		seq:       m.seq,
	}
	return nil
}

// Len reports the number of live entries
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	return len(m.items)
}

func (m *MemoryCache) sweep() {
	now := m.now()
	for key, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, key)
		}
	}
}

func (m *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestSeq uint64
	for key, item := range m.items {
		if oldestKey == "" || item.seq < oldestSeq {
			oldestKey = key
			oldestSeq = item.seq
		}
	}
	if oldestKey != "" {
		delete(m.items, oldestKey)
	}
}
