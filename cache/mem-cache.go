package cache

import (
	"sort"
	"strings"
	"sync"
)

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]CacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m MemCache) Open(store string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.open(store)
	return nil
}

func (m MemCache) open(store string) map[string]CacheEntry {
	entries, ok := m.db[store]
	if !ok {
		entries = make(map[string]CacheEntry)
		m.db[store] = entries
	}
	return entries
}

func (m MemCache) Stores() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) Drop(store string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, store)
	return nil
}

func (m MemCache) Match(store, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[store][key]
	if !ok {
		return nil, false, nil
	}
	return entry.Bytes, true, nil
}

func (m MemCache) Put(store string, entry CacheEntry) error {
	return m.PutAll(store, []CacheEntry{entry})
}

func (m MemCache) PutAll(store string, entries []CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s := m.open(store)
	for _, ce := range entries {
		s[ce.Key] = ce
	}
	return nil
}

func (m MemCache) Keys(store, prefix string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0)
	for key := range m.db[store] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Delete(store, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[store], key)
	return nil
}
