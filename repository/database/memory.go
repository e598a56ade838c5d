package database

import (
	"sync"

	"github.com/Nystya/optimistic-commit/domain"
)

type MemoryDatabase struct {
	cache map[string]*domain.Entry

	lock *sync.Mutex
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		cache: make(map[string]*domain.Entry),
		lock:  &sync.Mutex{},
	}
}

func (m *MemoryDatabase) Put(key string, entry *domain.Entry) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.cache[key] = entry

	return nil
}

func (m *MemoryDatabase) Get(key string) (*domain.Entry, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	val, ok := m.cache[key]
	if !ok {
		return nil, &domain.NotFoundError{Key: key}
	}

	return val, nil
}

func (m *MemoryDatabase) Delete(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.cache, key)

	return nil
}

func (m *MemoryDatabase) Keys() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	keys := make([]string, 0, len(m.cache))

	for k := range m.cache {
		keys = append(keys, k)
	}

	return keys
}
