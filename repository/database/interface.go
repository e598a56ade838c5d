package database

import "github.com/Nystya/optimistic-commit/domain"

type Database interface {
	Put(key string, entry *domain.Entry) error
	Get(key string) (*domain.Entry, error)
	Delete(key string) error
	Keys() []string
}

// Log is the append-only persistence behind a transaction-aware store.
type Log interface {
	Append(entry *domain.Entry) error
	Recover() ([]*domain.Entry, error)
}
