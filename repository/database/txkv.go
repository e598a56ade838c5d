package database

import (
	"sort"

	"github.com/Nystya/optimistic-commit/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TxKVStore is a transaction-aware key-value store. Writes made inside a
// transaction land in a per-transaction buffer; CommitTx persists them
// through the write-ahead log into the committed store, keeping undo images
// so RollbackTx can restore the previous state.
//
// A TxKVStore joins one transaction at a time. It is not safe for concurrent
// transactions without external synchronization; the executor only
// guarantees ordering within one transaction's lifecycle.
type TxKVStore struct {
	name   string
	store  Database
	wal    Log
	logger *zap.Logger

	tx     *domain.Transaction
	buffer map[string]*domain.Entry
	undo   map[string]*domain.Entry // previous committed entries; nil = key was absent
}

func NewTxKVStore(name string, wal Log, logger *zap.Logger) *TxKVStore {
	return &TxKVStore{
		name:   name,
		store:  NewMemoryDatabase(),
		wal:    wal,
		logger: logger,
	}
}

// WithDatabase swaps the committed store behind the transaction buffer.
func (s *TxKVStore) WithDatabase(store Database) *TxKVStore {
	s.store = store
	return s
}

// Recover rebuilds the committed store from the write-ahead log. Commit
// records are replayed in append order; records belonging to a transaction
// that also logged an abort record are skipped.
func (s *TxKVStore) Recover() error {
	entries, err := s.wal.Recover()
	if err != nil {
		return errors.Wrapf(err, "could not recover store %q", s.name)
	}

	aborted := make(map[string]struct{})
	for _, entry := range entries {
		if entry.State == domain.Abort {
			aborted[entry.TxID] = struct{}{}
		}
	}

	recovered := 0

	for _, entry := range entries {
		if entry.State != domain.Commit {
			continue
		}

		if _, ok := aborted[entry.TxID]; ok {
			continue
		}

		if entry.Tombstone {
			_ = s.store.Delete(entry.Key)
		} else {
			_ = s.store.Put(entry.Key, entry)
		}

		recovered++
	}

	s.logger.Info("recovered store from wal",
		zap.String("store", s.name),
		zap.Int("records", recovered))

	return nil
}

// Put stages a value for the current transaction.
func (s *TxKVStore) Put(key string, value []byte) error {
	if s.tx == nil {
		return &domain.NoTransactionError{Op: "put"}
	}

	s.buffer[key] = &domain.Entry{
		TxID:         s.tx.ID.String(),
		WritePointer: s.tx.WritePointer,
		Key:          key,
		State:        domain.Pending,
		Data:         value,
	}

	return nil
}

// Delete stages a tombstone for the current transaction.
func (s *TxKVStore) Delete(key string) error {
	if s.tx == nil {
		return &domain.NoTransactionError{Op: "delete"}
	}

	s.buffer[key] = &domain.Entry{
		TxID:         s.tx.ID.String(),
		WritePointer: s.tx.WritePointer,
		Key:          key,
		State:        domain.Pending,
		Tombstone:    true,
	}

	return nil
}

// Get reads through the transaction buffer first, then the committed store.
// Inside a transaction, committed records outside the transaction's
// visibility bounds are treated as absent.
func (s *TxKVStore) Get(key string) ([]byte, error) {
	if s.tx != nil {
		if entry, ok := s.buffer[key]; ok {
			if entry.Tombstone {
				return nil, &domain.NotFoundError{Key: key}
			}

			return entry.Data, nil
		}
	}

	entry, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}

	if s.tx != nil && !s.tx.IsVisible(entry.WritePointer) {
		return nil, &domain.NotFoundError{Key: key}
	}

	return entry.Data, nil
}

func (s *TxKVStore) StartTx(tx *domain.Transaction) error {
	s.tx = tx
	s.buffer = make(map[string]*domain.Entry)
	s.undo = make(map[string]*domain.Entry)

	return nil
}

func (s *TxKVStore) GetTxChanges() ([][]byte, error) {
	changes := make([][]byte, 0, len(s.buffer))

	for _, key := range s.bufferedKeys() {
		changes = append(changes, s.changeKey(key))
	}

	return changes, nil
}

func (s *TxKVStore) CommitTx() (bool, error) {
	if s.tx == nil {
		return false, &domain.NoTransactionError{Op: "commit"}
	}

	for _, key := range s.bufferedKeys() {
		staged := *s.buffer[key]
		staged.State = domain.Commit

		if err := s.wal.Append(&staged); err != nil {
			return false, errors.Wrapf(err, "could not persist key %q of store %q", key, s.name)
		}

		if prev, err := s.store.Get(key); err == nil {
			s.undo[key] = prev
		} else {
			s.undo[key] = nil
		}

		var err error
		if staged.Tombstone {
			err = s.store.Delete(key)
		} else {
			err = s.store.Put(key, &staged)
		}

		if err != nil {
			return false, errors.Wrapf(err, "could not apply key %q to store %q", key, s.name)
		}
	}

	return true, nil
}

func (s *TxKVStore) PostTxCommit() error {
	if s.tx != nil {
		s.logger.Debug("transaction durably committed",
			zap.String("store", s.name),
			zap.Stringer("tx", s.tx.ID),
			zap.Int("keys", len(s.buffer)))
	}

	s.tx = nil
	s.buffer = nil
	s.undo = nil

	return nil
}

// RollbackTx restores the undo images of every key applied by CommitTx and
// logs an abort record for each, so recovery knows to skip this
// transaction's commit records. A failed abort record means the rollback is
// not provable: recovery could replay the write.
func (s *TxKVStore) RollbackTx() (bool, error) {
	if s.tx == nil {
		return true, nil
	}

	var failure error

	applied := make([]string, 0, len(s.undo))
	for key := range s.undo {
		applied = append(applied, key)
	}
	sort.Strings(applied)

	for _, key := range applied {
		abortRecord := &domain.Entry{
			TxID:         s.tx.ID.String(),
			WritePointer: s.tx.WritePointer,
			Key:          key,
			State:        domain.Abort,
		}

		if err := s.wal.Append(abortRecord); err != nil && failure == nil {
			failure = errors.Wrapf(err, "could not log abort of key %q in store %q", key, s.name)
		}

		var err error
		if prev := s.undo[key]; prev == nil {
			err = s.store.Delete(key)
		} else {
			err = s.store.Put(key, prev)
		}

		if err != nil && failure == nil {
			failure = errors.Wrapf(err, "could not restore key %q in store %q", key, s.name)
		}
	}

	s.tx = nil
	s.buffer = nil
	s.undo = nil

	if failure != nil {
		return false, failure
	}

	return true, nil
}

func (s *TxKVStore) GetName() string {
	return s.name
}

func (s *TxKVStore) bufferedKeys() []string {
	keys := make([]string, 0, len(s.buffer))

	for key := range s.buffer {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// changeKey namespaces a key by store name so the union of all participants'
// change-sets stays tagged per participant.
func (s *TxKVStore) changeKey(key string) []byte {
	change := make([]byte, 0, len(s.name)+1+len(key))
	change = append(change, s.name...)
	change = append(change, 0x00)
	change = append(change, key...)

	return change
}
