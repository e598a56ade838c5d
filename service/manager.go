package service

import (
	"sync"
	"time"

	"github.com/Nystya/optimistic-commit/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultShortTimeout is the deadline, in seconds, applied to short
// transactions started without an explicit timeout.
const DefaultShortTimeout = 30

type inProgressTx struct {
	tx        *domain.Transaction
	changes   map[string]struct{}
	expiresAt time.Time // zero for long transactions
}

// InMemoryTransactionManager is the reference transaction authority. It
// issues monotonically increasing write pointers, tracks in-progress
// transactions and the change-sets of committed ones, and serializes every
// decision behind a single mutex so conflict detection stays consistent
// across concurrently executing transactions.
type InMemoryTransactionManager struct {
	lock *sync.Mutex
	now  func() time.Time

	nextWritePointer int64
	readPointer      int64

	inProgress          map[int64]*inProgressTx
	committedChangeSets map[int64]map[string]struct{}
	states              map[int64]domain.CommitState
	invalids            []int64

	logger *zap.Logger
}

func NewInMemoryTransactionManager() *InMemoryTransactionManager {
	return &InMemoryTransactionManager{
		lock:                &sync.Mutex{},
		now:                 time.Now,
		inProgress:          make(map[int64]*inProgressTx),
		committedChangeSets: make(map[int64]map[string]struct{}),
		states:              make(map[int64]domain.CommitState),
		logger:              zap.NewNop(),
	}
}

func (m *InMemoryTransactionManager) WithLogger(logger *zap.Logger) *InMemoryTransactionManager {
	m.logger = logger
	return m
}

// Start issues a new transaction. A timeout of zero means no deadline.
func (m *InMemoryTransactionManager) Start(timeoutSeconds int) *domain.Transaction {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.expireLocked()

	m.nextWritePointer++

	tx := &domain.Transaction{
		ID:           uuid.New(),
		ReadPointer:  m.readPointer,
		WritePointer: m.nextWritePointer,
		Invalids:     append([]int64(nil), m.invalids...),
	}

	record := &inProgressTx{tx: tx}
	if timeoutSeconds > 0 {
		record.expiresAt = m.now().Add(time.Duration(timeoutSeconds) * time.Second)
	}

	m.inProgress[tx.WritePointer] = record
	m.states[tx.WritePointer] = domain.StateStarted

	return tx
}

// CanCommit checks the transaction's change-set against every change-set
// committed after the transaction's read pointer. On success the change-set
// is remembered for the re-check done by Commit.
func (m *InMemoryTransactionManager) CanCommit(tx *domain.Transaction, changes [][]byte) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, ok := m.inProgress[tx.WritePointer]
	if !ok {
		return false
	}

	changeSet := make(map[string]struct{}, len(changes))
	for _, change := range changes {
		changeSet[string(change)] = struct{}{}
	}

	if m.conflictsLocked(tx.ReadPointer, changeSet) {
		return false
	}

	record.changes = changeSet

	return true
}

// Commit re-checks for conflicts before making the decision durable: another
// transaction may have committed an overlapping change-set between CanCommit
// and now.
func (m *InMemoryTransactionManager) Commit(tx *domain.Transaction) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, ok := m.inProgress[tx.WritePointer]
	if !ok {
		return false
	}

	if m.conflictsLocked(tx.ReadPointer, record.changes) {
		return false
	}

	delete(m.inProgress, tx.WritePointer)

	if len(record.changes) > 0 {
		m.committedChangeSets[tx.WritePointer] = record.changes
	}

	if tx.WritePointer > m.readPointer {
		m.readPointer = tx.WritePointer
	}

	m.states[tx.WritePointer] = domain.StateCommitted

	m.pruneLocked()

	return true
}

// Abort retires the transaction and releases its change-set for future
// conflict checks.
func (m *InMemoryTransactionManager) Abort(tx *domain.Transaction) {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.inProgress, tx.WritePointer)
	m.states[tx.WritePointer] = domain.StateAborted

	m.pruneLocked()
}

// Invalidate retires the transaction and excludes its write pointer from all
// future visibility. Stronger than Abort: used when rollback could not be
// proven complete.
func (m *InMemoryTransactionManager) Invalidate(tx *domain.Transaction) {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.inProgress, tx.WritePointer)
	m.invalids = append(m.invalids, tx.WritePointer)
	m.states[tx.WritePointer] = domain.StateInvalidated

	m.logger.Warn("transaction invalidated",
		zap.Stringer("tx", tx.ID),
		zap.Int64("writePointer", tx.WritePointer))

	m.pruneLocked()
}

// State reports the authority-visible disposition of a transaction, or
// StateUnknown for a transaction this authority never issued.
func (m *InMemoryTransactionManager) State(tx *domain.Transaction) domain.CommitState {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.states[tx.WritePointer]
	if !ok {
		return domain.StateUnknown
	}

	return state
}

// InProgressCount reports how many transactions are currently open.
func (m *InMemoryTransactionManager) InProgressCount() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.inProgress)
}

func (m *InMemoryTransactionManager) conflictsLocked(readPointer int64, changeSet map[string]struct{}) bool {
	for commitPointer, committed := range m.committedChangeSets {
		if commitPointer <= readPointer {
			continue
		}

		for change := range changeSet {
			if _, ok := committed[change]; ok {
				return true
			}
		}
	}

	return false
}

// expireLocked lazily invalidates short transactions whose deadline has
// passed, so an abandoned transaction cannot pin the conflict window forever.
func (m *InMemoryTransactionManager) expireLocked() {
	now := m.now()

	for writePointer, record := range m.inProgress {
		if record.expiresAt.IsZero() || now.Before(record.expiresAt) {
			continue
		}

		delete(m.inProgress, writePointer)
		m.invalids = append(m.invalids, writePointer)
		m.states[writePointer] = domain.StateInvalidated

		m.logger.Warn("transaction timed out",
			zap.Stringer("tx", record.tx.ID),
			zap.Int64("writePointer", writePointer))
	}
}

// pruneLocked drops committed change-sets no in-progress transaction can
// conflict with anymore.
func (m *InMemoryTransactionManager) pruneLocked() {
	oldestReadPointer := m.readPointer

	for _, record := range m.inProgress {
		if record.tx.ReadPointer < oldestReadPointer {
			oldestReadPointer = record.tx.ReadPointer
		}
	}

	for commitPointer := range m.committedChangeSets {
		if commitPointer <= oldestReadPointer {
			delete(m.committedChangeSets, commitPointer)
		}
	}
}
