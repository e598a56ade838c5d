package service

import "github.com/Nystya/optimistic-commit/domain"

// TransactionSystemClient is the handle to the transaction authority: the
// shared service owning conflict detection and the canonical commit, abort
// and invalidate decisions. Implementations serialize those decisions
// internally; the executor adds no locking of its own.
type TransactionSystemClient interface {
	// StartShort issues a transaction with the default short timeout.
	StartShort() (*domain.Transaction, error)

	// StartShortTimeout issues a transaction with an explicit timeout in
	// seconds.
	StartShortTimeout(timeoutSeconds int) (*domain.Transaction, error)

	// StartLong issues a transaction with no deadline.
	StartLong() (*domain.Transaction, error)

	// CanCommit checks the transaction's change-set against every change-set
	// committed since the transaction started. False means conflict.
	CanCommit(tx *domain.Transaction, changes [][]byte) (bool, error)

	// Commit records the transaction as committed if it is still conflict
	// free. It may return false under a late-detected race.
	Commit(tx *domain.Transaction) (bool, error)

	// Abort records the transaction as aborted and releases its change-set.
	Abort(tx *domain.Transaction) error

	// Invalidate records the transaction as permanently invalid. Used instead
	// of Abort when rollback could not be proven complete.
	Invalidate(tx *domain.Transaction) error
}
