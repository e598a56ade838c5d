package service

import "github.com/Nystya/optimistic-commit/domain"

// TransactionAware is the capability a resource implements to join a
// transaction. The executor drives the five lifecycle operations in the same
// participant order for every phase.
//
// CommitTx and RollbackTx report failure either by returning false or by
// returning an error; the executor treats both the same way.
type TransactionAware interface {
	// StartTx binds the participant to a transaction and resets its change
	// tracking.
	StartTx(tx *domain.Transaction) error

	// GetTxChanges returns the keys mutated since StartTx. It is called once
	// per transaction, after the caller's work completes.
	GetTxChanges() ([][]byte, error)

	// CommitTx durably persists the transaction's effect on this participant.
	CommitTx() (bool, error)

	// PostTxCommit runs best-effort housekeeping after the authority has
	// recorded the transaction as committed.
	PostTxCommit() error

	// RollbackTx undoes locally applied effects. Returning false or an error
	// means the rollback did not provably succeed.
	RollbackTx() (bool, error)

	// GetName returns a diagnostic label used in error messages and logs.
	GetName() string
}
