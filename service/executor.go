package service

import (
	"fmt"

	"github.com/Nystya/optimistic-commit/domain"
	"go.uber.org/zap"
)

// Function is the caller-supplied unit of work run inside a transaction
// boundary. It is invoked exactly once per call to Execute.
type Function[I, O any] func(input I) (O, error)

// TransactionExecutor runs a unit of work across a fixed, ordered set of
// transaction-aware participants as one atomic operation, reconciling the
// outcome with the transaction authority.
//
// A single executor runs one transaction at a time; Execute blocks the
// calling goroutine for the whole lifecycle. Concurrent executors may race
// against the same keys; correctness under that race is delegated to the
// authority's conflict detection.
type TransactionExecutor[I, O any] struct {
	client   TransactionSystemClient
	txAwares []TransactionAware
	logger   *zap.Logger
}

func NewTransactionExecutor[I, O any](client TransactionSystemClient, txAwares ...TransactionAware) *TransactionExecutor[I, O] {
	return &TransactionExecutor[I, O]{
		client:   client,
		txAwares: txAwares,
		logger:   zap.NewNop(),
	}
}

func (e *TransactionExecutor[I, O]) WithLogger(logger *zap.Logger) *TransactionExecutor[I, O] {
	e.logger = logger
	return e
}

// outcome normalizes the bool-or-error duality of CommitTx and RollbackTx so
// the rest of the algorithm has a single failure representation.
type outcome struct {
	ok    bool
	cause error
}

func normalize(ok bool, err error) outcome {
	if err != nil {
		return outcome{ok: false, cause: err}
	}

	return outcome{ok: ok}
}

// Execute runs f(input) inside a new transaction and returns its result.
//
// On failure it returns either a *domain.TransactionConflictError (the
// authority said no; retry the whole transaction) or a
// *domain.TransactionFailureError (a participant or the function failed), or
// the raw participant error when StartTx itself failed before any work ran.
func (e *TransactionExecutor[I, O]) Execute(f Function[I, O], input I) (O, error) {
	var zero O

	tx, err := e.client.StartShort()
	if err != nil {
		return zero, err
	}

	// Bind every participant before any work runs. A failure here is fatal
	// and there is nothing yet to undo.
	for _, txAware := range e.txAwares {
		if err := txAware.StartTx(tx); err != nil {
			e.logger.Error("could not start transaction",
				zap.String("participant", txAware.GetName()),
				zap.Stringer("tx", tx.ID),
				zap.Error(err))
			return zero, err
		}
	}

	result, err := f(input)
	if err != nil {
		return zero, e.rollbackAndFinish(tx, &domain.TransactionFailureError{
			Message: "transaction function failed",
			Cause:   err,
		})
	}

	changes, err := e.collectChanges()
	if err != nil {
		return zero, e.rollbackAndFinish(tx, &domain.TransactionFailureError{
			Message: "could not collect changes",
			Cause:   err,
		})
	}

	ok, err := e.client.CanCommit(tx, changes)
	if err != nil {
		return zero, e.rollbackAndFinish(tx, &domain.TransactionFailureError{
			Message: "conflict check failed",
			Cause:   err,
		})
	}
	if !ok {
		return zero, e.rollbackAndFinish(tx, &domain.TransactionConflictError{
			Message: "conflict detected with a concurrent transaction",
		})
	}

	if failure := e.persist(tx); failure != nil {
		return zero, e.rollbackAndFinish(tx, failure)
	}

	ok, err = e.client.Commit(tx)
	if err != nil {
		return zero, e.rollbackAndFinish(tx, &domain.TransactionFailureError{
			Message: "could not commit transaction",
			Cause:   err,
		})
	}
	if !ok {
		return zero, e.rollbackAndFinish(tx, &domain.TransactionConflictError{
			Message: "commit rejected by the transaction authority",
		})
	}

	if err := e.postCommit(tx); err != nil {
		return zero, err
	}

	return result, nil
}

func (e *TransactionExecutor[I, O]) collectChanges() ([][]byte, error) {
	changes := make([][]byte, 0)

	for _, txAware := range e.txAwares {
		txChanges, err := txAware.GetTxChanges()
		if err != nil {
			return nil, err
		}

		changes = append(changes, txChanges...)
	}

	return changes, nil
}

func (e *TransactionExecutor[I, O]) persist(tx *domain.Transaction) error {
	for _, txAware := range e.txAwares {
		out := normalize(txAware.CommitTx())
		if out.ok {
			continue
		}

		cause := out.cause
		if cause == nil {
			cause = fmt.Errorf("persist failure for transaction-aware %q", txAware.GetName())
		}

		return &domain.TransactionFailureError{
			Message: fmt.Sprintf("could not persist changes of transaction-aware %q", txAware.GetName()),
			Cause:   cause,
		}
	}

	return nil
}

// rollbackAndFinish rolls back every participant, reports abort or invalidate
// to the authority, and returns the given failure unchanged. One rollback
// failure anywhere forces invalidate over abort: the authority can no longer
// trust that the transaction's effects are fully undone.
func (e *TransactionExecutor[I, O]) rollbackAndFinish(tx *domain.Transaction, failure error) error {
	if e.rollbackAll(tx) {
		if err := e.client.Abort(tx); err != nil {
			e.logger.Error("could not abort transaction", zap.Stringer("tx", tx.ID), zap.Error(err))
		}
	} else {
		if err := e.client.Invalidate(tx); err != nil {
			e.logger.Error("could not invalidate transaction", zap.Stringer("tx", tx.ID), zap.Error(err))
		}
	}

	return failure
}

func (e *TransactionExecutor[I, O]) rollbackAll(tx *domain.Transaction) bool {
	allRolledBack := true

	for _, txAware := range e.txAwares {
		out := normalize(txAware.RollbackTx())
		if !out.ok {
			allRolledBack = false
			e.logger.Warn("could not roll back transaction-aware",
				zap.String("participant", txAware.GetName()),
				zap.Stringer("tx", tx.ID),
				zap.Error(out.cause))
		}
	}

	return allRolledBack
}

// postCommit runs housekeeping on every participant even if one of them
// fails: the transaction is already durably committed, so later participants
// must still get their turn. The first failure is surfaced to the caller.
func (e *TransactionExecutor[I, O]) postCommit(tx *domain.Transaction) error {
	var failure *domain.TransactionFailureError

	for _, txAware := range e.txAwares {
		err := txAware.PostTxCommit()
		if err == nil {
			continue
		}

		e.logger.Error("post-commit failed",
			zap.String("participant", txAware.GetName()),
			zap.Stringer("tx", tx.ID),
			zap.Error(err))

		if failure == nil {
			failure = &domain.TransactionFailureError{
				Message: fmt.Sprintf("post-commit failed for transaction-aware %q", txAware.GetName()),
				Cause:   err,
			}
		}
	}

	if failure != nil {
		return failure
	}

	return nil
}
