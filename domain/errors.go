package domain

import "fmt"

type NotFoundError struct {
	Key string
}

func (n *NotFoundError) Error() string {
	return fmt.Sprintf("no data found for key %q", n.Key)
}

// NoTransactionError is returned by a transaction-aware store when a write is
// attempted outside a transaction boundary.
type NoTransactionError struct {
	Op string
}

func (n *NoTransactionError) Error() string {
	return fmt.Sprintf("operation %q requires an active transaction", n.Op)
}

// TransactionFailureError is raised when a transaction could not complete for
// any reason other than a conflict: a participant failed to persist or roll
// back, the caller's function failed, or post-commit work failed after the
// transaction was already durably committed. The original failure is kept as
// Cause and available through errors.Unwrap.
type TransactionFailureError struct {
	Message string
	Cause   error
}

func (e *TransactionFailureError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}

	return e.Message
}

func (e *TransactionFailureError) Unwrap() error {
	return e.Cause
}

// TransactionConflictError is raised when the authority detects a write-write
// conflict, either at the conflict check or at the final commit decision. It
// never carries a cause: a conflict is an expected outcome and the caller may
// simply retry the whole transaction.
type TransactionConflictError struct {
	Message string
}

func (e *TransactionConflictError) Error() string {
	return e.Message
}
