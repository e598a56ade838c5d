package domain

import "github.com/google/uuid"

// Status marks the disposition of a single write-ahead log record.
type Status int32

const (
	Pending Status = 0
	Commit  Status = 1
	Abort   Status = 2
)

// CommitState is the authority-visible disposition of a whole transaction.
type CommitState int32

const (
	StateStarted CommitState = iota
	StateCommitted
	StateAborted
	StateInvalidated

	// StateUnknown reports a transaction the authority has never seen.
	StateUnknown CommitState = -1
)

func (s CommitState) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	case StateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Transaction is issued by the transaction authority for one unit of work.
// It is immutable once issued: the same value is passed to every participant
// call for the transaction's lifetime.
//
// ReadPointer and WritePointer are the visibility bounds: a record stamped
// with a pointer above ReadPointer belongs to a transaction that started
// after this one and must not be visible to it. Invalids lists write pointers
// that are permanently excluded from visibility because their rollback could
// not be proven complete.
type Transaction struct {
	ID           uuid.UUID
	ReadPointer  int64
	WritePointer int64
	Invalids     []int64
}

// IsVisible reports whether a record stamped with the given write pointer may
// be read by this transaction.
func (t *Transaction) IsVisible(writePointer int64) bool {
	if writePointer == t.WritePointer {
		return true
	}

	if writePointer > t.ReadPointer {
		return false
	}

	for _, invalid := range t.Invalids {
		if writePointer == invalid {
			return false
		}
	}

	return true
}

// Entry is a single record in a store and its write-ahead log.
type Entry struct {
	TxID         string `json:"tx_id"`
	WritePointer int64  `json:"write_pointer"`
	Key          string `json:"key"`
	State        Status `json:"state"`
	Tombstone    bool   `json:"tombstone,omitempty"`
	Data         []byte `json:"data"`
}
