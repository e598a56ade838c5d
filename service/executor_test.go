package service

import (
	"errors"
	"testing"

	"github.com/Nystya/optimistic-commit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	succeed     = 0
	returnFalse = 1
	returnError = 2
)

type dummyTxAware struct {
	name string

	tx            *domain.Transaction
	started       bool
	checked       bool
	committed     bool
	postCommitted bool
	rolledBack    bool
	changes       [][]byte

	failStartTxOnce      int
	failChangesTxOnce    int
	failCommitTxOnce     int
	failPostCommitTxOnce int
	failRollbackTxOnce   int

	calls *[]string
}

func (d *dummyTxAware) record(phase string) {
	if d.calls != nil {
		*d.calls = append(*d.calls, d.name+"."+phase)
	}
}

func (d *dummyTxAware) addChange(key []byte) {
	d.changes = append(d.changes, key)
}

func (d *dummyTxAware) StartTx(tx *domain.Transaction) error {
	d.record("startTx")

	d.tx = tx
	d.started = true
	d.checked = false
	d.committed = false
	d.postCommitted = false
	d.rolledBack = false
	d.changes = nil

	if d.failStartTxOnce == returnError {
		return errors.New("start failure")
	}

	return nil
}

func (d *dummyTxAware) GetTxChanges() ([][]byte, error) {
	d.record("getTxChanges")

	d.checked = true

	if d.failChangesTxOnce == returnError {
		return nil, errors.New("changes failure")
	}

	return append([][]byte(nil), d.changes...), nil
}

func (d *dummyTxAware) CommitTx() (bool, error) {
	d.record("commitTx")

	d.committed = true

	if d.failCommitTxOnce == returnError {
		return false, errors.New("persist failure")
	}

	return d.failCommitTxOnce == succeed, nil
}

func (d *dummyTxAware) PostTxCommit() error {
	d.record("postTxCommit")

	d.postCommitted = true

	if d.failPostCommitTxOnce == returnError {
		return errors.New("post failure")
	}

	return nil
}

func (d *dummyTxAware) RollbackTx() (bool, error) {
	d.record("rollbackTx")

	d.rolledBack = true

	if d.failRollbackTxOnce == returnError {
		return false, errors.New("rollback failure")
	}

	return d.failRollbackTxOnce == succeed, nil
}

func (d *dummyTxAware) GetName() string {
	return d.name
}

type dummyTxClient struct {
	*InMemoryTxSystemClient

	failCanCommitOnce bool
	failCommitOnce    bool

	lastTx *domain.Transaction
}

func (c *dummyTxClient) StartShort() (*domain.Transaction, error) {
	tx, err := c.InMemoryTxSystemClient.StartShort()
	c.lastTx = tx

	return tx, err
}

func (c *dummyTxClient) CanCommit(tx *domain.Transaction, changes [][]byte) (bool, error) {
	if c.failCanCommitOnce {
		c.failCanCommitOnce = false
		return false, nil
	}

	return c.InMemoryTxSystemClient.CanCommit(tx, changes)
}

func (c *dummyTxClient) Commit(tx *domain.Transaction) (bool, error) {
	if c.failCommitOnce {
		c.failCommitOnce = false
		return false, nil
	}

	return c.InMemoryTxSystemClient.Commit(tx)
}

type executorFixture struct {
	manager *InMemoryTransactionManager
	client  *dummyTxClient
	ds1     *dummyTxAware
	ds2     *dummyTxAware
	calls   []string
}

func newExecutorFixture() *executorFixture {
	f := &executorFixture{
		manager: NewInMemoryTransactionManager(),
	}

	f.client = &dummyTxClient{InMemoryTxSystemClient: NewInMemoryTxSystemClient(f.manager)}
	f.ds1 = &dummyTxAware{name: "ds1", calls: &f.calls}
	f.ds2 = &dummyTxAware{name: "ds2", calls: &f.calls}

	return f
}

func (f *executorFixture) executor() *TransactionExecutor[int, int] {
	return NewTransactionExecutor[int, int](f.client, f.ds1, f.ds2)
}

// testFunction mutates both participants and squares its input.
func (f *executorFixture) testFunction(input int) (int, error) {
	f.ds1.addChange([]byte{'a'})
	f.ds2.addChange([]byte{'b'})

	return input * input, nil
}

func (f *executorFixture) state() domain.CommitState {
	return f.manager.State(f.client.lastTx)
}

func TestExecuteSuccessful(t *testing.T) {
	f := newExecutorFixture()

	result, err := f.executor().Execute(f.testFunction, 10)
	require.NoError(t, err)
	require.Equal(t, 100, result)

	assert.True(t, f.ds1.committed)
	assert.True(t, f.ds2.committed)
	assert.True(t, f.ds1.postCommitted)
	assert.True(t, f.ds2.postCommitted)
	assert.False(t, f.ds1.rolledBack)
	assert.False(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateCommitted, f.state())
}

func TestPostCommitFailure(t *testing.T) {
	f := newExecutorFixture()
	f.ds1.failPostCommitTxOnce = returnError

	_, err := f.executor().Execute(f.testFunction, 10)

	var failure *domain.TransactionFailureError
	require.ErrorAs(t, err, &failure)
	require.EqualError(t, failure.Cause, "post failure")

	// The transaction is already durably committed: post-commit ran on both
	// participants and nothing was rolled back.
	assert.True(t, f.ds1.committed)
	assert.True(t, f.ds2.committed)
	assert.True(t, f.ds1.postCommitted)
	assert.True(t, f.ds2.postCommitted)
	assert.False(t, f.ds1.rolledBack)
	assert.False(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateCommitted, f.state())
}

func TestPersistFailure(t *testing.T) {
	f := newExecutorFixture()
	f.ds1.failCommitTxOnce = returnError

	_, err := f.executor().Execute(f.testFunction, 10)

	var failure *domain.TransactionFailureError
	require.ErrorAs(t, err, &failure)
	require.EqualError(t, failure.Cause, "persist failure")

	// The second participant is never persisted, both are rolled back.
	assert.True(t, f.ds1.committed)
	assert.False(t, f.ds2.committed)
	assert.False(t, f.ds1.postCommitted)
	assert.False(t, f.ds2.postCommitted)
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateAborted, f.state())
}

func TestPersistFalse(t *testing.T) {
	f := newExecutorFixture()
	f.ds1.failCommitTxOnce = returnFalse

	_, err := f.executor().Execute(f.testFunction, 10)

	var failure *domain.TransactionFailureError
	require.ErrorAs(t, err, &failure)
	require.ErrorContains(t, failure.Cause, "persist failure")

	assert.True(t, f.ds1.committed)
	assert.False(t, f.ds2.committed)
	assert.False(t, f.ds1.postCommitted)
	assert.False(t, f.ds2.postCommitted)
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateAborted, f.state())
}

func TestPersistAndRollbackFailure(t *testing.T) {
	f := newExecutorFixture()
	f.ds2.failCommitTxOnce = returnError
	f.ds1.failRollbackTxOnce = returnError

	_, err := f.executor().Execute(f.testFunction, 10)

	var failure *domain.TransactionFailureError
	require.ErrorAs(t, err, &failure)
	require.EqualError(t, failure.Cause, "persist failure")

	assert.False(t, f.ds1.postCommitted)
	assert.False(t, f.ds2.postCommitted)
	// ds2 is rolled back even though ds1's rollback failed.
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateInvalidated, f.state())
}

func TestPersistAndRollbackFalse(t *testing.T) {
	f := newExecutorFixture()
	f.ds2.failCommitTxOnce = returnFalse
	f.ds1.failRollbackTxOnce = returnFalse

	_, err := f.executor().Execute(f.testFunction, 10)

	var failure *domain.TransactionFailureError
	require.ErrorAs(t, err, &failure)
	require.ErrorContains(t, failure.Cause, "persist failure")

	assert.False(t, f.ds1.postCommitted)
	assert.False(t, f.ds2.postCommitted)
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateInvalidated, f.state())
}

func TestCommitFalse(t *testing.T) {
	f := newExecutorFixture()
	f.client.failCommitOnce = true

	_, err := f.executor().Execute(f.testFunction, 10)

	// An authority-level rejection is a conflict, not a persist failure, and
	// carries no cause.
	var conflict *domain.TransactionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Nil(t, errors.Unwrap(err))

	assert.True(t, f.ds1.committed)
	assert.True(t, f.ds2.committed)
	assert.False(t, f.ds1.postCommitted)
	assert.False(t, f.ds2.postCommitted)
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateAborted, f.state())
}

func TestCanCommitFalse(t *testing.T) {
	f := newExecutorFixture()
	f.client.failCanCommitOnce = true

	_, err := f.executor().Execute(f.testFunction, 10)

	var conflict *domain.TransactionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Nil(t, errors.Unwrap(err))

	assert.False(t, f.ds1.committed)
	assert.False(t, f.ds2.committed)
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateAborted, f.state())
}

func TestStartFailure(t *testing.T) {
	f := newExecutorFixture()
	f.ds1.failStartTxOnce = returnError

	_, err := f.executor().Execute(f.testFunction, 10)

	// Fatal at start: the participant's own error surfaces unwrapped and no
	// other phase runs for any participant.
	require.EqualError(t, err, "start failure")

	var failure *domain.TransactionFailureError
	require.False(t, errors.As(err, &failure))

	assert.False(t, f.ds2.started)
	assert.False(t, f.ds1.rolledBack)
	assert.False(t, f.ds2.rolledBack)
}

func TestFunctionFailure(t *testing.T) {
	f := newExecutorFixture()

	_, err := f.executor().Execute(func(int) (int, error) {
		return 0, errors.New("function failure")
	}, 10)

	var failure *domain.TransactionFailureError
	require.ErrorAs(t, err, &failure)
	require.EqualError(t, failure.Cause, "function failure")

	assert.False(t, f.ds1.committed)
	assert.False(t, f.ds2.committed)
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateAborted, f.state())
}

func TestChangesFailure(t *testing.T) {
	f := newExecutorFixture()
	f.ds1.failChangesTxOnce = returnError

	_, err := f.executor().Execute(f.testFunction, 10)

	var failure *domain.TransactionFailureError
	require.ErrorAs(t, err, &failure)
	require.EqualError(t, failure.Cause, "changes failure")

	assert.True(t, f.ds1.checked)
	assert.False(t, f.ds2.checked)
	assert.True(t, f.ds1.rolledBack)
	assert.True(t, f.ds2.rolledBack)
	assert.Equal(t, domain.StateAborted, f.state())
}

func TestPhaseOrdering(t *testing.T) {
	f := newExecutorFixture()
	executor := f.executor()

	wantOrder := []string{
		"ds1.startTx", "ds2.startTx",
		"ds1.getTxChanges", "ds2.getTxChanges",
		"ds1.commitTx", "ds2.commitTx",
		"ds1.postTxCommit", "ds2.postTxCommit",
	}

	_, err := executor.Execute(f.testFunction, 2)
	require.NoError(t, err)
	require.Equal(t, wantOrder, f.calls)

	// The order is stable across calls for a fixed participant set.
	f.calls = nil
	_, err = executor.Execute(f.testFunction, 3)
	require.NoError(t, err)
	require.Equal(t, wantOrder, f.calls)
}
