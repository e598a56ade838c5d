package service

import "github.com/Nystya/optimistic-commit/domain"

// InMemoryTxSystemClient adapts the in-memory transaction manager to the
// TransactionSystemClient capability. It is a thin facade: the manager owns
// all state and synchronization.
type InMemoryTxSystemClient struct {
	manager        *InMemoryTransactionManager
	defaultTimeout int
}

func NewInMemoryTxSystemClient(manager *InMemoryTransactionManager) *InMemoryTxSystemClient {
	return &InMemoryTxSystemClient{
		manager:        manager,
		defaultTimeout: DefaultShortTimeout,
	}
}

// WithDefaultTimeout overrides the deadline, in seconds, applied by
// StartShort. Zero means no deadline.
func (c *InMemoryTxSystemClient) WithDefaultTimeout(seconds int) *InMemoryTxSystemClient {
	c.defaultTimeout = seconds
	return c
}

func (c *InMemoryTxSystemClient) StartShort() (*domain.Transaction, error) {
	return c.manager.Start(c.defaultTimeout), nil
}

func (c *InMemoryTxSystemClient) StartShortTimeout(timeoutSeconds int) (*domain.Transaction, error) {
	return c.manager.Start(timeoutSeconds), nil
}

func (c *InMemoryTxSystemClient) StartLong() (*domain.Transaction, error) {
	return c.manager.Start(0), nil
}

func (c *InMemoryTxSystemClient) CanCommit(tx *domain.Transaction, changes [][]byte) (bool, error) {
	return c.manager.CanCommit(tx, changes), nil
}

func (c *InMemoryTxSystemClient) Commit(tx *domain.Transaction) (bool, error) {
	return c.manager.Commit(tx), nil
}

func (c *InMemoryTxSystemClient) Abort(tx *domain.Transaction) error {
	c.manager.Abort(tx)
	return nil
}

func (c *InMemoryTxSystemClient) Invalidate(tx *domain.Transaction) error {
	c.manager.Invalidate(tx)
	return nil
}
