package service

import (
	"testing"
	"time"

	"github.com/Nystya/optimistic-commit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartShortUsesConfiguredTimeout(t *testing.T) {
	m := NewInMemoryTransactionManager()

	base := time.Now()
	m.now = func() time.Time { return base }

	client := NewInMemoryTxSystemClient(m).WithDefaultTimeout(1)

	tx1, err := client.StartShort()
	require.NoError(t, err)
	require.Equal(t, domain.StateStarted, m.State(tx1))

	m.now = func() time.Time { return base.Add(2 * time.Second) }

	_, err = client.StartShort()
	require.NoError(t, err)

	// The configured one-second deadline has passed.
	assert.Equal(t, domain.StateInvalidated, m.State(tx1))
}

func TestStartShortDefaultTimeout(t *testing.T) {
	m := NewInMemoryTransactionManager()

	base := time.Now()
	m.now = func() time.Time { return base }

	client := NewInMemoryTxSystemClient(m)

	tx1, err := client.StartShort()
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(2 * time.Second) }

	_, err = client.StartShort()
	require.NoError(t, err)

	// Two seconds is well within the default deadline.
	assert.Equal(t, domain.StateStarted, m.State(tx1))
}

func TestStartLongHasNoDeadline(t *testing.T) {
	m := NewInMemoryTransactionManager()

	base := time.Now()
	m.now = func() time.Time { return base }

	client := NewInMemoryTxSystemClient(m)

	tx1, err := client.StartLong()
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(24 * time.Hour) }

	_, err = client.StartShort()
	require.NoError(t, err)

	assert.Equal(t, domain.StateStarted, m.State(tx1))
}
