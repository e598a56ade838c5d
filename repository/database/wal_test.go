package database

import (
	"fmt"
	"os"
	"testing"

	"github.com/Nystya/optimistic-commit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walEntry(txID string, key string, data string) *domain.Entry {
	return &domain.Entry{
		TxID:  txID,
		Key:   key,
		State: domain.Commit,
		Data:  []byte(data),
	}
}

func TestAppendAndRecover(t *testing.T) {
	dir := t.TempDir()

	wal, err := NewWriteAheadLog(&WriteAheadLogConfig{Dir: dir, MaxFileSize: 100, Prefix: "node1"})
	require.NoError(t, err)

	require.NoError(t, wal.Append(walEntry("tx1", "a", "1")))
	require.NoError(t, wal.Append(walEntry("tx1", "b", "2")))
	require.NoError(t, wal.Append(walEntry("tx2", "a", "3")))

	entries, err := wal.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "b", entries[1].Key)
	assert.Equal(t, "tx2", entries[2].TxID)
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()

	// 1KB segments: a few dozen records force a rotation.
	wal, err := NewWriteAheadLog(&WriteAheadLogConfig{Dir: dir, MaxFileSize: 1, Prefix: "node1"})
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		entry := walEntry(fmt.Sprintf("tx%d", i), fmt.Sprintf("key-%d", i), "0123456789012345678901234567890123456789")
		require.NoError(t, wal.Append(entry))
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Greater(t, len(files), 1)

	entries, err := wal.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 30)

	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("key-%d", i), entry.Key)
	}
}

func TestReopenContinuesLastSegment(t *testing.T) {
	dir := t.TempDir()
	config := &WriteAheadLogConfig{Dir: dir, MaxFileSize: 100, Prefix: "node1"}

	wal, err := NewWriteAheadLog(config)
	require.NoError(t, err)
	require.NoError(t, wal.Append(walEntry("tx1", "a", "1")))

	reopened, err := NewWriteAheadLog(config)
	require.NoError(t, err)
	require.NoError(t, reopened.Append(walEntry("tx2", "b", "2")))

	entries, err := reopened.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "b", entries[1].Key)
}

func TestPrefixesAreIsolated(t *testing.T) {
	dir := t.TempDir()

	wal1, err := NewWriteAheadLog(&WriteAheadLogConfig{Dir: dir, MaxFileSize: 100, Prefix: "node1"})
	require.NoError(t, err)

	wal2, err := NewWriteAheadLog(&WriteAheadLogConfig{Dir: dir, MaxFileSize: 100, Prefix: "node2"})
	require.NoError(t, err)

	require.NoError(t, wal1.Append(walEntry("tx1", "a", "1")))
	require.NoError(t, wal2.Append(walEntry("tx2", "b", "2")))

	entries, err := wal1.Recover()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Key)
}
