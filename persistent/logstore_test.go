package persistent_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/persistent"
)

func tempLogStore(t *testing.T) persistent.DbLogStore {
	store, err := persistent.CreateDbLogStore(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLogStore_Store(t *testing.T) {
	store := tempLogStore(t)

	assert.NoError(t, store.Store(common.LogEntry{Index: 0, Term: 0}))
	assert.NoError(t, store.Store(common.LogEntry{Index: 1, Term: 0}))
	// overwriting an existing index is allowed
	assert.NoError(t, store.Store(common.LogEntry{Index: 0, Term: 0}))
	// discontinuous append is not
	assert.Error(t, store.Store(common.LogEntry{Index: 69, Term: 0}))
}

func TestLogStore_Get(t *testing.T) {
	store := tempLogStore(t)

	require.NoError(t, store.Store(common.LogEntry{Index: 0, Term: 0, Data: []byte("entry0")}))
	require.NoError(t, store.Store(common.LogEntry{Index: 1, Term: 0, Data: []byte("entry1")}))

	entry, err := store.Get(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, entry.Index)
	assert.Equal(t, []byte("entry0"), entry.Data)

	require.NoError(t, store.Store(common.LogEntry{Index: 0, Term: 0, Data: []byte("updated_entry0")}))
	entry, err = store.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated_entry0"), entry.Data)

	_, err = store.Get(69)
	assert.Error(t, err, "got entry for non-existing index")
}

func TestLogStore_GetLastAndLength(t *testing.T) {
	store := tempLogStore(t)

	length, err := store.Length()
	require.NoError(t, err)
	assert.EqualValues(t, 0, length)
	_, err = store.GetLast()
	assert.Error(t, err, "empty log has no last entry")

	for i := int64(0); i < 5; i++ {
		require.NoError(t, store.Store(common.LogEntry{Index: i, Term: i / 2}))
	}
	length, err = store.Length()
	require.NoError(t, err)
	assert.EqualValues(t, 5, length)

	last, err := store.GetLast()
	require.NoError(t, err)
	assert.EqualValues(t, 4, last.Index)
	assert.EqualValues(t, 2, last.Term)
}

func TestLogStore_Truncate(t *testing.T) {
	store := tempLogStore(t)

	for i := int64(0); i < 10; i++ {
		require.NoError(t, store.Store(common.LogEntry{Index: i, Term: 1}))
	}
	require.NoError(t, store.Truncate(4))

	length, err := store.Length()
	require.NoError(t, err)
	assert.EqualValues(t, 4, length)

	last, err := store.GetLast()
	require.NoError(t, err)
	assert.EqualValues(t, 3, last.Index)

	_, err = store.Get(4)
	assert.Error(t, err)

	// the log is appendable again right at the truncation point
	assert.NoError(t, store.Store(common.LogEntry{Index: 4, Term: 2}))
	assert.Error(t, store.Store(common.LogEntry{Index: 6, Term: 2}))
}
