package raft

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/persistent"
)

func makeLog(t *testing.T) *ReplicatedLog {
	store, err := persistent.CreateDbLogStore(filepath.Join(t.TempDir(), "log.db"))
	assert.NoError(t, err)
	log, err := NewReplicatedLog(store)
	assert.NoError(t, err)
	return log
}

func TestReplicatedLog_SentinelAtIndexZero(t *testing.T) {
	log := makeLog(t)
	defer log.Close()

	last, err := log.Last()
	assert.NoError(t, err)
	assert.EqualValues(t, 0, last.Index)
	assert.EqualValues(t, 0, last.Term)
	assert.Nil(t, last.Data)

	length, err := log.Length()
	assert.NoError(t, err)
	assert.EqualValues(t, 1, length)
}

func TestReplicatedLog_AppendEnforcesContiguity(t *testing.T) {
	log := makeLog(t)
	defer log.Close()

	assert.NoError(t, log.Append(common.LogEntry{Index: 1, Term: 1, Data: []byte("a")}))
	assert.Error(t, log.Append(common.LogEntry{Index: 3, Term: 1, Data: []byte("b")}))
	assert.Error(t, log.Append(common.LogEntry{Index: 1, Term: 1, Data: []byte("b")}))
	assert.NoError(t, log.Append(common.LogEntry{Index: 2, Term: 2, Data: []byte("b")}))

	// terms never regress along the log
	assert.Error(t, log.Append(common.LogEntry{Index: 3, Term: 1, Data: []byte("c")}))
}

func TestReplicatedLog_TruncateFrom(t *testing.T) {
	log := makeLog(t)
	defer log.Close()

	for i := int64(1); i <= 5; i++ {
		assert.NoError(t, log.Append(common.LogEntry{Index: i, Term: 1}))
	}
	assert.NoError(t, log.TruncateFrom(3))

	last, err := log.Last()
	assert.NoError(t, err)
	assert.EqualValues(t, 2, last.Index)

	// the sentinel is immutable
	assert.Error(t, log.TruncateFrom(0))

	// the log accepts appends again at the truncation point
	assert.NoError(t, log.Append(common.LogEntry{Index: 3, Term: 2}))
}

func TestReplicatedLog_MatchesAt(t *testing.T) {
	log := makeLog(t)
	defer log.Close()

	assert.NoError(t, log.Append(common.LogEntry{Index: 1, Term: 1}))
	assert.NoError(t, log.Append(common.LogEntry{Index: 2, Term: 3}))

	assert.True(t, log.MatchesAt(0, 0))
	assert.True(t, log.MatchesAt(1, 1))
	assert.True(t, log.MatchesAt(2, 3))
	assert.False(t, log.MatchesAt(2, 1))
	assert.False(t, log.MatchesAt(5, 1))
	assert.False(t, log.MatchesAt(-1, 0))
}
