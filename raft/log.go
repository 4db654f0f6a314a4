package raft

import (
	"fmt"

	"github.com/tunakv/tunakv/common"
)

// ReplicatedLog is the append-only log of one raft server, layered over a
// durable common.LogStore. It enforces the append discipline consensus
// relies on: entries are contiguous, terms never regress, and conflicting
// suffixes are removed only through explicit truncation.
//
// Index 0 always holds a sentinel entry {0, 0, nil}, so every real entry
// has a predecessor to match against.
type ReplicatedLog struct {
	store common.LogStore
}

func NewReplicatedLog(store common.LogStore) (*ReplicatedLog, error) {
	length, err := store.Length()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		if err := store.Store(common.LogEntry{Index: 0, Term: 0}); err != nil {
			return nil, fmt.Errorf("unable to store sentinel entry: %w", err)
		}
	}
	return &ReplicatedLog{store: store}, nil
}

// Append adds the entry at the tail of the log. The entry's index must be
// exactly lastIndex+1 and its term must not regress; the caller resolves
// conflicts via TruncateFrom before appending.
func (log *ReplicatedLog) Append(entry common.LogEntry) error {
	last, err := log.Last()
	if err != nil {
		return err
	}
	if entry.Index != last.Index+1 {
		return fmt.Errorf("append at index %d breaks contiguity (last index is %d)", entry.Index, last.Index)
	}
	if entry.Term < last.Term {
		return fmt.Errorf("append of term %d regresses below tail term %d", entry.Term, last.Term)
	}
	return log.store.Store(entry)
}

// TruncateFrom removes all entries at or after the given index. Used when a
// follower's log diverges from the leader's. The sentinel is never removed.
func (log *ReplicatedLog) TruncateFrom(index int64) error {
	if index <= 0 {
		return fmt.Errorf("refusing to truncate at index %d (sentinel is immutable)", index)
	}
	return log.store.Truncate(index)
}

// EntryAt returns the entry at the given index, or an error if absent.
func (log *ReplicatedLog) EntryAt(index int64) (*common.LogEntry, error) {
	return log.store.Get(index)
}

// MatchesAt reports whether an entry exists at the given index with the
// given term. By the Log Matching property a true result guarantees that
// this log is identical to the sender's log for all entries up to index.
func (log *ReplicatedLog) MatchesAt(index, term int64) bool {
	if index < 0 {
		return false
	}
	entry, err := log.store.Get(index)
	if err != nil {
		return false
	}
	return entry.Term == term
}

// Last returns the entry at the tail of the log (the sentinel when empty).
func (log *ReplicatedLog) Last() (*common.LogEntry, error) {
	return log.store.GetLast()
}

// Length returns the number of entries including the sentinel.
func (log *ReplicatedLog) Length() (int64, error) {
	return log.store.Length()
}

func (log *ReplicatedLog) Close() error {
	return log.store.Close()
}
