package raft

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/tunakv/tunakv/common"
)

// Helpers for loading and storing a server's non-volatile state variables.
// votedFor must be persisted before a vote response leaves the server, and
// term before the server acts on a term change.

func loadTerm(store common.PersistentStore) (int64, error) {
	raw, err := store.GetDefault([]byte(termKey), []byte("0"))
	if err != nil {
		return 0, fmt.Errorf("unable to load term: %w", err)
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func saveTerm(store common.PersistentStore, term int64) error {
	return store.Set([]byte(termKey), []byte(strconv.FormatInt(term, 10)))
}

func loadVotedFor(store common.PersistentStore) (*uuid.UUID, error) {
	raw, err := store.GetDefault([]byte(votedForKey), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to load votedFor: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	votedFor, err := uuid.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt votedFor record: %w", err)
	}
	return &votedFor, nil
}

func saveVotedFor(store common.PersistentStore, votedFor *uuid.UUID) error {
	if votedFor == nil {
		return store.Set([]byte(votedForKey), nil)
	}
	return store.Set([]byte(votedForKey), []byte(votedFor.String()))
}

func loadCommitIndex(store common.PersistentStore) (int64, error) {
	raw, err := store.GetDefault([]byte(commitIndexKey), []byte("0"))
	if err != nil {
		return 0, fmt.Errorf("unable to load commitIndex: %w", err)
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func saveCommitIndex(store common.PersistentStore, commitIndex int64) error {
	return store.Set([]byte(commitIndexKey), []byte(strconv.FormatInt(commitIndex, 10)))
}
