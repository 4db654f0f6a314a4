package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tunakv/tunakv/common"
)

// KeyValFSM is the implementation of the common.FSM interface
// for the key-value store. We store the key value pairs
// in-memory because they can be reliably reconstructed
// on server restarts by simply replaying the log
type KeyValFSM struct {
	store map[string]string
	// results of already-applied transactions, replayed for duplicates
	applied map[uuid.UUID]appliedResult
}

type appliedResult struct {
	bytes []byte
	err   error
}

var _ common.FSM = &KeyValFSM{}

func NewKeyValFSM() *KeyValFSM {
	return &KeyValFSM{
		store:   make(map[string]string),
		applied: make(map[uuid.UUID]appliedResult),
	}
}

func (fsm *KeyValFSM) Apply(entry common.LogEntry) ([]byte, error) {
	if entry.Data == nil {
		// sentinel and no-op entries carry no command
		return nil, nil
	}
	var request Request
	if err := json.Unmarshal(entry.Data, &request); err != nil {
		return nil, fmt.Errorf("malformed command at index %d: %w", entry.Index, err)
	}
	if request.TransactionId != uuid.Nil {
		if result, ok := fsm.applied[request.TransactionId]; ok {
			return result.bytes, result.err
		}
	}
	var result appliedResult
	switch request.Type {
	case Set:
		fsm.store[request.Key] = request.Val
	case Get:
		if val, ok := fsm.store[request.Key]; ok {
			result.bytes = []byte(val)
		} else {
			result.err = errors.New("key does not exist")
		}
	case Del:
		if _, ok := fsm.store[request.Key]; ok {
			delete(fsm.store, request.Key)
		} else {
			result.err = errors.New("key does not exist")
		}
	default:
		result.err = fmt.Errorf("unknown request type %d", request.Type)
	}
	if request.TransactionId != uuid.Nil {
		fsm.applied[request.TransactionId] = result
	}
	return result.bytes, result.err
}
