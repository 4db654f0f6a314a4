package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/tunakv/tunakv/common"
)

// KVStore implements a simple key-value store over the consensus cluster.
// This acts as a simple abstraction over the cluster's RPC interface
// intended to be used as a library by the clients.
// This is a thread-safe library.
type KVStore struct {
	RaftServers        []common.RPCServer
	LastKnownResponder *atomic.Int32
}

func NewKeyValStore(addrs []common.Server, manager common.RPCManager) (*KVStore, error) {
	store := KVStore{
		LastKnownResponder: atomic.NewInt32(0),
	}
	for _, addr := range addrs {
		server, err := manager.ConnectToPeer(addr.NetAddress, addr.ID)
		if err != nil {
			return nil, fmt.Errorf("error connecting to raft server at %v: %w", addr.NetAddress, err)
		}
		store.RaftServers = append(store.RaftServers, server)
	}
	return &store, nil
}

// submit marshals the request and tries the cluster members starting from
// the last known responder, so that in the steady state every request goes
// straight to a live server.
func (kv *KVStore) submit(request Request) (data []byte, index int64, err error) {
	bytes, err := json.Marshal(request)
	if err != nil {
		return nil, 0, err
	}
	lastKnownResponder := int(kv.LastKnownResponder.Load())
	for i := 0; i < len(kv.RaftServers); i++ {
		server := kv.RaftServers[(i+lastKnownResponder)%len(kv.RaftServers)]
		var result common.ClientRequestRPCResult
		reqErr := server.ClientRequest(&common.ClientRequestRPC{
			Data: bytes,
		}, &result)
		if reqErr != nil {
			err = multierr.Append(err, reqErr)
			continue
		}
		kv.LastKnownResponder.Store(int32((i + lastKnownResponder) % len(kv.RaftServers)))
		if !result.Success {
			err = multierr.Append(err, errors.New(result.Error))
			return nil, 0, err
		}
		return result.Data, result.CommitIndex, nil
	}
	return nil, 0, err
}

// SetWithUUID method creates a PUT request with given id, if the store has
// already seen a request (even if GET) with the same id it will not apply
// this operation again.
func (kv *KVStore) SetWithUUID(key, val string, id uuid.UUID) (int64, error) {
	_, index, err := kv.submit(Request{
		Type:          Set,
		Key:           key,
		Val:           val,
		TransactionId: id,
	})
	return index, err
}

// Set method can be used to add or update key-value pair in the store.
// It returns a UUID which may be used to retry the operation with
// idempotence guarantees using the SetWithUUID method.
func (kv *KVStore) Set(key, val string) (uuid.UUID, int64, error) {
	id := uuid.New()
	index, err := kv.SetWithUUID(key, val, id)
	return id, index, err
}

func (kv *KVStore) GetWithUUID(key string, id uuid.UUID) (string, error) {
	data, _, err := kv.submit(Request{
		Type:          Get,
		Key:           key,
		TransactionId: id,
	})
	return string(data), err
}

// Get method can be used to get the value corresponding to the given key in
// the store. It also returns a UUID that may be used to retry this
// operation with idempotence guarantees. In particular for get operation
// this means the call will return the older value seen at the time of the
// first call.
func (kv *KVStore) Get(key string) (uuid.UUID, string, error) {
	id := uuid.New()
	val, err := kv.GetWithUUID(key, id)
	return id, val, err
}

// DelWithUUID removes the key from the store with the same idempotence
// guarantees as SetWithUUID.
func (kv *KVStore) DelWithUUID(key string, id uuid.UUID) (int64, error) {
	_, index, err := kv.submit(Request{
		Type:          Del,
		Key:           key,
		TransactionId: id,
	})
	return index, err
}

func (kv *KVStore) Del(key string) (uuid.UUID, int64, error) {
	id := uuid.New()
	index, err := kv.DelWithUUID(key, id)
	return id, index, err
}
