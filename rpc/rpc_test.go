package rpc_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/rpc"
)

// testRaft is a mock raft server for exercising the transport.
type testRaft struct {
	id uuid.UUID
}

func (s testRaft) GetID() uuid.UUID { return s.id }

func (s testRaft) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	result.Success = true
	result.Data = args.Data
	return nil
}

func (s testRaft) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	// RequestVote always fails
	return fmt.Errorf("encountered some error")
}

func (s testRaft) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	result.Term = args.Term
	result.Success = true
	return nil
}

// testReplica is a mock replica server holding one value per key.
type testReplica struct {
	id uuid.UUID

	mu     sync.Mutex
	values map[string]common.VersionedValue
}

func (r *testReplica) GetID() uuid.UUID { return r.id }

func (r *testReplica) ReplicaWrite(args *common.ReplicaWriteRPC, result *common.ReplicaWriteRPCResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make(map[string]common.VersionedValue)
	}
	r.values[args.Key] = args.Version
	result.Ack = true
	return nil
}

func (r *testReplica) ReplicaRead(args *common.ReplicaReadRPC, result *common.ReplicaReadRPCResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	version, ok := r.values[args.Key]
	result.Found = ok
	result.Version = version
	return nil
}

func Test_StartAndCallRaftServer(t *testing.T) {
	manager := rpc.NewManager()
	t.Cleanup(func() { manager.Stop() })
	server := testRaft{id: uuid.New()}
	go func() {
		_ = manager.Start("127.0.0.1:16701", server)
	}()

	// lazy connect: succeeds even before the server is reachable
	peer, err := manager.ConnectToPeer("127.0.0.1:16701", server.id)
	require.NoError(t, err)

	// 50 peers concurrently call into the server
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var result common.ClientRequestRPCResult
			err := peer.ClientRequest(&common.ClientRequestRPC{Data: []byte("asdf")}, &result)
			assert.NoError(t, err)
			assert.True(t, result.Success)
			assert.Equal(t, []byte("asdf"), result.Data)

			var voteResult common.RequestVoteRPCResult
			err = peer.RequestVote(&common.RequestVoteRPC{}, &voteResult)
			assert.EqualError(t, err, "encountered some error")
		}()
	}
	wg.Wait()
}

func Test_ReplicaRPCsRoundTrip(t *testing.T) {
	manager := rpc.NewManager()
	t.Cleanup(func() { manager.Stop() })
	replica := &testReplica{id: uuid.New()}
	go func() {
		_ = manager.Start("127.0.0.1:16702", replica)
	}()

	peer, err := manager.ConnectToReplica("127.0.0.1:16702", replica.id)
	require.NoError(t, err)

	version := common.VersionedValue{Value: []byte("v1"), Timestamp: 42, Writer: uuid.New()}
	var writeResult common.ReplicaWriteRPCResult
	require.NoError(t, peer.ReplicaWrite(&common.ReplicaWriteRPC{Key: "k", Version: version}, &writeResult))
	assert.True(t, writeResult.Ack)

	var readResult common.ReplicaReadRPCResult
	require.NoError(t, peer.ReplicaRead(&common.ReplicaReadRPC{Key: "k"}, &readResult))
	assert.True(t, readResult.Found)
	assert.Equal(t, []byte("v1"), readResult.Version.Value)
	assert.EqualValues(t, 42, readResult.Version.Timestamp)
}

func Test_DisconnectPartitionsManagedPeers(t *testing.T) {
	manager := rpc.NewManager()
	t.Cleanup(func() { manager.Stop() })
	server := testRaft{id: uuid.New()}
	go func() {
		_ = manager.Start("127.0.0.1:16703", server)
	}()
	time.Sleep(100 * time.Millisecond)

	peer, err := manager.ConnectToPeer("127.0.0.1:16703", server.id)
	require.NoError(t, err)

	var result common.AppendEntriesRPCResult
	require.NoError(t, peer.AppendEntries(&common.AppendEntriesRPC{Term: 1}, &result))
	assert.True(t, result.Success)

	manager.Disconnect()
	err = peer.AppendEntries(&common.AppendEntriesRPC{Term: 1}, &result)
	assert.Error(t, err, "partitioned peer must fail its calls")

	manager.Reconnect()
	require.NoError(t, peer.AppendEntries(&common.AppendEntriesRPC{Term: 2}, &result))
	assert.True(t, result.Success)
}
