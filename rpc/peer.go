package rpc

import (
	"fmt"
	"io"
	"net/rpc"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/tunakv/tunakv/common"
)

// Peer is a lazily-dialed connection to a remote server. It implements both
// common.RPCServer and common.ReplicaServer; which half is meaningful
// depends on what runs at the far end.
type Peer struct {
	id      uuid.UUID
	address common.ServerAddress

	mu     sync.Mutex
	client *rpc.Client

	partitioned *atomic.Bool
}

var (
	_ common.RPCServer     = &Peer{}
	_ common.ReplicaServer = &Peer{}
)

// NewPeer creates a Peer instance with lazy initialization. The actual
// connection is not established until the first call takes place.
func NewPeer(address common.ServerAddress, id uuid.UUID) *Peer {
	return &Peer{
		id:          id,
		address:     address,
		partitioned: atomic.NewBool(false),
	}
}

// call takes care of automatically re-trying on transient failures.
// rpc.Client is safe for concurrent calls, so the peer's lock only guards
// dialing and replacing the client, never the call itself.
func (peer *Peer) call(method string, args interface{}, result interface{}) error {
	if peer.partitioned.Load() {
		return fmt.Errorf("peer %v is unreachable (partitioned)", peer.id)
	}
	for i := 0; i < 3; i++ {
		client, err := peer.conn()
		if err != nil {
			// retry with one-second delay
			time.Sleep(time.Second)
			continue
		}
		err = client.Call(method, args, result)
		if err == io.EOF || err == rpc.ErrShutdown {
			// connection went away under us, redial and retry
			peer.drop(client)
			continue
		}
		return err
	}
	return fmt.Errorf("peer %v at %v did not respond", peer.id, peer.address)
}

func (peer *Peer) conn() (*rpc.Client, error) {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.client == nil {
		client, err := rpc.Dial("tcp", string(peer.address))
		if err != nil {
			return nil, err
		}
		peer.client = client
	}
	return peer.client, nil
}

func (peer *Peer) drop(client *rpc.Client) {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	client.Close()
	if peer.client == client {
		peer.client = nil
	}
}

func (peer *Peer) close() {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.client != nil {
		peer.client.Close()
		peer.client = nil
	}
}

func (peer *Peer) GetID() uuid.UUID {
	return peer.id
}

func (peer *Peer) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	return peer.call(serviceName+".ClientRequest", args, result)
}

func (peer *Peer) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	return peer.call(serviceName+".RequestVote", args, result)
}

func (peer *Peer) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	return peer.call(serviceName+".AppendEntries", args, result)
}

func (peer *Peer) ReplicaWrite(args *common.ReplicaWriteRPC, result *common.ReplicaWriteRPCResult) error {
	return peer.call(serviceName+".ReplicaWrite", args, result)
}

func (peer *Peer) ReplicaRead(args *common.ReplicaReadRPC, result *common.ReplicaReadRPCResult) error {
	return peer.call(serviceName+".ReplicaRead", args, result)
}
