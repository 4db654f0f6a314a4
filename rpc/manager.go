// Package rpc implements the common.RPCManager contract on top of the
// standard library's net/rpc package. It is the injected transport of the
// consensus and quorum cores; neither of those packages dials the network
// themselves.
package rpc

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/google/uuid"

	"github.com/tunakv/tunakv/common"
)

// Every receiver is registered under this name, so a single Peer can call
// into raft servers and replica servers alike.
const serviceName = "RPCServer"

// Manager serves one local receiver and tracks the peers handed out by
// ConnectToPeer/ConnectToReplica so they can be partitioned and healed
// together in tests.
type Manager struct {
	mu       sync.Mutex
	listener net.Listener
	peers    []*Peer
	stopped  bool
}

var _ common.RPCManager = &Manager{}

func NewManager() *Manager {
	return &Manager{}
}

// Start serves the given receiver at the given address. It blocks until the
// manager is stopped and only returns an error if the server could not be
// started. net/rpc registers every exported two-argument method of the
// receiver; anything else is skipped.
func (manager *Manager) Start(address common.ServerAddress, receiver interface{}) error {
	server := rpc.NewServer()
	if err := server.RegisterName(serviceName, receiver); err != nil {
		return err
	}
	listener, err := net.Listen("tcp", string(address))
	if err != nil {
		return err
	}
	manager.mu.Lock()
	if manager.stopped {
		manager.mu.Unlock()
		listener.Close()
		return fmt.Errorf("manager already stopped")
	}
	manager.listener = listener
	manager.mu.Unlock()

	// Accept returns once the listener is closed by Stop.
	server.Accept(listener)
	return nil
}

func (manager *Manager) ConnectToPeer(address common.ServerAddress, id uuid.UUID) (common.RPCServer, error) {
	return manager.track(NewPeer(address, id)), nil
}

func (manager *Manager) ConnectToReplica(address common.ServerAddress, id uuid.UUID) (common.ReplicaServer, error) {
	return manager.track(NewPeer(address, id)), nil
}

func (manager *Manager) track(peer *Peer) *Peer {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.peers = append(manager.peers, peer)
	return peer
}

// Stop permanently shuts the manager down, closing the listener and all
// managed peer connections.
func (manager *Manager) Stop() error {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.stopped = true
	var err error
	if manager.listener != nil {
		err = manager.listener.Close()
		manager.listener = nil
	}
	for _, peer := range manager.peers {
		peer.close()
	}
	return err
}

// Disconnect simulates a network partition: all managed peers start failing
// their calls until Reconnect is called. The underlying connections stay
// usable so healing is instantaneous.
func (manager *Manager) Disconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for _, peer := range manager.peers {
		peer.partitioned.Store(true)
	}
}

func (manager *Manager) Reconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for _, peer := range manager.peers {
		peer.partitioned.Store(false)
	}
}
