package common

import (
	"github.com/google/uuid"
)

// LogStore is the interface that when implemented can be used as
// a store for storing logs of one raft server. LogStore is responsible
// for guaranteeing persistence of logs across server restarts.
type LogStore interface {
	// Store should overwrite the log entry if it already exists (at that index).
	// Storing at index > Length() must be rejected.
	Store(entry LogEntry) error
	Get(index int64) (*LogEntry, error)
	GetLast() (*LogEntry, error)
	Length() (int64, error)
	// Truncate removes all entries at or after the given index.
	Truncate(from int64) error
	Close() error
}

// PersistentStore implementations can be used as general-purpose stores
// for storing non-volatile data (such as Raft server's non-volatile state variables).
type PersistentStore interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	GetDefault(key []byte, defaultVal []byte) ([]byte, error)
	Close() error
}

// ValueStore holds the versioned values of a loosely-replicated node
// (the tunable-consistency path). Get returns (nil, nil) for absent keys.
type ValueStore interface {
	Get(key string) (*VersionedValue, error)
	Put(key string, version VersionedValue) error
	Close() error
}

// FSM represents a general finite-state machine which has only a single operation -- Apply.
type FSM interface {
	Apply(entry LogEntry) ([]byte, error)
}

// RPCServer is the interface exposed by a Raft server
// to outside (including other Raft servers, and clients)
type RPCServer interface {
	GetID() uuid.UUID
	ClientRequest(args *ClientRequestRPC, result *ClientRequestRPCResult) error
	RequestVote(args *RequestVoteRPC, result *RequestVoteRPCResult) error
	AppendEntries(args *AppendEntriesRPC, result *AppendEntriesRPCResult) error
}

// ReplicaServer is the interface exposed by a loosely-replicated value
// server to its quorum coordinators.
type ReplicaServer interface {
	GetID() uuid.UUID
	ReplicaWrite(args *ReplicaWriteRPC, result *ReplicaWriteRPCResult) error
	ReplicaRead(args *ReplicaReadRPC, result *ReplicaReadRPCResult) error
}

// RPCManager abstracts away RPC handling from RPC servers. Nodes refer to
// each other only by ID and address; all cross-node communication goes
// through peers obtained from a manager, never through shared memory.
type RPCManager interface {
	// Start is a blocking call.
	// It serves the given receiver at the given address until Stop is called.
	// Start only returns an error if it fails to start the server.
	Start(address ServerAddress, receiver interface{}) error
	ConnectToPeer(address ServerAddress, id uuid.UUID) (RPCServer, error)
	ConnectToReplica(address ServerAddress, id uuid.UUID) (ReplicaServer, error)
	// Stop the RPCManager (permanent)
	Stop() error
	// Disconnect disconnects all managed peers
	Disconnect()
	// Reconnect can heal the disconnected managed peers
	Reconnect()
}
