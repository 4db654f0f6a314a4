package common

import (
	"github.com/google/uuid"
)

type ClientRequestRPC struct {
	Data []byte
}

type ClientRequestRPCResult struct {
	Success bool
	// Error will be non-empty iff Success is False
	Error string
	// Data can be non-nil for example for Get calls
	Data []byte
	// CommitIndex is the log index at which the request committed
	CommitIndex int64
	// LeaderHint names the believed leader when the receiving server
	// could not serve the request itself
	LeaderHint *uuid.UUID
}

// See Raft paper for details on below RPCs

type RequestVoteRPC struct {
	Term         int64
	CandidateID  uuid.UUID
	LastLogIndex int64
	LastLogTerm  int64
}

type RequestVoteRPCResult struct {
	Term        int64
	VoteGranted bool
}

type AppendEntriesRPC struct {
	Term              int64
	Leader            uuid.UUID
	PrevLogIndex      int64
	PrevLogTerm       int64
	Entries           []LogEntry
	LeaderCommitIndex int64
}

type AppendEntriesRPCResult struct {
	Term    int64
	Success bool
}

// Quorum-path RPCs. A coordinator fans these out to all N replicas of a key.

type ReplicaWriteRPC struct {
	Key     string
	Version VersionedValue
	// Repair marks writes issued by read repair; they carry the exact
	// reconciled version and must not be re-stamped by the replica.
	Repair bool
}

type ReplicaWriteRPCResult struct {
	Ack   bool
	Error string
}

type ReplicaReadRPC struct {
	Key string
}

type ReplicaReadRPCResult struct {
	Found   bool
	Version VersionedValue
	Error   string
}
