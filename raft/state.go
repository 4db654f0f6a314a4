package raft

import (
	"fmt"

	"github.com/google/uuid"
)

// RaftState is the role of a raft server. Roles only ever change through
// the convertTo* transition methods; there are no other writes to State.
type RaftState int

const (
	Follower RaftState = iota
	Candidate
	Leader
)

func (s RaftState) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return fmt.Sprintf("RaftState(%d)", int(s))
	}
}

// state bundles all mutable raft state of one server. It is owned
// exclusively by that server and only accessed under the server's mutex,
// so it is never observable mid-transition.
type state struct {
	// These 3 variables are persisted
	Term        int64
	VotedFor    *uuid.UUID
	CommitIndex int64

	// These are volatile
	State         RaftState
	AppliedIndex  int64
	CurrentLeader *uuid.UUID

	NextIndexMap  map[uuid.UUID]int64
	MatchIndexMap map[uuid.UUID]int64
}
