package raft

// Keys under which a server's non-volatile state variables are persisted.
const (
	votedForKey    = "votedFor"
	termKey        = "term"
	commitIndexKey = "commitIndex"
)

// maxAppendBatch bounds how many entries a single AppendEntries RPC carries
// when catching up a lagging follower.
const maxAppendBatch = 64
