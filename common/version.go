package common

import (
	"github.com/google/uuid"

	"github.com/tunakv/tunakv/clock"
)

// VersionedValue is one immutable version of a key's value on the
// tunable-consistency path. Later writes supersede it, they never mutate it.
// Timestamp is unix nanoseconds at the coordinating node and is only used
// to break ties between causally concurrent versions.
type VersionedValue struct {
	Value     []byte
	Clock     clock.VectorClock
	Timestamp int64
	Writer    uuid.UUID
	// Tombstone marks a replicated deletion. Tombstones must propagate like
	// writes, otherwise deleted keys resurrect through read repair.
	Tombstone bool
}

// VersionToken identifies the version observed or produced by a store
// operation. Strong-mode operations populate Index (the committed log
// index), tunable-mode operations populate Clock.
type VersionToken struct {
	Index int64
	Clock clock.VectorClock
}
