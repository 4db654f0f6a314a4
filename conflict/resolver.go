// Package conflict reconciles divergent versions of a key returned by
// different replicas on the tunable-consistency path.
package conflict

import (
	"bytes"
	"errors"

	"github.com/tunakv/tunakv/clock"
	"github.com/tunakv/tunakv/common"
)

// MergeFunc combines mutually concurrent versions into a single value.
// Applications supply one when losing a concurrent update is unacceptable.
type MergeFunc func(versions []common.VersionedValue) (common.VersionedValue, error)

// Resolver picks a single version out of the divergent versions of a key.
// Causally dominated versions are always discarded. Among the remaining
// concurrent versions the configured MergeFunc decides; without one the
// resolver falls back to last-write-wins by timestamp.
//
// Last-write-wins silently drops all but one of the concurrent updates.
// Callers that cannot tolerate that loss must set Merge.
type Resolver struct {
	Merge MergeFunc
}

// Resolve reconciles the given versions into one. The returned version's
// clock is the merge of all surviving clocks, so it dominates every version
// it displaced and read repair converges replicas towards it.
func (r Resolver) Resolve(versions []common.VersionedValue) (common.VersionedValue, error) {
	if len(versions) == 0 {
		return common.VersionedValue{}, errors.New("no versions to resolve")
	}
	frontier := Frontier(versions)
	resolved := frontier[0]
	if len(frontier) > 1 {
		if r.Merge != nil {
			merged, err := r.Merge(frontier)
			if err != nil {
				return common.VersionedValue{}, err
			}
			resolved = merged
		} else {
			resolved = lastWriterWins(frontier)
		}
	}
	merged := clock.New()
	for _, version := range frontier {
		merged.Merge(version.Clock)
	}
	resolved.Clock = merged
	return resolved, nil
}

// Frontier returns the causal frontier: the subset of versions not dominated
// by any other version. Versions with equal clocks are collapsed to one.
func Frontier(versions []common.VersionedValue) []common.VersionedValue {
	var frontier []common.VersionedValue
	for i, candidate := range versions {
		dominated := false
		for j, other := range versions {
			if i == j {
				continue
			}
			rel := candidate.Clock.Compare(other.Clock)
			if rel == clock.Before || (rel == clock.Equal && j < i) {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, candidate)
		}
	}
	return frontier
}

// lastWriterWins picks the version with the highest timestamp. Equal
// timestamps are broken by writer ID byte order (the higher writer wins),
// so every replica resolves the same conflict identically.
func lastWriterWins(frontier []common.VersionedValue) common.VersionedValue {
	winner := frontier[0]
	for _, version := range frontier[1:] {
		if version.Timestamp > winner.Timestamp {
			winner = version
		} else if version.Timestamp == winner.Timestamp &&
			bytes.Compare(version.Writer[:], winner.Writer[:]) > 0 {
			winner = version
		}
	}
	return winner
}
