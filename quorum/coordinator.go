package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tunakv/tunakv/clock"
	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/conflict"
)

// Coordinator fans client operations out to the replica group and collects
// quorum acknowledgements. It is stateless apart from its identity; any node
// can coordinate any request, and several coordinators may serve the same
// replica group concurrently. Divergence produced by concurrent coordinators
// is reconciled at read time and pushed back to stale replicas (read repair).
type Coordinator struct {
	Config   Config
	Self     uuid.UUID
	Replicas []common.ReplicaServer
	Resolver conflict.Resolver

	logger zerolog.Logger
}

func NewCoordinator(config Config, self uuid.UUID, replicas []common.ReplicaServer, resolver conflict.Resolver) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(replicas) != config.N {
		return nil, fmt.Errorf("replica group size %d does not match replication factor N=%d",
			len(replicas), config.N)
	}
	return &Coordinator{
		Config:   config,
		Self:     self,
		Replicas: replicas,
		Resolver: resolver,
		logger:   common.NewLogger("quorum").With().Stringer("coordinator", self).Logger(),
	}, nil
}

// Write stores a new version of the key on at least W replicas. The new
// version's clock extends prior (the causal context the client last
// observed for this key) by one tick of this coordinator. The returned
// clock is the version actually stored and becomes the client's new causal
// context.
func (c *Coordinator) Write(ctx context.Context, key string, value []byte, prior clock.VectorClock) (clock.VectorClock, error) {
	version := common.VersionedValue{
		Value:     value,
		Clock:     c.nextClock(prior),
		Timestamp: time.Now().UnixNano(),
		Writer:    c.Self,
	}
	if err := c.replicate(ctx, key, version, c.Config.W); err != nil {
		return nil, err
	}
	return version.Clock, nil
}

// Delete removes the key by replicating a tombstone. Tombstones travel the
// same quorum path as writes so that reads agree on the deletion even when
// some replicas still hold the old value.
func (c *Coordinator) Delete(ctx context.Context, key string, prior clock.VectorClock) (clock.VectorClock, error) {
	version := common.VersionedValue{
		Clock:     c.nextClock(prior),
		Timestamp: time.Now().UnixNano(),
		Writer:    c.Self,
		Tombstone: true,
	}
	if err := c.replicate(ctx, key, version, c.Config.W); err != nil {
		return nil, err
	}
	return version.Clock, nil
}

type readReply struct {
	replica common.ReplicaServer
	found   bool
	version common.VersionedValue
	err     error
}

// Read collects the key's versions from at least R replicas, reconciles
// them into a single version and returns it. Replicas observed to be stale
// are repaired asynchronously; the read itself never waits for repair.
// Absent and deleted keys yield common.ErrNotFound.
func (c *Coordinator) Read(ctx context.Context, key string) (common.VersionedValue, error) {
	replies := make(chan readReply, len(c.Replicas))
	for _, replica := range c.Replicas {
		replica := replica
		go func() {
			var result common.ReplicaReadRPCResult
			err := replica.ReplicaRead(&common.ReplicaReadRPC{Key: key}, &result)
			if err == nil && result.Error != "" {
				err = errors.New(result.Error)
			}
			replies <- readReply{
				replica: replica,
				found:   result.Found,
				version: result.Version,
				err:     err,
			}
		}()
	}

	var responded []readReply
	failures := 0
	for len(responded) < c.Config.R {
		select {
		case reply := <-replies:
			if reply.err != nil {
				failures++
				c.logger.Debug().Err(reply.err).Str("key", key).Msg("replica read failed")
				if failures > c.Config.N-c.Config.R {
					return common.VersionedValue{}, fmt.Errorf(
						"read quorum for key %q unreachable (%d of %d replicas failed): %w",
						key, failures, c.Config.N, common.ErrQuorumUnavailable)
				}
				continue
			}
			responded = append(responded, reply)
		case <-ctx.Done():
			return common.VersionedValue{}, fmt.Errorf(
				"read quorum for key %q not assembled: %v: %w",
				key, ctx.Err(), common.ErrQuorumUnavailable)
		}
	}

	var versions []common.VersionedValue
	for _, reply := range responded {
		if reply.found {
			versions = append(versions, reply.version)
		}
	}
	if len(versions) == 0 {
		return common.VersionedValue{}, fmt.Errorf("key %q: %w", key, common.ErrNotFound)
	}
	resolved, err := c.Resolver.Resolve(versions)
	if err != nil {
		return common.VersionedValue{}, fmt.Errorf("resolving versions of key %q: %w", key, err)
	}

	c.repairStale(key, resolved, responded)

	if resolved.Tombstone {
		return common.VersionedValue{}, fmt.Errorf("key %q deleted: %w", key, common.ErrNotFound)
	}
	return resolved, nil
}

// nextClock derives the clock of a new version from the client's causal
// context: extend what was last observed by one tick of this coordinator.
func (c *Coordinator) nextClock(prior clock.VectorClock) clock.VectorClock {
	next := prior.Copy()
	next.Increment(c.Self)
	return next
}

// replicate fans the version out to all replicas and waits for the first
// `needed` acknowledgements. Remaining replicas keep receiving the write in
// the background; sloppy stragglers converge through read repair.
func (c *Coordinator) replicate(ctx context.Context, key string, version common.VersionedValue, needed int) error {
	request := common.ReplicaWriteRPC{Key: key, Version: version}
	acks := make(chan error, len(c.Replicas))
	for _, replica := range c.Replicas {
		replica := replica
		go func() {
			var result common.ReplicaWriteRPCResult
			err := replica.ReplicaWrite(&request, &result)
			if err == nil && !result.Ack {
				err = errors.New(result.Error)
			}
			acks <- err
		}()
	}

	acked, failures := 0, 0
	for acked < needed {
		select {
		case err := <-acks:
			if err != nil {
				failures++
				c.logger.Debug().Err(err).Str("key", key).Msg("replica write failed")
				if failures > c.Config.N-needed {
					return fmt.Errorf(
						"write quorum for key %q unreachable (%d of %d replicas failed): %w",
						key, failures, c.Config.N, common.ErrQuorumUnavailable)
				}
				continue
			}
			acked++
		case <-ctx.Done():
			return fmt.Errorf("write quorum for key %q not assembled: %v: %w",
				key, ctx.Err(), common.ErrQuorumUnavailable)
		}
	}
	return nil
}

// repairStale pushes the reconciled version to every responder whose
// version does not already dominate or equal it. Repair is fire-and-forget:
// failures are only logged, the next read repairs again.
func (c *Coordinator) repairStale(key string, resolved common.VersionedValue, responded []readReply) {
	request := common.ReplicaWriteRPC{Key: key, Version: resolved, Repair: true}
	for _, reply := range responded {
		stale := !reply.found
		if reply.found {
			rel := reply.version.Clock.Compare(resolved.Clock)
			stale = rel == clock.Before || rel == clock.Concurrent
		}
		if !stale {
			continue
		}
		replica := reply.replica
		go func() {
			var result common.ReplicaWriteRPCResult
			if err := replica.ReplicaWrite(&request, &result); err != nil {
				c.logger.Debug().Err(err).Str("key", key).
					Stringer("replica", replica.GetID()).Msg("read repair failed")
			}
		}()
	}
}
