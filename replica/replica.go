// Package replica implements the storage node of the tunable-consistency
// path. A replica holds versioned values for the keys assigned to it and
// serves quorum reads and writes issued by coordinators.
package replica

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/tunakv/tunakv/clock"
	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/conflict"
)

// Replica accepts versioned writes and serves versioned reads. It never
// coordinates: quorum assembly, reconciliation of divergent reads and read
// repair all happen at the coordinator. The replica's only judgement call
// is whether an incoming version supersedes the one it already holds.
type Replica struct {
	MyID     uuid.UUID
	Store    common.ValueStore
	Resolver conflict.Resolver
	Manager  common.RPCManager

	Mutex  sync.Mutex
	logger zerolog.Logger

	// Testing primitives
	Disconnected bool
}

var _ common.ReplicaServer = &Replica{}

func NewReplica(me common.Server, store common.ValueStore, resolver conflict.Resolver, manager common.RPCManager) (*Replica, error) {
	replica := &Replica{
		MyID:     me.ID,
		Store:    store,
		Resolver: resolver,
		Manager:  manager,
		logger:   common.NewLogger("replica").With().Stringer("node", me.ID).Logger(),
	}
	go func() {
		if err := manager.Start(me.NetAddress, replica); err != nil {
			replica.logger.Error().Err(err).Msg("failed to start RPC server")
		}
	}()
	replica.logger.Info().Msg("initialization complete")
	return replica, nil
}

func (replica *Replica) GetID() uuid.UUID {
	return replica.MyID
}

// ReplicaWrite stores the incoming version unless the replica already holds
// a causally newer one. Older incoming versions are acknowledged without
// being stored (the write already happened from the cluster's point of
// view); concurrent ones are reconciled so the replica converges instead of
// flip-flopping between siblings.
func (replica *Replica) ReplicaWrite(args *common.ReplicaWriteRPC, result *common.ReplicaWriteRPCResult) error {
	if replica.Disconnected {
		return fmt.Errorf("%v is disconnected", replica.MyID)
	}
	replica.Mutex.Lock()
	defer replica.Mutex.Unlock()
	existing, err := replica.Store.Get(args.Key)
	if err != nil {
		result.Error = err.Error()
		return nil
	}
	if existing == nil {
		if err := replica.Store.Put(args.Key, args.Version); err != nil {
			result.Error = err.Error()
			return nil
		}
		result.Ack = true
		return nil
	}
	switch existing.Clock.Compare(args.Version.Clock) {
	case clock.After:
		// stale write, nothing to store
	case clock.Before, clock.Equal:
		if err := replica.Store.Put(args.Key, args.Version); err != nil {
			result.Error = err.Error()
			return nil
		}
	case clock.Concurrent:
		resolved, err := replica.Resolver.Resolve([]common.VersionedValue{*existing, args.Version})
		if err != nil {
			result.Error = err.Error()
			return nil
		}
		if err := replica.Store.Put(args.Key, resolved); err != nil {
			result.Error = err.Error()
			return nil
		}
	}
	result.Ack = true
	return nil
}

func (replica *Replica) ReplicaRead(args *common.ReplicaReadRPC, result *common.ReplicaReadRPCResult) error {
	if replica.Disconnected {
		return fmt.Errorf("%v is disconnected", replica.MyID)
	}
	replica.Mutex.Lock()
	defer replica.Mutex.Unlock()
	version, err := replica.Store.Get(args.Key)
	if err != nil {
		result.Error = err.Error()
		return nil
	}
	if version != nil {
		result.Found = true
		result.Version = *version
	}
	return nil
}

// Stop stops the replica permanently. No method should be called afterwards.
func (replica *Replica) Stop() error {
	replica.Mutex.Lock()
	managerErr := replica.Manager.Stop()
	storeErr := replica.Store.Close()
	replica.logger.Info().Msg("shutdown")
	return multierr.Combine(managerErr, storeErr)
}

// Disconnect creates an artificial network partition separating this
// replica from its coordinators. Reconnect heals it.
func (replica *Replica) Disconnect() {
	replica.Disconnected = true
	replica.Manager.Disconnect()
}

func (replica *Replica) Reconnect() {
	replica.Disconnected = false
	replica.Manager.Reconnect()
}
