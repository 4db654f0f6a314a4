package kvstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tunakv/tunakv/clock"
	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/conflict"
	"github.com/tunakv/tunakv/quorum"
)

// Mode selects which replication path a ReplicatedStore operates on.
type Mode int

const (
	// ModeStrong serves every operation through the consensus log:
	// linearizable, unavailable without a majority.
	ModeStrong Mode = iota
	// ModeTunable serves operations through quorum reads and writes:
	// availability and latency tuned via R and W, divergence reconciled
	// with vector clocks.
	ModeTunable
)

func (m Mode) String() string {
	switch m {
	case ModeStrong:
		return "strong"
	case ModeTunable:
		return "tunable"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ReplicatedStore is the single client-facing facade over both replication
// paths. Operations look identical in either mode; the returned
// VersionToken identifies the version observed or produced (a committed
// log index in strong mode, a vector clock in tunable mode).
//
// In tunable mode the store keeps a per-key causal session: every read
// remembers the observed clock and every write extends it, so a client
// always observes its own writes through the same store handle.
type ReplicatedStore struct {
	mode        Mode
	strong      *KVStore
	coordinator *quorum.Coordinator

	mu     sync.Mutex
	causal map[string]clock.VectorClock

	logger zerolog.Logger
}

// NewStrongStore opens a store handle backed by the consensus cluster.
func NewStrongStore(servers []common.Server, manager common.RPCManager) (*ReplicatedStore, error) {
	strong, err := NewKeyValStore(servers, manager)
	if err != nil {
		return nil, err
	}
	return &ReplicatedStore{
		mode:   ModeStrong,
		strong: strong,
		logger: common.NewLogger("store").With().Stringer("mode", ModeStrong).Logger(),
	}, nil
}

// NewTunableStore opens a store handle backed by a quorum replica group.
func NewTunableStore(config quorum.Config, self uuid.UUID, replicas []common.ReplicaServer, resolver conflict.Resolver) (*ReplicatedStore, error) {
	coordinator, err := quorum.NewCoordinator(config, self, replicas, resolver)
	if err != nil {
		return nil, err
	}
	return &ReplicatedStore{
		mode:        ModeTunable,
		coordinator: coordinator,
		causal:      make(map[string]clock.VectorClock),
		logger:      common.NewLogger("store").With().Stringer("mode", ModeTunable).Logger(),
	}, nil
}

func (store *ReplicatedStore) Mode() Mode {
	return store.mode
}

// Write stores value under key and returns the token of the version it
// produced.
func (store *ReplicatedStore) Write(ctx context.Context, key string, value []byte) (common.VersionToken, error) {
	switch store.mode {
	case ModeStrong:
		if err := ctx.Err(); err != nil {
			return common.VersionToken{}, err
		}
		_, index, err := store.strong.Set(key, string(value))
		return common.VersionToken{Index: index}, err
	case ModeTunable:
		written, err := store.coordinator.Write(ctx, key, value, store.context(key))
		if err != nil {
			return common.VersionToken{}, err
		}
		store.observe(key, written)
		return common.VersionToken{Clock: written}, nil
	}
	return common.VersionToken{}, fmt.Errorf("unknown mode %v", store.mode)
}

// Read returns the value under key and the token of the version it
// observed. Absent keys yield common.ErrNotFound.
func (store *ReplicatedStore) Read(ctx context.Context, key string) ([]byte, common.VersionToken, error) {
	switch store.mode {
	case ModeStrong:
		if err := ctx.Err(); err != nil {
			return nil, common.VersionToken{}, err
		}
		_, val, err := store.strong.Get(key)
		if err != nil {
			return nil, common.VersionToken{}, mapAbsent(key, err)
		}
		return []byte(val), common.VersionToken{}, nil
	case ModeTunable:
		version, err := store.coordinator.Read(ctx, key)
		if err != nil {
			return nil, common.VersionToken{}, err
		}
		store.observe(key, version.Clock)
		return version.Value, common.VersionToken{Clock: version.Clock}, nil
	}
	return nil, common.VersionToken{}, fmt.Errorf("unknown mode %v", store.mode)
}

// Delete removes key. Deleting an absent key is an error on the strong path
// (the log records the failed command) and indistinguishable from success
// on the tunable path (the tombstone wins either way).
func (store *ReplicatedStore) Delete(ctx context.Context, key string) (common.VersionToken, error) {
	switch store.mode {
	case ModeStrong:
		if err := ctx.Err(); err != nil {
			return common.VersionToken{}, err
		}
		_, index, err := store.strong.Del(key)
		if err != nil {
			return common.VersionToken{}, mapAbsent(key, err)
		}
		return common.VersionToken{Index: index}, nil
	case ModeTunable:
		written, err := store.coordinator.Delete(ctx, key, store.context(key))
		if err != nil {
			return common.VersionToken{}, err
		}
		store.observe(key, written)
		return common.VersionToken{Clock: written}, nil
	}
	return common.VersionToken{}, fmt.Errorf("unknown mode %v", store.mode)
}

// context returns the causal context this session last observed for key.
func (store *ReplicatedStore) context(key string) clock.VectorClock {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.causal[key].Copy()
}

// observe folds a version's clock into the session's causal context so that
// later writes supersede everything this session has seen.
func (store *ReplicatedStore) observe(key string, observed clock.VectorClock) {
	store.mu.Lock()
	defer store.mu.Unlock()
	merged := store.causal[key].Copy()
	merged.Merge(observed)
	store.causal[key] = merged
}

// mapAbsent converts the FSM's absent-key error into the store's sentinel
// so both modes report missing keys the same way.
func mapAbsent(key string, err error) error {
	if strings.Contains(err.Error(), "key does not exist") {
		return fmt.Errorf("key %q: %w", key, common.ErrNotFound)
	}
	return err
}
