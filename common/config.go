package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ServerAddress represents a network address of a cluster node (hostname:port)
type ServerAddress string

// Server identifies one member of a cluster.
type Server struct {
	ID         uuid.UUID
	NetAddress ServerAddress
}

// ClusterConfig specifies configuration information related to a raft
// cluster. This includes tunable properties of the Raft protocol itself
// such as different timeouts. It is supplied at construction and never
// mutated afterwards.
type ClusterConfig struct {
	Cluster          []Server
	HeartBeatTimeout time.Duration
	ElectionTimeout  time.Duration
	// ProposeTimeout bounds how long a client proposal waits for majority
	// commit before being reported as failed (the entry may still commit).
	ProposeTimeout time.Duration
}

// DefaultProposeTimeout is used when ClusterConfig.ProposeTimeout is zero.
const DefaultProposeTimeout = 10 * time.Second

// Validate rejects configurations that cannot sustain a stable leader.
// The heartbeat interval must be strictly shorter than the election timeout,
// otherwise followers time out between heartbeats and elections never settle.
func (config ClusterConfig) Validate() error {
	if len(config.Cluster) == 0 {
		return fmt.Errorf("cluster membership list is empty")
	}
	if config.ElectionTimeout <= 0 || config.HeartBeatTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive (election=%v, heartbeat=%v)",
			config.ElectionTimeout, config.HeartBeatTimeout)
	}
	if config.HeartBeatTimeout >= config.ElectionTimeout {
		return fmt.Errorf("heartbeat timeout (%v) must be strictly less than election timeout (%v)",
			config.HeartBeatTimeout, config.ElectionTimeout)
	}
	seen := make(map[uuid.UUID]bool)
	for _, server := range config.Cluster {
		if seen[server.ID] {
			return fmt.Errorf("duplicate server ID %v in cluster", server.ID)
		}
		seen[server.ID] = true
	}
	return nil
}
